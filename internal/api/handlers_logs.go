package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/history"
)

// ListLogs handles GET /sync/logs with the filters of parseLogFilter plus
// page and limit.
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, verr := parseLogFilter(q)
	page, limit := parsePaging(q, verr)
	if verr.HasViolations() {
		h.writeValidation(w, verr)
		return
	}

	res, err := h.history.Query(r.Context(), filter, page, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writePage(w, res.Items, res.Pagination)
}

// LogStatistics handles GET /sync/logs/statistics with the ListLogs filters.
func (h *Handlers) LogStatistics(w http.ResponseWriter, r *http.Request) {
	filter, verr := parseLogFilter(r.URL.Query())
	if verr.HasViolations() {
		h.writeValidation(w, verr)
		return
	}
	stats, err := h.history.Statistics(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, stats)
}

// ListLogRecords handles GET /sync/logs/{logId}/records?page&limit
func (h *Handlers) ListLogRecords(w http.ResponseWriter, r *http.Request) {
	verr := errors.NewValidationError("records query")
	page, limit := parsePaging(r.URL.Query(), verr)
	if verr.HasViolations() {
		h.writeValidation(w, verr)
		return
	}
	res, err := h.history.Records(r.Context(), urlParam(r, "logId"), page, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writePage(w, res.Items, res.Pagination)
}

// parseLogFilter reads status, dataSourceId, from, to, minRecords,
// maxRecords, minDuration, maxDuration and hasErrors. Timestamps are RFC
// 3339. Every malformed parameter is reported.
func parseLogFilter(q url.Values) (history.Filter, *errors.ValidationError) {
	verr := errors.NewValidationError("log query")
	f := history.Filter{
		Status:       history.Status(q.Get("status")),
		DataSourceID: q.Get("dataSourceId"),
	}
	if f.Status != "" && !f.Status.Valid() {
		verr.Addf("status", "unknown status %q", f.Status)
	}
	f.From = parseTime(q, "from", verr)
	f.To = parseTime(q, "to", verr)
	f.MinRecords = parseInt(q, "minRecords", verr)
	f.MaxRecords = parseInt(q, "maxRecords", verr)
	f.MinDuration = parseFloat(q, "minDuration", verr)
	f.MaxDuration = parseFloat(q, "maxDuration", verr)
	if raw := q.Get("hasErrors"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			verr.Addf("hasErrors", "must be a boolean, got %q", raw)
		} else {
			f.HasErrors = &b
		}
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		verr.Add("from", "must not be after to")
	}
	return f, verr
}

// parsePaging reads page and limit. Out of range values are normalized by
// the store; only non-numbers are rejected.
func parsePaging(q url.Values, verr *errors.ValidationError) (page, limit int) {
	if p := parseInt(q, "page", verr); p != nil {
		page = *p
	}
	if l := parseInt(q, "limit", verr); l != nil {
		limit = *l
	}
	return page, limit
}

func parseTime(q url.Values, key string, verr *errors.ValidationError) *time.Time {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		verr.Addf(key, "must be an RFC 3339 timestamp, got %q", raw)
		return nil
	}
	return &t
}

func parseInt(q url.Values, key string, verr *errors.ValidationError) *int {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		verr.Addf(key, "must be an integer, got %q", raw)
		return nil
	}
	return &n
}

func parseFloat(q url.Values, key string, verr *errors.ValidationError) *float64 {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		verr.Addf(key, "must be a number, got %q", raw)
		return nil
	}
	return &f
}

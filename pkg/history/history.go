// Package history records completed sync attempts. The log is append-only:
// entries are written once when a queue item finishes and never changed.
package history

import (
	"context"
	"math"
	"time"

	"github.com/ajitpratap0/datasync/pkg/errors"
)

// Status is the outcome of a logged sync.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s == StatusSuccess || s == StatusFailed }

// Entry is one completed (or failed) sync attempt.
type Entry struct {
	ID              string                   `json:"id" db:"id"`
	DataSourceID    string                   `json:"dataSourceId" db:"data_source_id"`
	QueueItemID     string                   `json:"queueItemId,omitempty" db:"queue_item_id"`
	Status          Status                   `json:"status" db:"status"`
	RunTimestamp    time.Time                `json:"runTimestamp" db:"run_timestamp"`
	DurationSeconds float64                  `json:"durationSeconds" db:"duration_seconds"`
	RecordCount     int                      `json:"recordCount" db:"record_count"`
	Message         string                   `json:"message,omitempty" db:"message"`
	Records         []map[string]interface{} `json:"records,omitempty" db:"-"`
}

// Validate checks the fields every entry must carry.
func (e *Entry) Validate() error {
	verr := errors.NewValidationError("sync log entry")
	if e.DataSourceID == "" {
		verr.Add("dataSourceId", "is required")
	}
	if !e.Status.Valid() {
		verr.Addf("status", "unknown status %q", e.Status)
	}
	if e.RunTimestamp.IsZero() {
		verr.Add("runTimestamp", "is required")
	}
	if e.DurationSeconds < 0 {
		verr.Add("durationSeconds", "cannot be negative")
	}
	if e.RecordCount < 0 {
		verr.Add("recordCount", "cannot be negative")
	}
	return verr.OrNil()
}

// Filter narrows Query and Statistics. Nil and zero fields match everything.
type Filter struct {
	Status       Status
	DataSourceID string
	From         *time.Time
	To           *time.Time
	MinRecords   *int
	MaxRecords   *int
	MinDuration  *float64
	MaxDuration  *float64
	// HasErrors selects failed entries when true and successful ones when false.
	HasErrors *bool
}

// Matches reports whether e passes the filter. From and To are inclusive.
func (f Filter) Matches(e *Entry) bool {
	switch {
	case f.Status != "" && e.Status != f.Status:
		return false
	case f.DataSourceID != "" && e.DataSourceID != f.DataSourceID:
		return false
	case f.From != nil && e.RunTimestamp.Before(*f.From):
		return false
	case f.To != nil && e.RunTimestamp.After(*f.To):
		return false
	case f.MinRecords != nil && e.RecordCount < *f.MinRecords:
		return false
	case f.MaxRecords != nil && e.RecordCount > *f.MaxRecords:
		return false
	case f.MinDuration != nil && e.DurationSeconds < *f.MinDuration:
		return false
	case f.MaxDuration != nil && e.DurationSeconds > *f.MaxDuration:
		return false
	case f.HasErrors != nil && (e.Status == StatusFailed) != *f.HasErrors:
		return false
	}
	return true
}

const (
	// DefaultLimit is used when a caller passes limit < 1.
	DefaultLimit = 20
	// MaxLimit caps a single page.
	MaxLimit = 500
)

// Pagination describes one page of a larger result. Pages are 1-indexed.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination normalizes page and limit and computes TotalPages.
func NewPagination(page, limit, total int) Pagination {
	page, limit = NormalizePage(page, limit)
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
}

// Offset is the index of the first item on the page.
func (p Pagination) Offset() int { return (p.Page - 1) * p.Limit }

// Bounds returns the slice bounds of the page within total items.
func (p Pagination) Bounds() (start, end int) {
	start = p.Offset()
	if start > p.Total {
		start = p.Total
	}
	end = start + p.Limit
	if end > p.Total {
		end = p.Total
	}
	return start, end
}

// NormalizePage coerces page < 1 to 1 and limit < 1 to DefaultLimit.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// Page is one page of log entries, newest first.
type Page struct {
	Items []Entry `json:"items"`
	Pagination
}

// RecordPage is one page of the sample records kept with an entry.
type RecordPage struct {
	Items []map[string]interface{} `json:"items"`
	Pagination
}

// Stats summarizes the entries matching a filter.
type Stats struct {
	Total              int     `json:"total"`
	Success            int     `json:"success"`
	Failed             int     `json:"failed"`
	TotalRecords       int     `json:"totalRecords"`
	AvgDurationSeconds float64 `json:"avgDurationSeconds"`
	SuccessRatePct     float64 `json:"successRatePct"`
}

// NewStats derives averages from sums. An empty set yields zeros.
func NewStats(total, success, failed, totalRecords int, totalDuration float64) Stats {
	s := Stats{Total: total, Success: success, Failed: failed, TotalRecords: totalRecords}
	if total > 0 {
		s.AvgDurationSeconds = round2(totalDuration / float64(total))
		s.SuccessRatePct = round2(float64(success) * 100 / float64(total))
	}
	return s
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

// Store is the append-only sync log.
type Store interface {
	// Append stores e, assigning an id when empty. It returns once the entry
	// is visible to Query.
	Append(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	// Query returns matching entries newest first. Items carry no records.
	Query(ctx context.Context, filter Filter, page, limit int) (Page, error)
	Statistics(ctx context.Context, filter Filter) (Stats, error)
	Records(ctx context.Context, id string, page, limit int) (RecordPage, error)
}

package api

import (
	"net/http"

	"github.com/ajitpratap0/datasync/pkg/batch"
	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/queue"
)

type batchRequest struct {
	DataSourceIDs []string `json:"dataSourceIds"`
}

func (req batchRequest) validate() error {
	verr := errors.NewValidationError("batch request")
	switch n := len(req.DataSourceIDs); {
	case n == 0:
		verr.Add("dataSourceIds", "must not be empty")
	case n > batch.MaxBatchSize:
		verr.Addf("dataSourceIds", "at most %d ids per batch, got %d", batch.MaxBatchSize, n)
	}
	for i, id := range req.DataSourceIDs {
		if id == "" {
			verr.Addf("dataSourceIds", "id at index %d is empty", i)
		}
	}
	return verr.OrNil()
}

// testResult is the outcome of a single connection test.
type testResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TestDataSource handles POST /data-sources/{id}/test. A source that cannot
// be reached is a failed result, not an HTTP error.
func (h *Handlers) TestDataSource(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	err := h.batch.TestOne(r.Context(), id)
	switch {
	case err == nil:
		h.writeData(w, http.StatusOK, testResult{ID: id, Success: true})
	case errors.IsType(err, errors.ErrorTypeConnection):
		h.writeData(w, http.StatusOK, testResult{ID: id, Error: err.Error()})
	default:
		h.writeDomainError(w, r, err)
	}
}

// TestBatch handles POST /test/batch {dataSourceIds}
func (h *Handlers) TestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res := h.batch.TestMany(r.Context(), req.DataSourceIDs)
	h.observeBatch("test", res)
	h.writeData(w, http.StatusOK, res)
}

type syncAccepted struct {
	DataSourceID  string       `json:"dataSourceId"`
	QueueItemID   string       `json:"queueItemId"`
	Status        queue.Status `json:"status,omitempty"`
	AlreadyQueued bool         `json:"alreadyQueued"`
}

// SyncDataSource handles POST /data-sources/{id}/sync. The sync runs in the
// background; poll /sync/queue for its progress. Asking again while a sync
// is queued or running returns that item instead of starting another.
func (h *Handlers) SyncDataSource(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	itemID, err := h.batch.SyncOne(r.Context(), id)
	var conflict *errors.QueueConflictError
	switch {
	case errors.As(err, &conflict):
		res := syncAccepted{DataSourceID: id, QueueItemID: conflict.ItemID, AlreadyQueued: true}
		if it, ok := h.queue.Active(id); ok && it.ID == conflict.ItemID {
			res.Status = it.Status
		}
		h.writeData(w, http.StatusAccepted, res)
	case err != nil:
		h.writeDomainError(w, r, err)
	default:
		h.writeData(w, http.StatusAccepted, syncAccepted{DataSourceID: id, QueueItemID: itemID, Status: queue.StatusQueued})
	}
}

// SyncBatch handles POST /sync/batch {dataSourceIds}
func (h *Handlers) SyncBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res := h.batch.SyncMany(r.Context(), req.DataSourceIDs)
	h.observeBatch("sync", res)
	h.writeData(w, http.StatusAccepted, res)
}

// ListQueue handles GET /sync/queue?status=
func (h *Handlers) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := queue.Status(r.URL.Query().Get("status"))
	items := h.queue.Snapshot()
	if status != "" {
		filtered := items[:0]
		for _, it := range items {
			if it.Status == status {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	h.writeData(w, http.StatusOK, items)
}

// ListNeedingSync handles GET /sync/needing-sync
func (h *Handlers) ListNeedingSync(w http.ResponseWriter, r *http.Request) {
	list, err := datasource.NeedingSync(r.Context(), h.sources, h.now())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, masked(list))
}

func (h *Handlers) observeBatch(operation string, res batch.Result) {
	if h.metrics != nil {
		h.metrics.ObserveBatch(operation, res.Accepted, res.Rejected)
	}
}

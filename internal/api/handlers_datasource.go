package api

import (
	"net/http"

	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
)

// ListDataSources handles GET /data-sources?moduleName=&dataSourceType=&status=
func (h *Handlers) ListDataSources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := datasource.Filter{
		ModuleName: q.Get("moduleName"),
		Type:       datasource.Type(q.Get("dataSourceType")),
		Status:     datasource.Status(q.Get("status")),
	}
	verr := errors.NewValidationError("data source filter")
	if filter.Type != "" && !filter.Type.Valid() {
		verr.Addf("dataSourceType", "unknown data source type %q", filter.Type)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		verr.Addf("status", "unknown status %q", filter.Status)
	}
	if verr.HasViolations() {
		h.writeValidation(w, verr)
		return
	}

	list, err := h.sources.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, masked(list))
}

// GetDataSource handles GET /data-sources/{id}
func (h *Handlers) GetDataSource(w http.ResponseWriter, r *http.Request) {
	ds, err := h.sources.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, ds.Masked())
}

// CreateDataSource handles POST /data-sources
func (h *Handlers) CreateDataSource(w http.ResponseWriter, r *http.Request) {
	var ds datasource.DataSource
	if !h.readJSON(w, r, &ds) {
		return
	}
	if err := h.sources.Create(r.Context(), &ds); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusCreated, ds.Masked())
}

// UpdateDataSource handles PUT /data-sources/{id}. Secrets the client sends
// back masked keep their stored value.
func (h *Handlers) UpdateDataSource(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	prev, err := h.sources.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var next datasource.DataSource
	if !h.readJSON(w, r, &next) {
		return
	}
	next.ID = id
	if next.Status == "" {
		next.Status = prev.Status
	}
	datasource.RestoreMasked(next.Config, prev.Config)

	if err := h.sources.Update(r.Context(), &next); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, next.Masked())
}

type statusRequest struct {
	Status datasource.Status `json:"status"`
}

// UpdateDataSourceStatus handles PUT /data-sources/{id}/status
func (h *Handlers) UpdateDataSourceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	id := urlParam(r, "id")
	if err := h.sources.SetStatus(r.Context(), id, req.Status); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	ds, err := h.sources.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, ds.Masked())
}

func masked(list []*datasource.DataSource) []*datasource.DataSource {
	out := make([]*datasource.DataSource, len(list))
	for i, ds := range list {
		out[i] = ds.Masked()
	}
	return out
}

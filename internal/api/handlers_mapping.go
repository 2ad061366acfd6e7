package api

import (
	"net/http"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/mapping"
)

// ListMappings handles GET /data-sources/{id}/mappings
func (h *Handlers) ListMappings(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.sources.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	rules, err := h.mappings.List(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, rules)
}

// CreateMapping handles POST /data-sources/{id}/mappings
func (h *Handlers) CreateMapping(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.sources.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var rule mapping.MappingRule
	if !h.readJSON(w, r, &rule) {
		return
	}
	rule.ID = ""
	rule.DataSourceID = id
	if err := h.mappings.Create(r.Context(), &rule); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusCreated, rule)
}

// UpdateMapping handles PUT /data-sources/{id}/mappings/{mappingId}
func (h *Handlers) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	var rule mapping.MappingRule
	if !h.readJSON(w, r, &rule) {
		return
	}
	rule.ID = urlParam(r, "mappingId")
	rule.DataSourceID = urlParam(r, "id")
	if err := h.mappings.Update(r.Context(), &rule); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, rule)
}

// DeleteMapping handles DELETE /data-sources/{id}/mappings/{mappingId}
func (h *Handlers) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	if err := h.mappings.Delete(r.Context(), urlParam(r, "id"), urlParam(r, "mappingId")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// previewRequest runs either one transformation on a sample value, or a set
// of rules on a whole record when Record is set.
type previewRequest struct {
	SourceField    string                 `json:"sourceField"`
	SampleValue    interface{}            `json:"sampleValue"`
	Transformation mapping.Transformation `json:"transformation"`

	Record map[string]interface{} `json:"record,omitempty"`
	Rules  []mapping.MappingRule  `json:"rules,omitempty"`
}

type applyResult struct {
	Result map[string]interface{} `json:"result"`
	Errors []string               `json:"errors,omitempty"`
}

// PreviewMapping handles POST /mappings/preview
func (h *Handlers) PreviewMapping(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !h.readJSON(w, r, &req) {
		return
	}

	if req.Record != nil {
		out, err := h.engine.Apply(req.Record, req.Rules)
		res := applyResult{Result: out}
		if err != nil {
			res.Errors = unwrapAll(err)
		}
		h.writeData(w, http.StatusOK, res)
		return
	}

	if req.SourceField == "" {
		verr := errors.NewValidationError("preview request")
		verr.Add("sourceField", "is required")
		h.writeValidation(w, verr)
		return
	}
	res, err := h.engine.Preview(req.SourceField, req.SampleValue, req.Transformation)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, res)
}

// unwrapAll flattens an errors.Join result into messages.
func unwrapAll(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

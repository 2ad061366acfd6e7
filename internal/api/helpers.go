package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/history"
	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/logger"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func (h *Handlers) readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.bodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		// malformed connection configs surface as field violations
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			h.writeValidation(w, verr)
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

// envelope wraps every successful response.
type envelope struct {
	Data       interface{}         `json:"data"`
	Pagination *history.Pagination `json:"pagination,omitempty"`
}

type errorResponse struct {
	Error       string                  `json:"error"`
	Fields      []errors.FieldViolation `json:"fields,omitempty"`
	QueueItemID string                  `json:"queueItemId,omitempty"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalToWriter(w, v); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handlers) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, envelope{Data: data})
}

func (h *Handlers) writePage(w http.ResponseWriter, data interface{}, p history.Pagination) {
	h.writeJSON(w, http.StatusOK, envelope{Data: data, Pagination: &p})
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

func (h *Handlers) writeValidation(w http.ResponseWriter, verr *errors.ValidationError) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Fields: verr.Violations})
}

// writeDomainError maps the error taxonomy onto status codes. Anything
// untyped is logged and reported as a generic 500.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *errors.ValidationError
	if errors.As(err, &verr) {
		h.writeValidation(w, verr)
		return
	}
	var conflict *errors.QueueConflictError
	if errors.As(err, &conflict) {
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: conflict.Error(), QueueItemID: conflict.ItemID})
		return
	}

	switch errors.TypeOf(err) {
	case errors.ErrorTypeNotFound:
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.ErrorTypeValidation:
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.ErrorTypeConflict:
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.ErrorTypeTransformation:
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.ErrorTypeConnection, errors.ErrorTypeTimeout:
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.WithContext(r.Context(), h.logger).Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"recordpad/internal/record/model"
	"recordpad/internal/record/service"
	"recordpad/pkg/logger"
	"recordpad/pkg/record"
)

// Records are served under these prefixes; the rest of the escaped path is the URI.
const (
	ResourcePrefix = "/resource/"
	ChildrenPrefix = "/children/"
)

type RecordHandler struct {
	Service *service.RecordService
}

func NewRecordHandler(service *service.RecordService) *RecordHandler {
	return &RecordHandler{Service: service}
}

func (h *RecordHandler) Commit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req record.Commit
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Service.Commit(r.Context(), req); err != nil {
		logger.Sugar.Warnf("Handler: Failed to commit document: %v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.CommitResponse{Status: "ok"})
}

// Resource serves GET /resource/{uri}. The URI is taken from the escaped
// path so that %2F inside it does not split it into segments.
func (h *RecordHandler) Resource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uri := strings.TrimPrefix(r.URL.EscapedPath(), ResourcePrefix)

	res, err := h.Service.Resolve(r.Context(), uri)
	if err != nil {
		writeLookupError(w, uri, err)
		return
	}

	if res.Location != "" {
		writeJSON(w, http.StatusSeeOther, model.RedirectResponse{Location: res.Location})
		return
	}
	writeJSON(w, http.StatusOK, model.ResourceResponse{Content: res.Record.Value})
}

// Children serves GET /children/{uri}: the records whose reference names
// the record at uri, oldest first.
func (h *RecordHandler) Children(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uri := strings.TrimPrefix(r.URL.EscapedPath(), ChildrenPrefix)

	children, err := h.Service.Children(r.Context(), uri)
	if err != nil {
		writeLookupError(w, uri, err)
		return
	}
	if children == nil {
		children = []model.Record{}
	}
	writeJSON(w, http.StatusOK, model.ChildrenResponse{Children: children})
}

func writeLookupError(w http.ResponseWriter, uri string, err error) {
	switch {
	case errors.Is(err, record.ErrInvalidURI):
		writeError(w, http.StatusBadRequest, "invalid uri")
	case errors.Is(err, record.ErrUnsupportedScheme):
		writeError(w, http.StatusBadRequest, "unsupported uri scheme")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	default:
		logger.Sugar.Errorf("Handler: Failed to resolve %s: %v", uri, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

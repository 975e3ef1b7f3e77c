package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// APIHandler exposes the command bridge over HTTP.
//
//	POST /api/invoke/{command}  {"args": {...}} -> {"html": "..."} | {"error": "..."}
//	GET  /api/commands                          -> {"commands": [...]}
type APIHandler struct {
	registry *bridge.Registry
	log      *logging.Logger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(registry *bridge.Registry, log *logging.Logger) *APIHandler {
	if log == nil {
		log = logging.Nop()
	}
	return &APIHandler{registry: registry, log: log.Component("api")}
}

// ServeHTTP handles API requests.
func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/commands":
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"commands": h.registry.Names()})
	case strings.HasPrefix(r.URL.Path, "/api/invoke/"):
		h.handleInvoke(w, r)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

func (h *APIHandler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	command := strings.TrimPrefix(r.URL.Path, "/api/invoke/")
	if command == "" || strings.Contains(command, "/") {
		writeJSONError(w, http.StatusBadRequest, "command name required")
		return
	}

	var req bridge.InvokeRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.log.Debug().Str("command", command).Err(err).Msg("rejected invoke body")
			writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	html, err := h.registry.Invoke(r.Context(), command, req.Args)
	if err != nil {
		var unknown *bridge.UnknownCommandError
		if errors.As(err, &unknown) {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, bridge.InvokeResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, bridge.InvokeResponse{HTML: html})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

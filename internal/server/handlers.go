package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/semsearch/internal/audit"
	"github.com/54b3r/semsearch/internal/ingestion"
	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req rag.SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues(string(rag.CodeInvalidArgument)).Inc()
		writeError(w, r, err)
		return
	}

	start := time.Now()
	resp, err := s.search.Search(r.Context(), req)
	outcome := string(rag.CodeOf(err))
	s.metrics.searchRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.searchDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleGetSource handles GET /api/sources/{id}.
func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toSourceResponse(src))
}

// handleReindex handles POST /api/admin/reindex. The run is synchronous; a
// failed run is reported as success=false with HTTP 200.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.indexer.TriggerReindex(r.Context(), req.SourceID)
	audit.LogSourceChange(r.Context(), logging.FromContext(r.Context()), audit.ActionReindex, req.SourceID, "", res.Outcome(err))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleRegisterSource handles POST /api/admin/sources.
func (s *Server) handleRegisterSource(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	src, err := s.registry.Register(r.Context(), req.ID, req.Location)
	audit.LogSourceChange(r.Context(), logging.FromContext(r.Context()), audit.ActionRegister,
		req.ID, ingestion.Redact(req.Location), err)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := registerResponse{Source: toSourceResponse(src)}
	if req.Reindex {
		res, err := s.indexer.TriggerReindex(r.Context(), src.ID)
		audit.LogSourceChange(r.Context(), logging.FromContext(r.Context()), audit.ActionReindex, src.ID, "", res.Outcome(err))
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Reindex = &res
		if cur, err := s.registry.Get(r.Context(), src.ID); err == nil {
			resp.Source = toSourceResponse(cur)
		}
	}
	writeJSON(w, r, http.StatusCreated, resp)
}

// handleListSources handles GET /api/admin/sources.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := listSourcesResponse{Sources: make([]sourceResponse, 0, len(sources))}
	for i := range sources {
		resp.Sources = append(resp.Sources, toSourceResponse(&sources[i]))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleDeleteSource handles DELETE /api/admin/sources/{id}.
func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.indexer.RemoveSource(r.Context(), id)
	audit.LogSourceChange(r.Context(), logging.FromContext(r.Context()), audit.ActionRemove, id, "", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSourceResponse(src *rag.Source) sourceResponse {
	return sourceResponse{
		ID:            src.ID,
		Location:      ingestion.Redact(src.Location),
		Status:        src.Status,
		LastIndexedAt: src.LastIndexedAt,
		ErrorMessage:  src.ErrorMessage,
		ChunkCount:    src.ChunkCount,
	}
}

// decodeJSON reads a bounded JSON body into v. Malformed bodies are
// reported as invalid-argument.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", rag.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: invalid request body", rag.ErrInvalidArgument)
	}
	return nil
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError maps err to its HTTP status and writes an errorResponse.
// Internal errors are logged in full and reported opaquely.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := rag.CodeOf(err)
	msg := err.Error()
	if code == rag.CodeInternal {
		logging.FromContext(r.Context()).Error("internal error", slog.Any("error", err))
		msg = "internal error"
	}
	writeJSON(w, r, httpStatus(code), errorResponse{Code: code, Message: msg})
}

// httpStatus maps an external error code to an HTTP status.
func httpStatus(code rag.Code) int {
	switch code {
	case rag.CodeOK:
		return http.StatusOK
	case rag.CodeInvalidArgument:
		return http.StatusBadRequest
	case rag.CodePermissionDenied:
		return http.StatusForbidden
	case rag.CodeNotFound:
		return http.StatusNotFound
	case rag.CodeAlreadyExists, rag.CodeConflict:
		return http.StatusConflict
	case rag.CodeUnavailable:
		return http.StatusServiceUnavailable
	case rag.CodeDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ntealan/genaiti"
	"github.com/ntealan/genaiti/chain"
	"github.com/ntealan/genaiti/export"
	"github.com/ntealan/genaiti/session"
	"github.com/ntealan/genaiti/store"
	"github.com/ntealan/genaiti/validate"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type handler struct {
	assistant  *genaiti.Assistant
	logger     *zap.Logger
	askTimeout time.Duration
}

func newHandler(a *genaiti.Assistant, logger *zap.Logger) *handler {
	return &handler{assistant: a, logger: logger, askTimeout: 3 * time.Minute}
}

type askRequest struct {
	Question  string `json:"question" validate:"required"`
	SessionID string `json:"session_id,omitempty"`
}

type sessionResponse struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Settings  session.Settings `json:"settings"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{ID: s.ID(), CreatedAt: s.CreatedAt(), Settings: s.Settings()}
}

// POST /ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := req.SessionID
	if id == "" {
		id = genaiti.DefaultSession
	}
	h.ask(w, r, req.Question, id)
}

// POST /sessions/{id}/ask
func (h *handler) handleSessionAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.ask(w, r, req.Question, chi.URLParam(r, "id"))
}

func (h *handler) ask(w http.ResponseWriter, r *http.Request, question, sessionID string) {
	xlsx := r.URL.Query().Get("format") == "xlsx"
	if xlsx {
		// only direct runs carry rows
		s, err := h.assistant.Sessions().Get(r.Context(), sessionID)
		if err != nil {
			status, msg := askErrorStatus(err)
			writeError(w, status, msg)
			return
		}
		if !s.Settings().ReturnDirect {
			writeError(w, http.StatusBadRequest, "xlsx export needs a session with return_direct")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.askTimeout)
	defer cancel()

	res, err := h.assistant.Ask(ctx, question, genaiti.InSession(sessionID))
	if err != nil {
		status, msg := askErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("server: ask failed", zap.String("question", question), zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}

	if xlsx {
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+res.RunID.String()+`.xlsx"`)
		if err := export.WriteXLSX(w, res.Rows); err != nil {
			h.logger.Error("server: writing xlsx", zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func askErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chain.ErrEmptyQuestion):
		return http.StatusBadRequest, "question is required"
	case errors.Is(err, genaiti.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, chain.ErrGeneration):
		return http.StatusBadGateway, "text generation failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "question timed out"
	case errors.Is(err, genaiti.ErrClosed):
		return http.StatusServiceUnavailable, "assistant is shutting down"
	default:
		return http.StatusInternalServerError, "question failed"
	}
}

// POST /sessions
// The body holds settings overriding the configured defaults; it may be
// empty.
func (h *handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	settings := h.assistant.Config().Session
	if !decodeOptional(w, r, &settings) {
		return
	}

	s, err := h.assistant.Sessions().Create(r.Context(), settings)
	if err != nil {
		h.settingsError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

// GET /sessions
func (h *handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	live := h.assistant.Sessions().List()
	out := make([]sessionResponse, 0, len(live))
	for _, s := range live {
		out = append(out, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// GET /sessions/{id}
func (h *handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.assistant.Sessions().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// PUT /sessions/{id}/settings
// Fields absent from the body keep their current value.
func (h *handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.assistant.Sessions().Get(r.Context(), id)
	if err != nil {
		h.sessionError(w, err)
		return
	}

	settings := s.Settings()
	if !decodeOptional(w, r, &settings) {
		return
	}
	s, err = h.assistant.Sessions().Update(r.Context(), id, settings)
	if err != nil {
		h.settingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// GET /sessions/{id}/transcript
func (h *handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.assistant.Sessions().Get(r.Context(), id); err != nil {
		h.sessionError(w, err)
		return
	}
	msgs, err := h.assistant.Sessions().Transcript(r.Context(), id)
	if err != nil {
		h.logger.Error("server: reading transcript", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// GET /sessions/{id}/history?limit=n
func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	runs, err := h.assistant.Sessions().History(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("server: reading history", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GET /related?q=...&k=5
func (h *handler) handleRelated(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := 5
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 50 {
			writeError(w, http.StatusBadRequest, "k must be between 1 and 50")
			return
		}
		k = n
	}
	runs, err := h.assistant.Sessions().Related(r.Context(), q, k)
	if errors.Is(err, session.ErrNoHistory) {
		writeError(w, http.StatusNotFound, "the run log is disabled")
		return
	}
	if err != nil {
		h.logger.Error("server: finding related runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to find related runs")
		return
	}
	if runs == nil {
		runs = []store.RelatedRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// DELETE /sessions/{id}
func (h *handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == genaiti.DefaultSession {
		writeError(w, http.StatusBadRequest, "the default session cannot be deleted")
		return
	}
	if err := h.assistant.Sessions().Close(r.Context(), id); err != nil {
		h.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /schema
// ?format=json returns the unfiltered description read from the graph.
func (h *handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "json" {
		desc, err := h.assistant.Describe(r.Context())
		if err != nil {
			h.logger.Error("server: reading schema", zap.Error(err))
			writeError(w, http.StatusBadGateway, "failed to read graph schema")
			return
		}
		writeJSON(w, http.StatusOK, desc)
		return
	}

	text, err := h.assistant.Schema(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read schema")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"schema": text})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *handler) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, genaiti.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.logger.Error("server: session lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "session lookup failed")
}

// settingsError maps a failed chain build. Invalid settings and rejected
// chain configurations are the caller's fault.
func (h *handler) settingsError(w http.ResponseWriter, err error) {
	var verr session.ValidationError
	if errors.As(err, &verr) || errors.Is(err, chain.ErrConfiguration) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("server: building session failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to build session")
}

// decodeOptional decodes a JSON body over v. An empty body leaves v as is.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/metrics"
)

// restMessage is the REST wire shape of a chat message.
type restMessage struct {
	ID              string              `json:"id"`
	Role            string              `json:"role"`
	Content         string              `json:"content"`
	CreatedAt       time.Time           `json:"created_at"`
	ClientMessageID string              `json:"client_message_id,omitempty"`
	Author          string              `json:"author,omitempty"`
	QuickReplies    []domain.QuickReply `json:"quick_replies,omitempty"`
	Proposals       []domain.Proposal   `json:"proposals,omitempty"`
}

type startRequest struct {
	UserID string `json:"user_id"`
}

type startResponse struct {
	SessionID    string         `json:"session_id"`
	FirstMessage string         `json:"first_message"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type postMessageRequest struct {
	ClientMessageID string `json:"client_message_id"`
	Content         string `json:"content"`
}

type messagesResponse struct {
	Messages []restMessage `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// routes builds the HTTP router.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))
	r.Use(loggingMiddleware(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/{kind}/start", s.handleStart)
		r.Get("/conversations/{id}/messages", s.handleHistory)
		r.Post("/conversations/{id}/messages", s.handlePostMessage)
	})

	r.Get("/ws/{kind}/{sessionId}", s.handleWebSocket)

	// Fault injection for exercising client failure paths.
	r.Post("/dev/conversations/{id}/fail-next", func(w http.ResponseWriter, r *http.Request) {
		s.FailNext(chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusNoContent)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.reg.count(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseSessionKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req startRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if kind == domain.KindPlanning && req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required for planning sessions")
		return
	}

	sess := s.reg.start(kind, req.UserID)
	metrics.DevSessionsStarted.WithLabelValues(string(kind)).Inc()
	s.log.Info().Str("kind", string(kind)).Str("session", sess.id).Msg("session started")

	meta := map[string]any{"kind": string(kind)}
	if kind == domain.KindProfiling {
		meta["total_questions"] = s.questions()
	}
	writeJSON(w, http.StatusCreated, startResponse{
		SessionID:    sess.id,
		FirstMessage: firstMessage(kind),
		Metadata:     meta,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, ok := s.reg.history(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

// handlePostMessage answers a REST chat send with the user echo and one
// assistant reply.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if s.failNext(id) {
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	now := time.Now().UTC()
	echo := restMessage{
		ID:              uuid.NewString(),
		Role:            string(domain.RoleUser),
		Content:         req.Content,
		CreatedAt:       now,
		ClientMessageID: req.ClientMessageID,
	}
	answer := restMessage{
		ID:        uuid.NewString(),
		Role:      string(domain.RoleAssistant),
		Content:   "Got it: " + req.Content,
		CreatedAt: now,
	}
	s.reg.appendMessages(id, echo, answer)
	writeJSON(w, http.StatusOK, messagesResponse{Messages: []restMessage{echo, answer}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

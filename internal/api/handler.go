package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/gamerec/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Conversation answers user turns.
type Conversation interface {
	Turn(ctx context.Context, sess *session.Session, utterance string) (string, error)
	Ask(ctx context.Context, query string) (string, error)
}

// CatalogCounter reports the catalog size for /v1/status.
type CatalogCounter interface {
	CountGames(ctx context.Context) (int, error)
}

type AppDeps struct {
	Conversation Conversation
	Sessions     *session.Store
	Catalog      CatalogCounter
	Token        string
	Variant      string
	Model        string
}

// NewHandler returns the HTTP API. /health and /metrics are public; every
// /v1 route requires the bearer token.
func NewHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))
		r.Post("/recommend", handleRecommend(deps))
		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Post("/sessions/{id}/messages", handlePostMessage(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type StatusResponse struct {
	Games    int    `json:"games"`
	Sessions int    `json:"sessions"`
	Variant  string `json:"variant"`
	Model    string `json:"model"`
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		games, err := deps.Catalog.CountGames(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting games: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{
			Games:    games,
			Sessions: deps.Sessions.Count(),
			Variant:  deps.Variant,
			Model:    deps.Model,
		})
	}
}

type RecommendRequest struct {
	Query string `json:"query"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

type ReplyResponse struct {
	Reply string `json:"reply"`
}

type SessionResponse struct {
	ID    string         `json:"id"`
	Turns []session.Turn `json:"turns"`
}

func handleRecommend(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RecommendRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		reply, err := deps.Conversation.Ask(r.Context(), req.Query)
		if err != nil {
			slog.Error("recommendation failed", "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "recommendation failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ReplyResponse{Reply: reply})
	}
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := deps.Sessions.Create()
		writeJSON(w, http.StatusCreated, SessionResponse{ID: sess.ID, Turns: []session.Turn{}})
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookupSession(w, r, deps.Sessions)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{ID: sess.ID, Turns: sess.History()})
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Sessions.Delete(id); errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePostMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookupSession(w, r, deps.Sessions)
		if !ok {
			return
		}
		var req MessageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		reply, err := deps.Conversation.Turn(r.Context(), sess, req.Content)
		if err != nil {
			slog.Error("turn failed", "session", sess.ID, "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "turn failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ReplyResponse{Reply: reply})
	}
}

func lookupSession(w http.ResponseWriter, r *http.Request, store *session.Store) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, err := store.Get(id)
	if err != nil {
		httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
		return nil, false
	}
	return sess, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

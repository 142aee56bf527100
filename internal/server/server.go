// Package server HTTP 聊天接口
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liao/guide-bot/internal/config"
	"github.com/liao/guide-bot/internal/rag"
	"github.com/liao/guide-bot/internal/store"
)

// Answerer 由 *rag.Pipeline 实现
type Answerer interface {
	Answer(ctx context.Context, sessionID, query string) (*rag.Answer, error)
	Reset(ctx context.Context, sessionID string) error
}

// Pinger 健康检查
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg      config.ServerConfig
	pipeline Answerer
	store    Pinger
	validate *validator.Validate
}

func New(cfg config.ServerConfig, pipeline Answerer, s Pinger) *Server {
	return &Server{
		cfg:      cfg,
		pipeline: pipeline,
		store:    s,
		validate: validator.New(),
	}
}

type chatRequest struct {
	Query     string `json:"query" validate:"required,max=2000"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

type chatResponse struct {
	Response  string       `json:"response"`
	Sources   []rag.Source `json:"sources"`
	SessionID string       `json:"session_id"`
}

type resetRequest struct {
	SessionID string `json:"session_id" validate:"required,max=128"`
}

// Router 组装路由和中间件
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))
		}
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
		r.Post("/chat", s.handleChat)
		r.Post("/reset", s.handleReset)
	})
	return r
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'query' in request body")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'query' in request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ans, err := s.pipeline.Answer(r.Context(), req.SessionID, req.Query)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			slog.Error("store unavailable", "session", req.SessionID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "Could not connect to the database")
			return
		}
		slog.Error("chat request failed", "session", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred while processing your request")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  ans.Response,
		Sources:   ans.Sources,
		SessionID: req.SessionID,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || s.validate.Struct(&req) != nil {
		writeError(w, http.StatusBadRequest, "Missing 'session_id' in request body")
		return
	}
	if err := s.pipeline.Reset(r.Context(), req.SessionID); err != nil {
		slog.Error("reset session failed", "session", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Could not reset the session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat session reset successfully"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe 阻塞直到 ctx 结束，然后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

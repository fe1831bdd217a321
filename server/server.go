// Package server exposes the turn processor over HTTP for the voice
// transport's webhook.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
	turnx "github.com/Crohns-Kate/echo-desk-sub000/agent/turn"
)

type Config struct {
	Port            int           `split_words:"true" default:"8080"`
	ReadTimeout     time.Duration `split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `split_words:"true" default:"60s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
}

type TurnService interface {
	ProcessTurn(ctx context.Context, req contractx.TurnRequest) (contractx.TurnResult, error)
}

type Server struct {
	cfg     Config
	service TurnService
	http    *http.Server
}

func New(cfg Config, service TurnService) (*Server, error) {
	if service == nil {
		return nil, errors.New("turn service is required")
	}

	s := &Server{cfg: cfg, service: service}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.WriteTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/turn", s.handleTurn)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Run serves until the context is cancelled, then drains in-flight turns.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("webhook server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req contractx.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	result, err := s.service.ProcessTurn(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, turnx.ErrInvalidCall), errors.Is(err, turnx.ErrInvalidUtterance):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			log.Error().Err(err).Str("call_id", req.CallID).Msg("turn processing failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "turn processing failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

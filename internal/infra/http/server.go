// File: internal/infra/http/server.go
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"whisper/internal/usecase"
)

// Server exposes the operational surface: health, metrics and a
// read-only room overview. Chat traffic never touches it.
type Server struct {
	dir *usecase.Directory
	log zerolog.Logger
	srv *http.Server
}

func NewServer(port int, dir *usecase.Directory, log zerolog.Logger) *Server {
	s := &Server{
		dir: dir,
		log: log.With().Str("component", "ops-http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/rooms", s.handleRooms)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("ops http server listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleRooms reports room occupancy without message contents; history
// is deliberately not exposed here.
func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	type roomInfo struct {
		Room  string `json:"room"`
		Users int    `json:"users"`
	}
	var out []roomInfo
	for _, room := range s.dir.KnownRooms() {
		out = append(out, roomInfo{Room: room, Users: len(s.dir.UsersInRoom(room))})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Debug().Err(err).Msg("encode rooms response")
	}
}

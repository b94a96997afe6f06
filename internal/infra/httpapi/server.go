package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"tuya-lights/internal/application"
)

// LightService is the part of the bridge the API serves.
type LightService interface {
	Lights() []*application.LightAccessory
	Find(key string) (*application.LightAccessory, error)
}

type Config struct {
	Addr      string
	AuthToken string
	// RateLimit is the number of writes allowed per minute and client IP.
	RateLimit int
}

type Server struct {
	addr        string
	server      *http.Server
	lights      LightService
	logger      *slog.Logger
	mu          sync.Mutex
	running     bool
	mux         *http.ServeMux
	rateLimiter *RateLimiter
	authToken   string
}

// NewServer builds the API. metrics is mounted on /metrics when not nil.
func NewServer(cfg Config, lights LightService, metrics http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		addr:        cfg.Addr,
		lights:      lights,
		logger:      logger,
		mux:         http.NewServeMux(),
		rateLimiter: NewRateLimiter(cfg.RateLimit, time.Minute),
		authToken:   cfg.AuthToken,
	}
	s.mux.HandleFunc("GET /lights", s.requireAuth(s.handleListLights))
	s.mux.HandleFunc("GET /lights/{id}", s.requireAuth(s.handleGetLight))
	// Writes are rate limited, reads are not
	s.mux.HandleFunc("PUT /lights/{id}/controls/{control}", s.rateLimiter.Middleware(s.requireAuth(s.handleSetControl)))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if metrics != nil {
		s.mux.Handle("GET /metrics", metrics)
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP API starting", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			if err := s.server.Close(); err != nil {
				return fmt.Errorf("closing server: %w", err)
			}
		}
	}

	s.running = false
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

type lightView struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Profile  string         `json:"profile"`
	Mode     string         `json:"mode,omitempty"`
	Controls map[string]any `json:"controls"`
}

func newLightView(l *application.LightAccessory) lightView {
	v := lightView{
		ID:       l.ID(),
		Name:     l.Name(),
		Profile:  l.Profile().String(),
		Controls: make(map[string]any, len(l.Controls())),
	}
	switch {
	case l.InColorMode():
		v.Mode = "colour"
	case l.InWhiteMode():
		v.Mode = "white"
	}
	for _, c := range l.Controls() {
		v.Controls[string(c.Name)] = c.Get()
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"lights": len(s.lights.Lights()),
	})
}

func (s *Server) handleListLights(w http.ResponseWriter, r *http.Request) {
	lights := s.lights.Lights()
	views := make([]lightView, 0, len(lights))
	for _, l := range lights {
		views = append(views, newLightView(l))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	light, err := s.lights.Find(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newLightView(light))
}

func (s *Server) handleSetControl(w http.ResponseWriter, r *http.Request) {
	light, err := s.lights.Find(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	control, ok := findControl(light, r.PathValue("control"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", r.PathValue("control"), application.ErrControlNotBound))
		return
	}

	var body struct {
		Value any `json:"value"`
	}
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := light.Set(control.Name, body.Value); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, application.ErrInvalidValue) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	s.logger.Info("control set via HTTP", "device", light.ID(), "control", control.Name, "value", body.Value)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "queued",
		"device":  light.ID(),
		"control": control.Name,
	})
}

// findControl matches the path segment against the bound controls, ignoring
// case so both "Brightness" and "brightness" work.
func findControl(light *application.LightAccessory, name string) (*application.Control, bool) {
	for _, c := range light.Controls() {
		if strings.EqualFold(string(c.Name), name) {
			return c, true
		}
	}
	return nil, false
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			// Check header first, then query parameter
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}

			if token != s.authToken {
				s.logger.Warn("unauthorized request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker probes one dependency. A nil error means healthy.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type Handler struct {
	version  string
	timeout  time.Duration
	mu       sync.RWMutex
	checkers []Checker
}

func NewHandler(version string, checkers ...Checker) *Handler {
	return &Handler{
		version:  version,
		timeout:  5 * time.Second,
		checkers: checkers,
	}
}

func (h *Handler) Register(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.handleHealth)
	router.Get("/health/live", h.handleLive)
	router.Get("/health/ready", h.handleHealth)
}

func (h *Handler) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: StatusHealthy, Version: h.version, Timestamp: time.Now().UTC()})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := h.Evaluate(ctx)
	code := http.StatusOK
	if resp.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// Evaluate runs every checker concurrently and aggregates the result.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	resp := Response{
		Status:     StatusHealthy,
		Version:    h.version,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth, len(checkers)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		c := c // per-iteration copy; go directive is below 1.22
		wg.Add(1)
		go func() {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			component := ComponentHealth{Status: StatusHealthy, Latency: time.Since(start).String()}
			if err != nil {
				component.Status = StatusUnhealthy
				component.Message = err.Error()
				log.Warn().Err(err).Str("component", c.Name()).Msg("health: check failed")
			}

			mu.Lock()
			resp.Components[c.Name()] = component
			if component.Status != StatusHealthy {
				resp.Status = StatusUnhealthy
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return resp
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("health: failed to write response")
	}
}

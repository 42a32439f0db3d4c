package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"track-enricher/internal/circuitbreaker"
	"track-enricher/internal/common/errors"
	"track-enricher/internal/common/logging"
	"track-enricher/internal/config"
	"track-enricher/internal/models"
	"track-enricher/internal/pipeline"
)

// Processor runs one event through the enrichment pipeline
type Processor interface {
	Process(ctx context.Context, evt *models.Event, settings config.Settings) (*pipeline.Result, error)
}

// HealthChecker is an optional dependency reported by the health endpoint
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Handlers struct {
	processor Processor
	settings  config.Settings
	checkers  map[string]HealthChecker
	breakers  []*circuitbreaker.GoBreakerAdapter
	logger    logging.Logger
}

// Option configures Handlers
type Option func(*Handlers)

// WithHealthChecker reports checker under name on /health
func WithHealthChecker(name string, checker HealthChecker) Option {
	return func(h *Handlers) {
		h.checkers[name] = checker
	}
}

// WithBreakers reports breaker states on /health
func WithBreakers(breakers ...*circuitbreaker.GoBreakerAdapter) Option {
	return func(h *Handlers) {
		h.breakers = append(h.breakers, breakers...)
	}
}

func New(processor Processor, settings config.Settings, opts ...Option) *Handlers {
	h := &Handlers{
		processor: processor,
		settings:  settings,
		checkers:  make(map[string]HealthChecker),
		logger:    logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "handlers"}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StatusCode maps an error kind to the HTTP status reported to the caller
func StatusCode(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeAuth, errors.ErrTypeProfileLookup, errors.ErrTypeRateLookup,
		errors.ErrTypeCatalog, errors.ErrTypeForward:
		return http.StatusBadGateway
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Type: string(errors.GetType(err))}
	if appErr, ok := errors.As(err); ok {
		resp.Error = appErr.Message
		resp.Context = appErr.Context
	}
	writeJSON(w, StatusCode(err), resp)
}

// Package api exposes replays over HTTP. A replay request carries the archive
// as its body and is answered with the run summary once the run completes.
// At most one replay runs at a time per process.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/valyala/fastjson"
	"golang.org/x/sync/semaphore"

	"notifyreplay/internal/types"
)

// Replayer runs a replay to completion.
type Replayer interface {
	Replay(ctx context.Context, destination string, hits []*fastjson.Value) (types.RunSummary, error)
}

// AttemptLister reads the delivery ledger. Optional.
type AttemptLister interface {
	ListByRun(ctx context.Context, runID string) ([]types.DeliveryAttempt, error)
}

// HealthProbe is a dependency check run by GET /health.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// APIKeyHash is the bcrypt hash of the accepted X-API-Key value.
	APIKeyHash   string
	MaxBodyBytes int64
	Attempts     AttemptLister
	HealthProbes []HealthProbe
}

// Server encapsulates the replay API dependencies.
type Server struct {
	replayer     Replayer
	attempts     AttemptLister
	probes       []HealthProbe
	logger       types.Logger
	apiKeyHash   []byte
	maxBodyBytes int64

	// gate admits one replay at a time.
	gate   *semaphore.Weighted
	router *chi.Mux
}

// NewServer creates a Server with its routes mounted.
func NewServer(replayer Replayer, logger types.Logger, opts Options) (*Server, error) {
	if replayer == nil {
		return nil, fmt.Errorf("replayer must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if opts.APIKeyHash == "" {
		return nil, fmt.Errorf("api key hash must not be empty")
	}
	if opts.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("max body bytes must be positive")
	}

	s := &Server{
		replayer:     replayer,
		attempts:     opts.Attempts,
		probes:       opts.HealthProbes,
		logger:       logger,
		apiKeyHash:   []byte(opts.APIKeyHash),
		maxBodyBytes: opts.MaxBodyBytes,
		gate:         semaphore.NewWeighted(1),
		router:       chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

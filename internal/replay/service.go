package replay

import (
	"context"
	"fmt"

	"github.com/valyala/fastjson"

	"notifyreplay/internal/audit"
	"notifyreplay/internal/types"
)

// Service builds one Engine per run around a shared Dispatcher so that each
// run can target its own destination. The CLI, the HTTP service and the
// Lambda handler all replay through it.
type Service struct {
	dispatcher *Dispatcher
	audit      *audit.Log
	logger     types.Logger
	policy     ErrorPolicy
	opts       []EngineOption
}

// NewService creates a Service. opts are applied to every Engine it builds.
func NewService(dispatcher *Dispatcher, auditLog *audit.Log, logger types.Logger, policy ErrorPolicy, opts ...EngineOption) (*Service, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("service: dispatcher is nil")
	}
	if auditLog == nil {
		return nil, fmt.Errorf("service: audit log is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("service: logger is nil")
	}
	return &Service{
		dispatcher: dispatcher,
		audit:      auditLog,
		logger:     logger,
		policy:     policy,
		opts:       opts,
	}, nil
}

// Replay runs hits against destination. An empty destination posts each
// notification to the URL recovered from its log record.
func (s *Service) Replay(ctx context.Context, destination string, hits []*fastjson.Value) (types.RunSummary, error) {
	if destination != "" {
		if err := types.ValidateDestinationURL(destination); err != nil {
			return types.RunSummary{}, err
		}
	}
	engine, err := NewEngine(s.dispatcher, s.audit, s.logger, EngineConfig{
		Destination: destination,
		Policy:      s.policy,
	}, s.opts...)
	if err != nil {
		return types.RunSummary{}, err
	}
	return engine.Run(ctx, hits)
}

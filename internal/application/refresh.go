package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownOp indicates a refresh operation name outside the registry.
var ErrUnknownOp = errors.New("unknown refresh operation")

// RefreshOp names a dataset-refresh operation. Operations form an explicit
// enumerated registry mapped to function values; configuration selects ops by
// name, and unknown names fail at wiring time rather than dispatching
// reflectively.
type RefreshOp string

const (
	RefreshSystemMetrics   RefreshOp = "system_metrics"
	RefreshRegionalMetrics RefreshOp = "regional_metrics"
)

// RefreshService periodically re-captures metric snapshots under the system
// scope so trend data accumulates even when no user is looking at a
// dashboard.
type RefreshService struct {
	gateway  *Gateway
	logger   *slog.Logger
	cron     *cron.Cron
	registry map[RefreshOp]func(context.Context) error
}

// NewRefreshService creates a RefreshService around the gateway.
func NewRefreshService(gateway *Gateway, logger *slog.Logger) *RefreshService {
	s := &RefreshService{
		gateway: gateway,
		logger:  logger,
		cron:    cron.New(),
	}
	s.registry = map[RefreshOp]func(context.Context) error{
		RefreshSystemMetrics: func(ctx context.Context) error {
			_, err := gateway.SystemMetrics(ctx, 0)
			return err
		},
		RefreshRegionalMetrics: func(ctx context.Context) error {
			_, err := gateway.RegionalMetrics(ctx, 0)
			return err
		},
	}
	return s
}

// Run executes a single refresh operation immediately.
func (s *RefreshService) Run(ctx context.Context, op RefreshOp) error {
	fn, ok := s.registry[op]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		return fmt.Errorf("refresh %s: %w", op, err)
	}
	s.logger.Info("refresh complete", "op", string(op), "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Schedule registers the given operations on the cron schedule and starts the
// scheduler. An empty schedule disables scheduling. Returns an error for an
// invalid cron expression or an unknown operation name.
func (s *RefreshService) Schedule(ctx context.Context, schedule string, ops []string) error {
	if schedule == "" {
		return nil
	}

	for _, name := range ops {
		op := RefreshOp(name)
		if _, ok := s.registry[op]; !ok {
			return fmt.Errorf("%w: %q in schedule", ErrUnknownOp, name)
		}

		if _, err := s.cron.AddFunc(schedule, func() {
			if err := s.Run(ctx, op); err != nil {
				s.logger.Error("scheduled refresh failed", "op", string(op), "error", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduling refresh %s: %w", name, err)
		}
	}

	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()

	return nil
}

// Ops returns the registered operation names, for validation and the HTTP
// surface.
func (s *RefreshService) Ops() []RefreshOp {
	ops := make([]RefreshOp, 0, len(s.registry))
	for op := range s.registry {
		ops = append(ops, op)
	}
	return ops
}

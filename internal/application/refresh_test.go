package application

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/veggateway/internal/domain/model"
)

func newTestRefreshService(t *testing.T) (*RefreshService, *gatewayFixture) {
	t.Helper()
	f := newGatewayFixture(t)
	return NewRefreshService(f.gateway, slog.New(slog.DiscardHandler)), f
}

func TestRefreshService_RunSystemMetrics(t *testing.T) {
	s, f := newTestRefreshService(t)
	f.executor.envelopes = []model.Envelope{
		datasetEnvelope([]string{"total_assessments"}, []any{float64(7)}),
	}

	require.NoError(t, s.Run(context.Background(), RefreshSystemMetrics))

	require.Len(t, f.snapshots.system, 1)
	assert.Equal(t, int64(7), f.snapshots.system[0].TotalAssessments)
}

func TestRefreshService_RunRegionalMetrics(t *testing.T) {
	s, f := newTestRefreshService(t)
	f.executor.envelopes = []model.Envelope{
		datasetEnvelope([]string{"Region_Name"}, []any{"CENTRAL"}, []any{"LEHIGH"}),
	}

	require.NoError(t, s.Run(context.Background(), RefreshRegionalMetrics))

	assert.Len(t, f.snapshots.regional, 2)
}

func TestRefreshService_RunUnknownOp(t *testing.T) {
	s, _ := newTestRefreshService(t)

	err := s.Run(context.Background(), RefreshOp("no_such_op"))

	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestRefreshService_RunWrapsGatewayError(t *testing.T) {
	s, f := newTestRefreshService(t)
	f.executor.err = assert.AnError

	err := s.Run(context.Background(), RefreshSystemMetrics)

	assert.ErrorIs(t, err, assert.AnError)
}

func TestRefreshService_ScheduleEmptyDisables(t *testing.T) {
	s, _ := newTestRefreshService(t)

	assert.NoError(t, s.Schedule(context.Background(), "", []string{"system_metrics"}))
}

func TestRefreshService_ScheduleUnknownOp(t *testing.T) {
	s, _ := newTestRefreshService(t)

	err := s.Schedule(context.Background(), "@every 1h", []string{"bogus"})

	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestRefreshService_ScheduleInvalidExpression(t *testing.T) {
	s, _ := newTestRefreshService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := s.Schedule(ctx, "not a cron expression", []string{"system_metrics"})

	assert.Error(t, err)
}

func TestRefreshService_ScheduleValid(t *testing.T) {
	s, _ := newTestRefreshService(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Schedule(ctx, "@every 1h", []string{"system_metrics", "regional_metrics"}))
	cancel()
}

func TestRefreshService_Ops(t *testing.T) {
	s, _ := newTestRefreshService(t)

	ops := s.Ops()

	assert.ElementsMatch(t, []RefreshOp{RefreshSystemMetrics, RefreshRegionalMetrics}, ops)
}

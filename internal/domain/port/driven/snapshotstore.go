package driven

import (
	"context"

	"github.com/arborops/veggateway/internal/domain/model"
)

// SnapshotStore defines the driven port for the append-only snapshot sink.
// Records are immutable once written; retention/pruning lives outside this
// core.
type SnapshotStore interface {
	// InsertSystem appends one system-wide snapshot record.
	InsertSystem(ctx context.Context, snap model.SystemSnapshot) error

	// InsertRegional appends the given regional snapshot records in a single
	// transaction.
	InsertRegional(ctx context.Context, snaps []model.RegionalSnapshot) error

	// LatestSystem returns the most recent system snapshot for the scope
	// hash, or nil if none exists.
	LatestSystem(ctx context.Context, scopeHash string) (*model.SystemSnapshot, error)

	// LatestRegional returns the most recent regional snapshot batch for the
	// scope hash (all rows sharing the newest capture time).
	LatestRegional(ctx context.Context, scopeHash string) ([]model.RegionalSnapshot, error)
}

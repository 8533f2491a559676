package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/fleetpay/treasury/internal/audit"
	"github.com/fleetpay/treasury/internal/events"
	"github.com/fleetpay/treasury/internal/metrics"
	"go.uber.org/zap"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dependencies are the collaborators shared by every service. Zero values are
// replaced with no-op implementations.
type Dependencies struct {
	Log     *zap.Logger
	Audit   *audit.Logger
	Metrics metrics.Collector
	Events  events.Publisher
	Now     func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Audit == nil {
		d.Audit = audit.NewLogger(d.Log)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NoOpCollector{}
	}
	if d.Events == nil {
		d.Events = events.NewFallbackPublisher(d.Log)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// publish sends an event after commit. Failures are logged and never undo the write.
func (d Dependencies) publish(ctx context.Context, routingKey string, body any) {
	if err := d.Events.Publish(ctx, routingKey, body); err != nil {
		d.Log.Warn("event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

package services

import (
	"context"
	"fmt"
	"time"
)

// TripStats reads counters owned by the trip and ticket subsystem.
type TripStats interface {
	CountTrips(ctx context.Context, q Querier, from, to time.Time) (int, error)
	CountUnresolvedTickets(ctx context.Context, q Querier) (int, error)
}

// SQLTripStats reads the trips and tickets tables directly.
type SQLTripStats struct{}

func (SQLTripStats) CountTrips(ctx context.Context, q Querier, from, to time.Time) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trips WHERE started_at >= $1 AND started_at < $2`,
		from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trips: %w", err)
	}
	return n, nil
}

func (SQLTripStats) CountUnresolvedTickets(ctx context.Context, q Querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tickets WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unresolved tickets: %w", err)
	}
	return n, nil
}

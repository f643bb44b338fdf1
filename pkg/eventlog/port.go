package eventlog

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Appender appends events inside the caller's transaction. Append assigns
// the event id, version, and occurred_at, and enqueues exactly one pending
// outbox row pointing at the new event.
type Appender interface {
	Append(ctx context.Context, tx *sqlx.Tx, event Event) (Event, error)
}

// OutboxRepository is the forwarder's view of the delivery queue.
type OutboxRepository interface {
	// ClaimPending atomically claims up to limit pending rows whose
	// next_attempt_at is due, locking them against concurrent forwarders.
	ClaimPending(ctx context.Context, limit int) ([]ClaimedRow, error)

	// MarkSent marks a row delivered.
	MarkSent(ctx context.Context, id int64) error

	// MarkRetry schedules a retry after a failure.
	MarkRetry(ctx context.Context, id int64, attempts int, nextAttempt time.Time, lastError string) error

	// MarkFailed dead-letters a row after the retry budget is exhausted.
	MarkFailed(ctx context.Context, id int64, lastError string) error

	// Depth reports pending and failed counts for the health surface.
	Depth(ctx context.Context) (Depth, error)
}

// ClaimedRow pairs an outbox row with its event for delivery.
type ClaimedRow struct {
	Row   OutboxRow
	Event Event
}

// Applier applies an event to the read-side store. Apply must be idempotent
// keyed by event id: delivering the same event twice yields the same state.
type Applier interface {
	Apply(ctx context.Context, event Event) error
}

// Sink is the write-side contract used by services that emit events outside
// an explicit store transaction (the audit sink).
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

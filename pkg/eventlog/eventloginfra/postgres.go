package eventloginfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/eventlog"
)

// forwarderBatchLockKey serializes outbox claiming across forwarder
// instances. Arbitrary but stable.
const forwarderBatchLockKey = 0x4c414e4f

// PostgresEventLog implements eventlog.Appender, eventlog.Sink and
// eventlog.OutboxRepository on the primary store.
type PostgresEventLog struct {
	db *sqlx.DB
}

func NewPostgresEventLog(db *sqlx.DB) *PostgresEventLog {
	return &PostgresEventLog{db: db}
}

// Append inserts the event with the next gap-free version for its aggregate
// and enqueues one pending outbox row, all inside the caller's transaction.
// A transaction-scoped advisory lock on the aggregate serializes concurrent
// writers so versions never collide or skip.
func (l *PostgresEventLog) Append(ctx context.Context, tx *sqlx.Tx, event eventlog.Event) (eventlog.Event, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if len(event.Payload) == 0 {
		event.Payload = []byte(`{}`)
	}

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
		string(event.AggregateType), event.AggregateID,
	); err != nil {
		return event, eventlog.ErrRegistry.New(eventlog.CodeAppendFailed).WithCause(err)
	}

	var next int64
	if err := tx.GetContext(ctx, &next,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM auth_events
		 WHERE aggregate_type = $1 AND aggregate_id = $2`,
		string(event.AggregateType), event.AggregateID,
	); err != nil {
		return event, eventlog.ErrRegistry.New(eventlog.CodeAppendFailed).WithCause(err)
	}
	event.Version = next

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auth_events (
			event_id, aggregate_type, aggregate_id, version, event_type, payload, metadata, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.EventID, string(event.AggregateType), event.AggregateID,
		event.Version, event.EventType, []byte(event.Payload), nullableJSON(event.Metadata), event.OccurredAt,
	); err != nil {
		return event, eventlog.ErrRegistry.New(eventlog.CodeAppendFailed).WithCause(err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auth_outbox (event_id, destination, status, attempts, next_attempt_at, created_at)
		 VALUES ($1, $2, 'pending', 0, NOW(), NOW())`,
		event.EventID, eventlog.DestinationReadside,
	); err != nil {
		return event, eventlog.ErrRegistry.New(eventlog.CodeAppendFailed).WithCause(err)
	}

	return event, nil
}

// Emit appends an event in its own transaction, for emitters that have no
// surrounding state change (the audit sink).
func (l *PostgresEventLog) Emit(ctx context.Context, event eventlog.Event) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return eventlog.ErrRegistry.New(eventlog.CodeAppendFailed).WithCause(err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := l.Append(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

type claimedRow struct {
	ID            int64          `db:"id"`
	EventID       string         `db:"event_id"`
	Destination   string         `db:"destination"`
	Status        string         `db:"status"`
	Attempts      int            `db:"attempts"`
	NextAttemptAt time.Time      `db:"next_attempt_at"`
	LastError     sql.NullString `db:"last_error"`
	CreatedAt     time.Time      `db:"created_at"`

	AggregateType string    `db:"aggregate_type"`
	AggregateID   string    `db:"aggregate_id"`
	Version       int64     `db:"version"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	Metadata      []byte    `db:"metadata"`
	OccurredAt    time.Time `db:"occurred_at"`
}

// ClaimPending claims up to limit due rows. The claim pushes next_attempt_at
// forward by a short lease so a crashed forwarder releases its batch, and
// SKIP LOCKED plus a batch advisory lock keep concurrent instances from
// duplicating work.
func (l *PostgresEventLog) ClaimPending(ctx context.Context, limit int) ([]eventlog.ClaimedRow, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}
	defer tx.Rollback() //nolint:errcheck

	var locked bool
	if err := tx.GetContext(ctx, &locked,
		`SELECT pg_try_advisory_xact_lock($1)`, forwarderBatchLockKey,
	); err != nil {
		return nil, eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}
	if !locked {
		// Another forwarder instance is claiming right now.
		return nil, tx.Commit()
	}

	var rows []claimedRow
	if err := tx.SelectContext(ctx, &rows,
		`WITH due AS (
			SELECT id FROM auth_outbox
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE auth_outbox o
		SET next_attempt_at = NOW() + interval '60 seconds'
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.event_id, o.destination, o.status, o.attempts,
		          o.next_attempt_at, o.last_error, o.created_at,
		          (SELECT e.aggregate_type FROM auth_events e WHERE e.event_id = o.event_id) AS aggregate_type,
		          (SELECT e.aggregate_id   FROM auth_events e WHERE e.event_id = o.event_id) AS aggregate_id,
		          (SELECT e.version        FROM auth_events e WHERE e.event_id = o.event_id) AS version,
		          (SELECT e.event_type     FROM auth_events e WHERE e.event_id = o.event_id) AS event_type,
		          (SELECT e.payload        FROM auth_events e WHERE e.event_id = o.event_id) AS payload,
		          (SELECT COALESCE(e.metadata, '{}'::jsonb) FROM auth_events e WHERE e.event_id = o.event_id) AS metadata,
		          (SELECT e.occurred_at    FROM auth_events e WHERE e.event_id = o.event_id) AS occurred_at`,
		limit,
	); err != nil {
		return nil, eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}

	claimed := make([]eventlog.ClaimedRow, 0, len(rows))
	for _, r := range rows {
		var lastErr *string
		if r.LastError.Valid {
			v := r.LastError.String
			lastErr = &v
		}
		claimed = append(claimed, eventlog.ClaimedRow{
			Row: eventlog.OutboxRow{
				ID:            r.ID,
				EventID:       r.EventID,
				Destination:   r.Destination,
				Status:        eventlog.OutboxStatus(r.Status),
				Attempts:      r.Attempts,
				NextAttemptAt: r.NextAttemptAt,
				LastError:     lastErr,
				CreatedAt:     r.CreatedAt,
			},
			Event: eventlog.Event{
				EventID:       r.EventID,
				AggregateType: eventlog.AggregateType(r.AggregateType),
				AggregateID:   r.AggregateID,
				Version:       r.Version,
				EventType:     r.EventType,
				Payload:       r.Payload,
				Metadata:      r.Metadata,
				OccurredAt:    r.OccurredAt,
			},
		})
	}
	return claimed, nil
}

func (l *PostgresEventLog) MarkSent(ctx context.Context, id int64) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE auth_outbox SET status = 'sent', last_error = NULL WHERE id = $1`, id)
	if err != nil {
		return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}
	return nil
}

func (l *PostgresEventLog) MarkRetry(ctx context.Context, id int64, attempts int, nextAttempt time.Time, lastError string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE auth_outbox SET attempts = $2, next_attempt_at = $3, last_error = $4 WHERE id = $1`,
		id, attempts, nextAttempt, truncateError(lastError))
	if err != nil {
		return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}
	return nil
}

func (l *PostgresEventLog) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE auth_outbox SET status = 'failed', last_error = $2 WHERE id = $1`,
		id, truncateError(lastError))
	if err != nil {
		return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}
	return nil
}

func (l *PostgresEventLog) Depth(ctx context.Context) (eventlog.Depth, error) {
	var d eventlog.Depth
	err := l.db.GetContext(ctx, &d.Pending,
		`SELECT COUNT(*) FROM auth_outbox WHERE status = 'pending'`)
	if err != nil {
		return d, errx.Wrap(err, "failed to read outbox depth", errx.TypeInternal)
	}
	err = l.db.GetContext(ctx, &d.Failed,
		`SELECT COUNT(*) FROM auth_outbox WHERE status = 'failed'`)
	if err != nil {
		return d, errx.Wrap(err, "failed to read outbox dead letters", errx.TypeInternal)
	}
	return d, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func truncateError(s string) string {
	const max = 1024
	if len(s) > max {
		return s[:max]
	}
	return s
}

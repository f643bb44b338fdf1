// Package eventlog implements the command-side event log and its outbox.
// Every state change in the gateway appends exactly one event and one
// pending outbox row in the same database transaction; a separate forwarder
// process drains the outbox into the read-side store.
package eventlog

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lanonasis/authgate/pkg/errx"
)

// AggregateType identifies the entity family an event belongs to.
type AggregateType string

const (
	AggregateUser        AggregateType = "user"
	AggregateSession     AggregateType = "session"
	AggregateAPIKey      AggregateType = "api_key"
	AggregateOAuthClient AggregateType = "oauth_client"
	AggregateOAuthToken  AggregateType = "oauth_token"
	AggregateAudit       AggregateType = "audit"
)

// Event types emitted by the gateway.
const (
	EventUserUpserted     = "UserUpserted"
	EventSessionCreated   = "SessionCreated"
	EventSessionRevoked   = "SessionRevoked"
	EventAPIKeyCreated    = "ApiKeyCreated"
	EventAPIKeyRotated    = "ApiKeyRotated"
	EventAPIKeyRevoked    = "ApiKeyRevoked"
	EventClientRegistered = "OAuthClientRegistered"
	EventTokenIssued      = "TokenIssued"
	EventTokenRotated     = "TokenRotated"
	EventTokenRevoked     = "TokenRevoked"
	EventAuthEventLogged  = "AuthEventLogged"
)

// Event is one append-only entry in the log. Versions are monotonic and
// gap-free per (aggregate_type, aggregate_id).
type Event struct {
	EventID       string          `db:"event_id" json:"event_id"`
	AggregateType AggregateType   `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id" json:"aggregate_id"`
	Version       int64           `db:"version" json:"version"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Metadata      json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	OccurredAt    time.Time       `db:"occurred_at" json:"occurred_at"`
}

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxRow is one delivery queue entry. Exactly one row exists per event.
type OutboxRow struct {
	ID            int64        `db:"id" json:"id"`
	EventID       string       `db:"event_id" json:"event_id"`
	Destination   string       `db:"destination" json:"destination"`
	Status        OutboxStatus `db:"status" json:"status"`
	Attempts      int          `db:"attempts" json:"attempts"`
	NextAttemptAt time.Time    `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     *string      `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// Depth summarizes outbox backlog for the health surface.
type Depth struct {
	Pending int64 `json:"pending"`
	Failed  int64 `json:"failed"`
}

// DestinationReadside is the only configured outbox destination.
const DestinationReadside = "readside"

var ErrRegistry = errx.NewRegistry("EVENTLOG")

var (
	CodeAppendFailed   = ErrRegistry.Register("APPEND_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Failed to append event")
	CodeVersionedWrite = ErrRegistry.Register("VERSION_CONFLICT", errx.TypeConflict, http.StatusConflict, "Concurrent event version conflict")
	CodeDeliveryFailed = ErrRegistry.Register("DELIVERY_FAILED", errx.TypeExternal, http.StatusBadGateway, "Outbox delivery failed")
)

// MarshalPayload encodes a payload value, panicking only on programmer error
// (unencodable types never reach production payloads).
func MarshalPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

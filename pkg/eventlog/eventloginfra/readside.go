package eventloginfra

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/lanonasis/authgate/pkg/eventlog"
)

// ReadsideApplier implements eventlog.Applier against the read-side store.
// Apply upserts the auth_events mirror (PK event_id) and refreshes the
// projection tables in the same transaction, so delivering an event twice
// yields the same destination state.
type ReadsideApplier struct {
	db *sqlx.DB
}

func NewReadsideApplier(db *sqlx.DB) *ReadsideApplier {
	return &ReadsideApplier{db: db}
}

func (a *ReadsideApplier) Apply(ctx context.Context, event eventlog.Event) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auth_events (
			event_id, aggregate_type, aggregate_id, version, event_type, payload, metadata, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, string(event.AggregateType), event.AggregateID,
		event.Version, event.EventType, []byte(event.Payload), nullableJSON(event.Metadata), event.OccurredAt,
	); err != nil {
		return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}

	if err := a.project(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
	}
	return nil
}

// project routes the event to its projection table. Upserts are guarded by
// version so a replayed or out-of-order event never rolls a projection back.
func (a *ReadsideApplier) project(ctx context.Context, tx *sqlx.Tx, event eventlog.Event) error {
	switch event.EventType {
	case eventlog.EventUserUpserted:
		var p eventlog.UserUpsertedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO current_users (user_id, email, role, provider, last_sign_in_at, version, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW())
			 ON CONFLICT (user_id) DO UPDATE SET
				email = EXCLUDED.email,
				role = EXCLUDED.role,
				provider = EXCLUDED.provider,
				last_sign_in_at = EXCLUDED.last_sign_in_at,
				version = EXCLUDED.version,
				updated_at = NOW()
			 WHERE current_users.version < EXCLUDED.version`,
			p.UserID, p.Email, p.Role, p.Provider, p.LastSignInAt, event.Version)
		return wrapDelivery(err)

	case eventlog.EventSessionCreated:
		var p eventlog.SessionCreatedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO active_sessions (session_id, user_id, platform, ip_address, user_agent, expires_at, revoked, version, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, NOW())
			 ON CONFLICT (session_id) DO UPDATE SET
				expires_at = EXCLUDED.expires_at,
				version = EXCLUDED.version,
				updated_at = NOW()
			 WHERE active_sessions.version < EXCLUDED.version`,
			p.SessionID, p.UserID, p.Platform, p.IPAddress, p.UserAgent, p.ExpiresAt, event.Version)
		return wrapDelivery(err)

	case eventlog.EventSessionRevoked:
		var p eventlog.SessionRevokedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE active_sessions SET revoked = TRUE, version = $2, updated_at = NOW()
			 WHERE session_id = $1 AND version < $2`,
			p.SessionID, event.Version)
		return wrapDelivery(err)

	case eventlog.EventAPIKeyCreated, eventlog.EventAPIKeyRotated:
		var p eventlog.APIKeyPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO active_api_keys (key_id, user_id, organization_id, name, prefix, scopes, expires_at, revoked, version, updated_at)
			 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, FALSE, $8, NOW())
			 ON CONFLICT (key_id) DO UPDATE SET
				name = EXCLUDED.name,
				scopes = EXCLUDED.scopes,
				expires_at = EXCLUDED.expires_at,
				version = EXCLUDED.version,
				updated_at = NOW()
			 WHERE active_api_keys.version < EXCLUDED.version`,
			p.KeyID, p.UserID, p.OrganizationID, p.Name, p.Prefix,
			scopesJSON(p.Scopes), p.ExpiresAt, event.Version); err != nil {
			return wrapDelivery(err)
		}
		if p.ReplacesKeyID != "" {
			_, err := tx.ExecContext(ctx,
				`UPDATE active_api_keys SET revoked = TRUE, updated_at = NOW() WHERE key_id = $1`,
				p.ReplacesKeyID)
			return wrapDelivery(err)
		}
		return nil

	case eventlog.EventAPIKeyRevoked:
		var p eventlog.APIKeyPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE active_api_keys SET revoked = TRUE, version = $2, updated_at = NOW()
			 WHERE key_id = $1 AND version < $2`,
			p.KeyID, event.Version)
		return wrapDelivery(err)

	case eventlog.EventTokenIssued, eventlog.EventTokenRotated, eventlog.EventTokenRevoked:
		var p eventlog.TokenPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
		}
		revoked := event.EventType == eventlog.EventTokenRevoked
		_, err := tx.ExecContext(ctx,
			`INSERT INTO active_tokens (token_id, token_type, client_id, user_id, scopes, expires_at, revoked, revoked_reason, version, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, NOW())
			 ON CONFLICT (token_id) DO UPDATE SET
				revoked = EXCLUDED.revoked,
				revoked_reason = EXCLUDED.revoked_reason,
				version = EXCLUDED.version,
				updated_at = NOW()
			 WHERE active_tokens.version < EXCLUDED.version`,
			p.TokenID, p.TokenType, p.ClientID, p.UserID,
			scopesJSON(p.Scopes), p.ExpiresAt, revoked, p.Reason, event.Version)
		return wrapDelivery(err)

	case eventlog.EventAuthEventLogged:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO audit_trail (event_id, aggregate_id, payload, occurred_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (event_id) DO NOTHING`,
			event.EventID, event.AggregateID, []byte(event.Payload), event.OccurredAt)
		return wrapDelivery(err)

	default:
		// Unknown event types land in the mirror only. Forward compatible.
		return nil
	}
}

func wrapDelivery(err error) error {
	if err == nil {
		return nil
	}
	return eventlog.ErrRegistry.New(eventlog.CodeDeliveryFailed).WithCause(err)
}

func scopesJSON(scopes []string) []byte {
	if scopes == nil {
		scopes = []string{}
	}
	b, _ := json.Marshal(scopes)
	return b
}

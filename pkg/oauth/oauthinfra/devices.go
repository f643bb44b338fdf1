package oauthinfra

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/lib/pq"
)

type devicePersistence struct {
	ID              string         `db:"id"`
	LookupHash      string         `db:"lookup_hash"`
	DeviceCodeHash  string         `db:"device_code_hash"`
	UserCode        string         `db:"user_code"`
	ClientID        string         `db:"client_id"`
	Scopes          pq.StringArray `db:"scopes"`
	VerificationURI string         `db:"verification_uri"`
	Interval        int            `db:"interval_seconds"`
	ExpiresAt       time.Time      `db:"expires_at"`
	Status          string         `db:"status"`
	UserID          sql.NullString `db:"user_id"`
	LastPolledAt    *time.Time     `db:"last_polled_at"`
	Consumed        bool           `db:"consumed"`
	CreatedAt       time.Time      `db:"created_at"`
}

// CreateDevice starts a device authorization. The user code stays unique
// among pending authorizations; collisions retry with a fresh code.
func (s *Store) CreateDevice(ctx context.Context, client *oauth.Client, scopes []string, verificationURI string, ttl time.Duration, interval int) (string, *oauth.DeviceAuthorization, error) {
	raw, err := oauth.GenerateOpaque()
	if err != nil {
		return "", nil, err
	}
	slow, err := oauth.SlowHash(raw, s.bcryptCost)
	if err != nil {
		return "", nil, err
	}
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	if interval == 0 {
		interval = 5
	}

	now := time.Now().UTC()
	record := oauth.DeviceAuthorization{
		ID:              uuid.NewString(),
		LookupHash:      oauth.LookupHash(raw),
		DeviceCodeHash:  slow,
		ClientID:        client.ClientID,
		Scopes:          scopes,
		VerificationURI: verificationURI,
		Interval:        interval,
		ExpiresAt:       now.Add(ttl),
		Status:          oauth.DevicePending,
		CreatedAt:       now,
	}

	// User codes are short, so collide occasionally among pending rows.
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		userCode, err := oauth.GenerateUserCode()
		if err != nil {
			return "", nil, err
		}
		record.UserCode = userCode

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO oauth_device_authorizations (
				id, lookup_hash, device_code_hash, user_code, client_id, scopes,
				verification_uri, interval_seconds, expires_at, status, consumed, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', FALSE, $10)`,
			record.ID, record.LookupHash, record.DeviceCodeHash, record.UserCode,
			record.ClientID.String(), pq.StringArray(record.Scopes),
			record.VerificationURI, record.Interval, record.ExpiresAt, record.CreatedAt)
		if err == nil {
			return raw, &record, nil
		}
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			continue
		}
		return "", nil, errx.Wrap(err, "failed to create device authorization", errx.TypeInternal)
	}
	return "", nil, errx.New("could not allocate a unique user code", errx.TypeInternal)
}

func (s *Store) FindByDeviceCode(ctx context.Context, raw string, clientID kernel.ClientID) (*oauth.DeviceAuthorization, error) {
	var p devicePersistence
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM oauth_device_authorizations WHERE lookup_hash = $1`,
		oauth.LookupHash(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find device authorization", errx.TypeInternal)
	}
	if !oauth.VerifySlow(p.DeviceCodeHash, raw) {
		return nil, nil
	}
	if p.ClientID != clientID.String() {
		return nil, nil
	}
	d := deviceToDomain(p)
	return &d, nil
}

// FindByUserCode resolves the human-entered code, case-insensitively.
func (s *Store) FindByUserCode(ctx context.Context, userCode string) (*oauth.DeviceAuthorization, error) {
	var p devicePersistence
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM oauth_device_authorizations
		 WHERE UPPER(user_code) = $1 AND status = 'pending' AND expires_at > NOW()`,
		strings.ToUpper(userCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find device authorization by user code", errx.TypeInternal)
	}
	d := deviceToDomain(p)
	return &d, nil
}

func (s *Store) RecordPoll(ctx context.Context, id string, interval int, polledAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE oauth_device_authorizations SET last_polled_at = $2, interval_seconds = $3 WHERE id = $1`,
		id, polledAt, interval)
	if err != nil {
		return errx.Wrap(err, "failed to record device poll", errx.TypeInternal)
	}
	return nil
}

func (s *Store) Approve(ctx context.Context, id string, userID kernel.UserID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_device_authorizations
		 SET status = 'approved', user_id = $2
		 WHERE id = $1 AND status = 'pending' AND expires_at > NOW()`,
		id, userID.String())
	if err != nil {
		return errx.Wrap(err, "failed to approve device authorization", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return oauth.ErrInvalidGrant("Device authorization is no longer pending")
	}
	return nil
}

func (s *Store) Deny(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE oauth_device_authorizations SET status = 'denied' WHERE id = $1 AND status = 'pending'`,
		id)
	if err != nil {
		return errx.Wrap(err, "failed to deny device authorization", errx.TypeInternal)
	}
	return nil
}

func (s *Store) MarkConsumed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_device_authorizations SET consumed = TRUE WHERE id = $1 AND consumed = FALSE`,
		id)
	if err != nil {
		return errx.Wrap(err, "failed to consume device authorization", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return oauth.ErrInvalidGrant("Device code already used")
	}
	return nil
}

// PurgeExpiredDevices deletes device authorizations expired longer than
// olderThan ago.
func (s *Store) PurgeExpiredDevices(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_device_authorizations WHERE expires_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, errx.Wrap(err, "failed to purge device authorizations", errx.TypeInternal)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func deviceToDomain(p devicePersistence) oauth.DeviceAuthorization {
	var userID *kernel.UserID
	if p.UserID.Valid {
		v := kernel.NewUserID(p.UserID.String)
		userID = &v
	}
	return oauth.DeviceAuthorization{
		ID:              p.ID,
		LookupHash:      p.LookupHash,
		DeviceCodeHash:  p.DeviceCodeHash,
		UserCode:        p.UserCode,
		ClientID:        kernel.NewClientID(p.ClientID),
		Scopes:          p.Scopes,
		VerificationURI: p.VerificationURI,
		Interval:        p.Interval,
		ExpiresAt:       p.ExpiresAt,
		Status:          oauth.DeviceStatus(p.Status),
		UserID:          userID,
		LastPolledAt:    p.LastPolledAt,
		Consumed:        p.Consumed,
		CreatedAt:       p.CreatedAt,
	}
}

// Package oauthinfra is the Postgres + Redis persistence for the OAuth
// domain. Every mutation that the spec pairs with an event appends that
// event through the eventlog inside the same transaction.
package oauthinfra

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lanonasis/authgate/pkg/eventlog"
)

// Store implements oauth.ClientRepository, oauth.CodeStore,
// oauth.TokenStore and oauth.DeviceStore on the primary Postgres.
type Store struct {
	db     *sqlx.DB
	events eventlog.Appender

	bcryptCost      int
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// StoreOptions configures credential hashing and token lifetimes.
type StoreOptions struct {
	BcryptCost      int
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

func NewStore(db *sqlx.DB, events eventlog.Appender, opts StoreOptions) *Store {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = 10
	}
	if opts.AccessTokenTTL == 0 {
		opts.AccessTokenTTL = 15 * time.Minute
	}
	if opts.RefreshTokenTTL == 0 {
		opts.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	return &Store{
		db:              db,
		events:          events,
		bcryptCost:      opts.BcryptCost,
		accessTokenTTL:  opts.AccessTokenTTL,
		refreshTokenTTL: opts.RefreshTokenTTL,
	}
}

// AccessTokenTTL exposes the configured access token lifetime.
func (s *Store) AccessTokenTTL() time.Duration { return s.accessTokenTTL }

// RefreshTokenTTL exposes the configured refresh token lifetime.
func (s *Store) RefreshTokenTTL() time.Duration { return s.refreshTokenTTL }

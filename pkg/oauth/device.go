package oauth

import (
	"time"

	"github.com/lanonasis/authgate/pkg/kernel"
)

// DeviceStatus is the device authorization lifecycle state.
type DeviceStatus string

const (
	DevicePending  DeviceStatus = "pending"
	DeviceApproved DeviceStatus = "approved"
	DeviceDenied   DeviceStatus = "denied"
)

// DeviceAuthorization is the state of one RFC 8628 device flow. The device
// code is stored hashed like every credential; the user code is plaintext
// because the user types it and it is only unique while pending.
type DeviceAuthorization struct {
	ID              string          `db:"id" json:"id"`
	LookupHash      string          `db:"lookup_hash" json:"-"`
	DeviceCodeHash  string          `db:"device_code_hash" json:"-"`
	UserCode        string          `db:"user_code" json:"user_code"`
	ClientID        kernel.ClientID `db:"client_id" json:"client_id"`
	Scopes          []string        `db:"scopes" json:"scopes"`
	VerificationURI string          `db:"verification_uri" json:"verification_uri"`
	Interval        int             `db:"interval_seconds" json:"interval"`
	ExpiresAt       time.Time       `db:"expires_at" json:"expires_at"`
	Status          DeviceStatus    `db:"status" json:"status"`
	UserID          *kernel.UserID  `db:"user_id" json:"user_id,omitempty"`
	LastPolledAt    *time.Time      `db:"last_polled_at" json:"-"`
	Consumed        bool            `db:"consumed" json:"consumed"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// IsExpired checks the device code TTL.
func (d *DeviceAuthorization) IsExpired() bool {
	return time.Now().After(d.ExpiresAt)
}

// slowDownDelta is the fixed increase applied to the polling interval when
// a client polls too fast (RFC 8628 §3.5).
const slowDownDelta = 5

// NextIntervalAfterSlowDown returns the increased server-tracked interval.
func (d *DeviceAuthorization) NextIntervalAfterSlowDown() int {
	return d.Interval + slowDownDelta
}

// PolledTooSoon reports whether a poll at now violates the interval.
func (d *DeviceAuthorization) PolledTooSoon(now time.Time) bool {
	if d.LastPolledAt == nil {
		return false
	}
	return now.Sub(*d.LastPolledAt) < time.Duration(d.Interval)*time.Second
}

// DeviceGrantResponse is the POST /oauth/device response body.
type DeviceGrantResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int    `json:"interval"`
}

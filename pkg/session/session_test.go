package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeReturnTo(t *testing.T) {
	const domain = ".lanonasis.com"
	const dashboard = "https://dashboard.lanonasis.com"

	tests := []struct {
		name     string
		returnTo string
		want     string
	}{
		{"empty falls back", "", dashboard},
		{"relative path passes", "/oauth/authorize?client_id=cli", "/oauth/authorize?client_id=cli"},
		{"protocol-relative rejected", "//evil.com/phish", dashboard},
		{"same domain passes", "https://api.lanonasis.com/callback", "https://api.lanonasis.com/callback"},
		{"apex domain passes", "https://lanonasis.com/home", "https://lanonasis.com/home"},
		{"foreign host rejected", "https://evil.com/phish", dashboard},
		{"suffix trick rejected", "https://notlanonasis.com/", dashboard},
		{"javascript scheme rejected", "javascript:alert(1)", dashboard},
		{"garbage rejected", "ht!tp://%", dashboard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeReturnTo(tt.returnTo, domain, dashboard))
		})
	}
}

func TestSessionIsLive(t *testing.T) {
	now := time.Now()

	live := Session{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, live.IsLive(now))

	expired := Session{ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, expired.IsLive(now))

	revoked := Session{Revoked: true, ExpiresAt: now.Add(time.Hour)}
	assert.False(t, revoked.IsLive(now))

	eternal := Session{NeverExpires: true, ExpiresAt: now.Add(-time.Hour)}
	assert.True(t, eternal.IsLive(now))
}

package apikey

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	g, err := Generate(KeyPrefixLive)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(g.Key, KeyPrefixLive))
	assert.True(t, ValidFormat(g.Key))
	assert.Equal(t, Hash(g.Key), g.KeyHash)
	assert.True(t, VerifyHash(g.KeyHash, g.Key))
	assert.False(t, VerifyHash(g.KeyHash, g.Key+"x"))

	other, err := Generate(KeyPrefixLive)
	require.NoError(t, err)
	assert.NotEqual(t, g.Key, other.Key)
}

func TestValidFormat(t *testing.T) {
	live, err := Generate(KeyPrefixLive)
	require.NoError(t, err)
	test, err := Generate(KeyPrefixTest)
	require.NoError(t, err)

	assert.True(t, ValidFormat(live.Key))
	assert.True(t, ValidFormat(test.Key))

	assert.False(t, ValidFormat(""))
	assert.False(t, ValidFormat("lano_live_short"))
	assert.False(t, ValidFormat("sk_live_"+strings.Repeat("a", 43)))
	assert.False(t, ValidFormat(live.Key+"extra"))
}

func TestPrefixFor(t *testing.T) {
	assert.Equal(t, KeyPrefixLive, PrefixFor("production"))
	assert.Equal(t, KeyPrefixLive, PrefixFor("live"))
	assert.Equal(t, KeyPrefixTest, PrefixFor("test"))
	assert.Equal(t, KeyPrefixTest, PrefixFor(""))
}

func TestAccepts(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	active := APIKey{IsActive: true}
	assert.True(t, active.Accepts(now))

	expired := APIKey{IsActive: true, ExpiresAt: &past}
	assert.False(t, expired.Accepts(now))

	revoked := APIKey{IsActive: false}
	assert.False(t, revoked.Accepts(now))

	inGrace := APIKey{IsActive: false, GraceUntil: &future}
	assert.True(t, inGrace.Accepts(now))

	graceOver := APIKey{IsActive: false, GraceUntil: &past}
	assert.False(t, graceOver.Accepts(now))
}

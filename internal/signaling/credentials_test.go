package signaling

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquill/voxsignal/internal/errors"
)

func TestCredentialIssuer_Issue(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	issuer := newCredentialIssuerWithClock(Config{
		TURNSecret: "shared-secret",
		TURNURLs:   []string{"turn:turn.example.com:3478"},
		STUNURLs:   []string{"stun:stun.example.com:3478"},
	}, clock)

	creds, err := issuer.Issue("u1")
	require.NoError(t, err)

	// expiry-prefixed username per the coturn REST convention
	assert.Equal(t, "1700086400:u1", creds.Username)
	// hex-encoded HMAC-SHA1 digest
	assert.Len(t, creds.Credential, 40)
	assert.Equal(t, int64(86400), creds.TTL)
	assert.Equal(t, clock.Now().Add(24*time.Hour), creds.ExpiresAt)

	require.Len(t, creds.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, creds.ICEServers[0].URLs)
	assert.Empty(t, creds.ICEServers[0].Username)
	assert.Equal(t, creds.Username, creds.ICEServers[1].Username)
	assert.Equal(t, creds.Credential, creds.ICEServers[1].Credential)
}

func TestCredentialIssuer_Deterministic(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	cfg := Config{TURNSecret: "shared-secret"}

	a, err := newCredentialIssuerWithClock(cfg, clock).Issue("u1")
	require.NoError(t, err)
	b, err := newCredentialIssuerWithClock(cfg, clock).Issue("u1")
	require.NoError(t, err)

	assert.Equal(t, a.Credential, b.Credential)
}

func TestCredentialIssuer_DigestVaries(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))

	base, err := newCredentialIssuerWithClock(Config{TURNSecret: "secret-a"}, clock).Issue("u1")
	require.NoError(t, err)

	otherUser, err := newCredentialIssuerWithClock(Config{TURNSecret: "secret-a"}, clock).Issue("u2")
	require.NoError(t, err)
	assert.NotEqual(t, base.Credential, otherUser.Credential)

	otherSecret, err := newCredentialIssuerWithClock(Config{TURNSecret: "secret-b"}, clock).Issue("u1")
	require.NoError(t, err)
	assert.NotEqual(t, base.Credential, otherSecret.Credential)

	clock.Advance(time.Second)
	otherTime, err := newCredentialIssuerWithClock(Config{TURNSecret: "secret-a"}, clock).Issue("u1")
	require.NoError(t, err)
	assert.NotEqual(t, base.Credential, otherTime.Credential)
}

func TestCredentialIssuer_MissingSecret(t *testing.T) {
	issuer := NewCredentialIssuer(Config{})

	_, err := issuer.Issue("u1")
	assert.True(t, errors.Is(err, ErrNoTURNSecret))
}

func TestCredentialIssuer_CustomTTL(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	issuer := newCredentialIssuerWithClock(Config{
		TURNSecret:    "shared-secret",
		CredentialTTL: time.Hour,
	}, clock)

	creds, err := issuer.Issue("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3600), creds.TTL)
	assert.Equal(t, "1700003600:u1", creds.Username)
}

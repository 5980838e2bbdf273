package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTokenSecret = "0123456789abcdef0123456789abcdef"

func TestSessionTokensRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	tokens, err := NewSessionTokens(testTokenSecret, time.Hour, func() time.Time { return now })
	require.NoError(t, err)

	token, expires, err := tokens.Issue("01HSESSION")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expires)
	assert.NotContains(t, token, "01HSESSION")

	id, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "01HSESSION", id)

	now = now.Add(2 * time.Hour)
	_, err = tokens.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidSessionToken)
}

func TestSessionTokensRejectForgeries(t *testing.T) {
	tokens, err := NewSessionTokens(testTokenSecret, time.Hour, nil)
	require.NoError(t, err)
	other, err := NewSessionTokens(strings.Repeat("x", 40), time.Hour, nil)
	require.NoError(t, err)

	forged, _, err := other.Issue("01HSESSION")
	require.NoError(t, err)
	_, err = tokens.Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidSessionToken)

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		_, err = tokens.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidSessionToken, raw)
	}
}

func TestNewSessionTokensValidation(t *testing.T) {
	_, err := NewSessionTokens("short", time.Hour, nil)
	assert.Error(t, err)
	_, err = NewSessionTokens(testTokenSecret, 0, nil)
	assert.Error(t, err)

	tokens, err := NewSessionTokens(testTokenSecret, time.Hour, nil)
	require.NoError(t, err)
	_, _, err = tokens.Issue(" ")
	assert.Error(t, err)
}

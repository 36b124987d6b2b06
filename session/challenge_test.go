package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enclagent/frontdoor/interfaces"
)

func TestNewNonceProperties(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		nonce, err := newNonce()
		require.NoError(t, err)
		assert.Len(t, nonce, nonceLength)
		for _, r := range nonce {
			assert.Contains(t, nonceAlphabet, string(r))
		}
		assert.False(t, seen[nonce], "nonce repeated: %s", nonce)
		seen[nonce] = true
	}
}

func TestRenderChallenge(t *testing.T) {
	wallet, err := interfaces.NewWalletAddressFromHex("0x52908400098527886e0f7030069857d2e4169ee7")
	require.NoError(t, err)

	issuedAt := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	msg := renderChallenge(challengeParams{
		wallet:      wallet,
		privyUserID: "did:privy:abc123",
		chainID:     8453,
		sessionID:   "sess-1",
		version:     7,
		nonce:       "N0nceN0nceN0nceN0nceN0nc",
		issuedAt:    issuedAt,
	})

	assert.True(t, strings.HasPrefix(msg, "enclagent frontdoor wants you to verify ownership of:\n0x52908400098527886e0f7030069857d2e4169ee7\n"))
	assert.Contains(t, msg, "Link: did:privy:abc123")
	assert.Contains(t, msg, "Chain ID: 8453")
	assert.Contains(t, msg, "Session: sess-1")
	assert.Contains(t, msg, "Agent Version: v7")
	assert.Contains(t, msg, "Nonce: N0nceN0nceN0nceN0nceN0nc")
	assert.Contains(t, msg, "Issued At: 2025-06-01T12:30:00Z")
	assert.Contains(t, msg, "costs no gas")
}

func TestRenderChallengeWalletOnly(t *testing.T) {
	wallet, err := interfaces.NewWalletAddressFromHex("0x52908400098527886e0f7030069857d2e4169ee7")
	require.NoError(t, err)

	msg := renderChallenge(challengeParams{
		wallet:   wallet,
		chainID:  1,
		issuedAt: time.Now(),
	})
	assert.Contains(t, msg, "Link: "+walletOnlySentinel)
}

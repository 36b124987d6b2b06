// Package session implements the frontdoor's in-memory authorization session
// table: challenge issuance, signature verification, the session state
// machine, and time-based expiry.
package session

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/enclagent/frontdoor/interfaces"
)

// walletOnlySentinel replaces the privy-link identifier in challenges issued
// without an associated Privy user.
const walletOnlySentinel = "wallet_only"

const (
	nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	nonceLength   = 24
)

// newNonce draws 24 alphanumeric characters from crypto/rand, with rejection
// sampling so every character is uniformly distributed.
func newNonce() (string, error) {
	// Largest multiple of len(nonceAlphabet) that fits in a byte.
	max := byte(256 - 256%len(nonceAlphabet))

	out := make([]byte, 0, nonceLength)
	buf := make([]byte, nonceLength)
	for len(out) < nonceLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("nonce generation failed: %w", err)
		}
		for _, b := range buf {
			if b >= max {
				continue
			}
			out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			if len(out) == nonceLength {
				break
			}
		}
	}
	return string(out), nil
}

type challengeParams struct {
	wallet      interfaces.WalletAddress
	privyUserID string
	chainID     int64
	sessionID   interfaces.SessionID
	version     uint64
	nonce       string
	issuedAt    time.Time
}

// renderChallenge produces the exact signing message for a session. The
// rendered string is stored verbatim and is the only value accepted at
// verification time; verification compares bytes after trimming, it never
// re-derives the message.
func renderChallenge(p challengeParams) string {
	link := p.privyUserID
	if link == "" {
		link = walletOnlySentinel
	}

	return fmt.Sprintf(`enclagent frontdoor wants you to verify ownership of:
%s

Link: %s
Chain ID: %d
Session: %s
Agent Version: v%d
Nonce: %s
Issued At: %s

By signing this message you authorize enclagent to provision a dedicated agent instance for this wallet. This signature does not approve any blockchain transaction and costs no gas.`,
		p.wallet, link, p.chainID, p.sessionID, p.version, p.nonce,
		p.issuedAt.UTC().Format(time.RFC3339))
}

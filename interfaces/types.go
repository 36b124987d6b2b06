// Package interfaces defines the core types and contracts for the frontdoor
// wallet provisioning service. It provides the contract between different
// components without implementation details.
package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WalletAddress represents a normalized EVM wallet address (20 bytes).
// All wallet comparisons in the service happen on normalized values.
type WalletAddress [20]byte

// NewWalletAddressFromHex creates a wallet address from its 0x-prefixed hex
// representation. It accepts only strings of exactly 42 characters starting
// with "0x" whose remaining 40 characters are hex digits.
func NewWalletAddressFromHex(addr string) (WalletAddress, error) {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return WalletAddress{}, fmt.Errorf("%w: must be 0x followed by 40 hex characters", ErrInvalidWalletAddress)
	}

	addrBytes, err := hex.DecodeString(addr[2:])
	if err != nil {
		return WalletAddress{}, fmt.Errorf("%w: %v", ErrInvalidWalletAddress, err)
	}

	var res WalletAddress
	copy(res[:], addrBytes)
	return res, nil
}

// NewWalletAddressFromBytes creates a wallet address from a raw 20-byte slice.
func NewWalletAddressFromBytes(addr []byte) (WalletAddress, error) {
	if len(addr) != 20 {
		return WalletAddress{}, fmt.Errorf("%w: must be 20 bytes", ErrInvalidWalletAddress)
	}

	var res WalletAddress
	copy(res[:], addr)
	return res, nil
}

// String returns the lowercase 0x-prefixed hex representation of the address.
func (addr WalletAddress) String() string {
	return "0x" + hex.EncodeToString(addr[:])
}

// Bytes returns the raw 20-byte address.
func (addr WalletAddress) Bytes() []byte {
	return addr[:]
}

// Equal compares two wallet addresses for equality.
func (addr WalletAddress) Equal(other WalletAddress) bool {
	return addr == other
}

// MarshalText implements encoding.TextMarshaler so addresses serialize as
// their normalized hex form, including as JSON object keys.
func (addr WalletAddress) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (addr *WalletAddress) UnmarshalText(text []byte) error {
	parsed, err := NewWalletAddressFromHex(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}

// SessionID is an opaque unique identifier for an authorization session.
type SessionID string

// SessionStatus describes where a session is in its lifecycle.
type SessionStatus string

const (
	// StatusAwaitingSignature is the initial state, set at challenge creation.
	StatusAwaitingSignature SessionStatus = "awaiting_signature"

	// StatusProvisioning is set after a verified signature submission while
	// the provisioning backend runs.
	StatusProvisioning SessionStatus = "provisioning"

	// StatusReady is a terminal state: the provisioning backend succeeded.
	StatusReady SessionStatus = "ready"

	// StatusFailed is a terminal state: the provisioning backend failed.
	StatusFailed SessionStatus = "failed"

	// StatusExpired is a terminal state: the session timed out.
	StatusExpired SessionStatus = "expired"
)

// Terminal reports whether the status is final for API purposes. A session
// is never resurrected; a new challenge creates a new session id.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusReady, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// ProvisioningSource identifies which backend strategy produced a session's
// provisioning outcome.
type ProvisioningSource string

const (
	SourceUnknown            ProvisioningSource = "unknown"
	SourceCommand            ProvisioningSource = "command"
	SourceDefaultInstanceURL ProvisioningSource = "default_instance_url"
	SourceUnconfigured       ProvisioningSource = "unconfigured"
)

// WalletRecord is the durable per-wallet ledger entry. It is written only
// after a session reaches ready; a failed provisioning never mutates it.
type WalletRecord struct {
	// Version is the last successfully provisioned version. It never decreases.
	Version uint64 `json:"version"`

	// LastInstanceURL is the instance URL recorded at the last success.
	LastInstanceURL string `json:"last_instance_url"`

	// LastProfileName is the profile name recorded at the last success.
	LastProfileName string `json:"last_profile_name"`

	// UpdatedAt is the time of the last successful provisioning.
	UpdatedAt time.Time `json:"updated_at"`
}

// Input validation errors, surfaced synchronously to the caller.
var (
	ErrInvalidWalletAddress = errors.New("invalid wallet address")
	ErrMalformedSignature   = errors.New("malformed signature")
	ErrInvalidConfig        = errors.New("invalid agent config")
)

// Authorization errors, treated as client errors. The raw signature is never
// included in these nor logged alongside them.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrWalletMismatch    = errors.New("wallet address does not match session")
	ErrIdentityMismatch  = errors.New("identity does not match session")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrMessageMismatch   = errors.New("message does not match issued challenge")
	ErrSignatureMismatch = errors.New("signature does not match wallet")
	ErrSessionNotPending = errors.New("session is not awaiting a signature")
)

// Provisioning errors, captured on the session rather than returned to the
// original caller.
var (
	ErrBackendUnconfigured = errors.New("no provisioning backend configured")
	ErrNoInstanceURL       = errors.New("no instance url in provisioner output")
)

// Persistence errors.
var (
	ErrInvalidStoreURI  = errors.New("invalid wallet store location URI")
	ErrStoreUnavailable = errors.New("wallet store unavailable")
)

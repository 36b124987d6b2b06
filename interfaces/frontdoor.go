package interfaces

import "context"

// WalletRecordStore is the durable per-wallet ledger. Implementations load
// their contents once at construction (a missing document is an empty store,
// not an error) and rewrite the whole document on every Put. The store is
// written only by the single-process orchestrator; no concurrent external
// writer is expected.
type WalletRecordStore interface {
	// Lookup returns the record for a wallet, if one exists.
	Lookup(wallet WalletAddress) (WalletRecord, bool)

	// Put inserts or replaces the record for a wallet and persists the
	// updated ledger. The write must not corrupt the existing document on
	// failure.
	Put(ctx context.Context, wallet WalletAddress, record WalletRecord) error

	// Name returns a unique identifier for this store backend.
	Name() string

	// LocationURI returns the URI this store was created from.
	LocationURI() string
}

// ProvisioningResult is the outcome of a successful provisioning run.
type ProvisioningResult struct {
	// InstanceURL is the address of the provisioned runtime instance.
	InstanceURL string

	// VerifyURL points at an independently verifiable deployment, when the
	// instance host matches the verification-host allowlist or the backend
	// reported one explicitly.
	VerifyURL string

	// EigenAppID is the opaque application identifier reported by the
	// backend, when present.
	EigenAppID string
}

// ProvisioningDriver is one backend strategy for turning a verified session
// into a running, addressable instance.
type ProvisioningDriver interface {
	// Provision runs the backend. It is called outside any session lock and
	// may block for the duration of an external command.
	Provision(ctx context.Context, input ProvisioningInput) (*ProvisioningResult, error)

	// Source identifies the strategy for session bookkeeping.
	Source() ProvisioningSource
}

// ProvisioningInput is an immutable snapshot of a session's inputs, taken
// under a brief read lock before any provisioning I/O starts.
type ProvisioningInput struct {
	SessionID          SessionID
	Wallet             WalletAddress
	PrivyUserID        string
	PrivyIdentityToken string
	PrivyAccessToken   string
	ChainID            int64
	Version            uint64
	Nonce              string

	// ConfigJSON is the serialized agent configuration, already validated.
	ConfigJSON []byte

	// ConfigB64 is ConfigJSON pre-encoded as URL-safe base64, for command
	// templates that need a single opaque token.
	ConfigB64 string

	// ConfigFields exposes selected configuration values individually for
	// command templating.
	ConfigFields map[string]string
}

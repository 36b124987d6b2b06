// Package storage implements the durable per-wallet ledger behind the
// frontdoor. Every backend holds the full ledger in memory, loaded once at
// startup, and rewrites the whole document on each successful provisioning.
// A full rewrite is acceptable because updates are infrequent and the ledger
// is small.
//
// Supported backends, selected by location URI:
//
//   - file:// - Local filesystem (the default deployment)
//   - s3://   - Amazon S3 or compatible object storage
//   - vault://- HashiCorp Vault KV v2
//   - ipfs:// - IPFS mutable files (MFS) on a local node
package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/enclagent/frontdoor/interfaces"
)

// ledgerDocument is the persisted JSON shape:
//
//	{ "wallets": { "0x...": { "version": 3, ... } } }
type ledgerDocument struct {
	Wallets map[string]interfaces.WalletRecord `json:"wallets"`
}

// ledger is the in-memory state shared by all backends. Mutation follows a
// serialize-persist-commit order so a failed write never corrupts the
// in-memory state nor the previously persisted document.
type ledger struct {
	mu      sync.RWMutex
	wallets map[string]interfaces.WalletRecord
}

func newLedger() ledger {
	return ledger{wallets: make(map[string]interfaces.WalletRecord)}
}

// load replaces the in-memory state from a persisted document. Empty data
// yields an empty ledger.
func (l *ledger) load(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	var doc ledgerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing wallet ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for wallet, record := range doc.Wallets {
		// Keys are re-validated on load so a hand-edited document cannot
		// smuggle unnormalized addresses into comparisons.
		addr, err := interfaces.NewWalletAddressFromHex(wallet)
		if err != nil {
			return fmt.Errorf("wallet ledger key %q: %w", wallet, err)
		}
		l.wallets[addr.String()] = record
	}
	return nil
}

// lookup returns the record for a wallet, if present.
func (l *ledger) lookup(wallet interfaces.WalletAddress) (interfaces.WalletRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.wallets[wallet.String()]
	return record, ok
}

// serializeWith renders the full document as it would look with the given
// record applied, without mutating the in-memory state.
func (l *ledger) serializeWith(wallet interfaces.WalletAddress, record interfaces.WalletRecord) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	doc := ledgerDocument{Wallets: make(map[string]interfaces.WalletRecord, len(l.wallets)+1)}
	for k, v := range l.wallets {
		doc.Wallets[k] = v
	}
	doc.Wallets[wallet.String()] = record

	return json.MarshalIndent(doc, "", "  ")
}

// commit applies the record to the in-memory state after a successful
// persist.
func (l *ledger) commit(wallet interfaces.WalletAddress, record interfaces.WalletRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wallets[wallet.String()] = record
}

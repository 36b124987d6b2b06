package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/enclagent/frontdoor/interfaces"
)

// FileStore persists the wallet ledger as a single JSON file. It is the
// default backend; the conventional location is
// ~/.enclagent/frontdoor/wallet_sessions.json.
type FileStore struct {
	path        string
	log         *slog.Logger
	locationURI string

	ledger ledger
}

// DefaultFilePath returns the conventional ledger location under the user's
// home directory.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".enclagent", "frontdoor", "wallet_sessions.json"), nil
}

// NewFileStore creates a file-backed wallet record store and loads the
// existing document. A missing file is an empty store, not an error.
func NewFileStore(path string, log *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:        path,
		log:         log,
		locationURI: "file://" + path,
		ledger:      newLedger(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading wallet ledger %s: %w", path, err)
		}
		log.Debug("No wallet ledger yet", slog.String("path", path))
		return s, nil
	}

	if err := s.ledger.load(data); err != nil {
		return nil, err
	}

	log.Info("Wallet ledger loaded",
		slog.String("path", path),
		slog.Int("wallets", len(s.ledger.wallets)))
	return s, nil
}

// Lookup returns the record for a wallet, if one exists.
func (s *FileStore) Lookup(wallet interfaces.WalletAddress) (interfaces.WalletRecord, bool) {
	return s.ledger.lookup(wallet)
}

// Put persists the updated ledger. The write goes through a temporary file
// and a rename so a failure cannot corrupt the existing document.
func (s *FileStore) Put(ctx context.Context, wallet interfaces.WalletAddress, record interfaces.WalletRecord) error {
	data, err := s.ledger.serializeWith(wallet, record)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing wallet ledger: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing wallet ledger: %w", err)
	}

	s.ledger.commit(wallet, record)
	s.log.Debug("Wallet ledger written",
		slog.String("path", s.path),
		slog.String("wallet", wallet.String()),
		slog.Uint64("version", record.Version))
	return nil
}

// Name returns a unique identifier for this store backend.
func (s *FileStore) Name() string {
	return "file-" + filepath.Base(filepath.Dir(s.path))
}

// LocationURI returns the URI that identifies this store.
func (s *FileStore) LocationURI() string {
	return s.locationURI
}

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/enclagent/frontdoor/interfaces"
)

// ipfsLedgerPath is the ledger location inside the node's mutable file
// system. MFS gives the content-addressed store a stable, rewritable path.
const ipfsLedgerPath = "/enclagent/frontdoor/wallet_sessions.json"

// IPFSStore persists the wallet ledger through an IPFS node's mutable files
// API (MFS).
type IPFSStore struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string

	ledger ledger
}

// NewIPFSStore creates an IPFS-backed wallet record store connected to the
// node API at host:port and loads the existing ledger file. A missing MFS
// file is an empty store, not an error.
func NewIPFSStore(ctx context.Context, host, port string, log *slog.Logger) (*IPFSStore, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	s := &IPFSStore{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/", apiURL),
		ledger:      newLedger(),
	}

	if !s.shell.IsUp() {
		return nil, fmt.Errorf("%w: IPFS node %s not reachable", interfaces.ErrStoreUnavailable, apiURL)
	}

	if err := s.loadInitial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *IPFSStore) loadInitial(ctx context.Context) error {
	reader, err := s.shell.FilesRead(ctx, ipfsLedgerPath)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "no link named") {
			s.log.Debug("No wallet ledger in MFS yet", slog.String("path", ipfsLedgerPath))
			return nil
		}
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("reading wallet ledger from MFS: %w", err)
	}

	if err := s.ledger.load(data); err != nil {
		return err
	}

	s.log.Info("Wallet ledger loaded from IPFS",
		slog.String("path", ipfsLedgerPath),
		slog.Int("wallets", len(s.ledger.wallets)))
	return nil
}

// Lookup returns the record for a wallet, if one exists.
func (s *IPFSStore) Lookup(wallet interfaces.WalletAddress) (interfaces.WalletRecord, bool) {
	return s.ledger.lookup(wallet)
}

// Put rewrites the ledger file in MFS, creating parent directories as
// needed and truncating any previous content.
func (s *IPFSStore) Put(ctx context.Context, wallet interfaces.WalletAddress, record interfaces.WalletRecord) error {
	data, err := s.ledger.serializeWith(wallet, record)
	if err != nil {
		return err
	}

	err = s.shell.FilesWrite(ctx, ipfsLedgerPath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	s.ledger.commit(wallet, record)
	s.log.Debug("Wallet ledger written to IPFS",
		slog.String("path", ipfsLedgerPath),
		slog.String("wallet", wallet.String()),
		slog.Uint64("version", record.Version))
	return nil
}

// Name returns a unique identifier for this store backend.
func (s *IPFSStore) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", s.host, s.port)
}

// LocationURI returns the URI that identifies this store.
func (s *IPFSStore) LocationURI() string {
	return s.locationURI
}

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/enclagent/frontdoor/interfaces"
)

// VaultStore persists the wallet ledger in HashiCorp Vault's KV v2 engine,
// as a single secret holding the serialized document.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string

	ledger ledger
}

// NewVaultStore creates a Vault-backed wallet record store and loads the
// existing ledger secret. A missing secret is an empty store, not an error.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "enclagent/frontdoor")
//   - token: Vault token; falls back to the client's ambient configuration
//     (VAULT_TOKEN) when empty
func NewVaultStore(ctx context.Context, address, mountPath, dataPath, token string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	s := &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
		ledger:      newLedger(),
	}

	if err := s.loadInitial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *VaultStore) loadInitial(ctx context.Context) error {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.secretPath())
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		s.log.Debug("No wallet ledger secret yet", slog.String("path", s.secretPath()))
		return nil
	}

	// KV v2 nests the payload under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid data format in Vault response")
	}
	content, ok := data["content"].(string)
	if !ok {
		return fmt.Errorf("content key not found in Vault data")
	}

	if err := s.ledger.load([]byte(content)); err != nil {
		return err
	}

	s.log.Info("Wallet ledger loaded from Vault",
		slog.String("path", s.secretPath()),
		slog.Int("wallets", len(s.ledger.wallets)))
	return nil
}

// Lookup returns the record for a wallet, if one exists.
func (s *VaultStore) Lookup(wallet interfaces.WalletAddress) (interfaces.WalletRecord, bool) {
	return s.ledger.lookup(wallet)
}

// Put rewrites the ledger secret. Vault keeps prior KV v2 versions, so a
// failed write never destroys the previous document.
func (s *VaultStore) Put(ctx context.Context, wallet interfaces.WalletAddress, record interfaces.WalletRecord) error {
	data, err := s.ledger.serializeWith(wallet, record)
	if err != nil {
		return err
	}

	_, err = s.client.Logical().WriteWithContext(ctx, s.secretPath(), map[string]interface{}{
		"data": map[string]interface{}{
			"content": string(data),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	s.ledger.commit(wallet, record)
	s.log.Debug("Wallet ledger written to Vault",
		slog.String("path", s.secretPath()),
		slog.String("wallet", wallet.String()),
		slog.Uint64("version", record.Version))
	return nil
}

// Name returns a unique identifier for this store backend.
func (s *VaultStore) Name() string {
	return "vault-" + s.dataPath
}

// LocationURI returns the URI that identifies this store.
func (s *VaultStore) LocationURI() string {
	return s.locationURI
}

func (s *VaultStore) secretPath() string {
	return fmt.Sprintf("%s/data/%s/wallet_sessions", s.mountPath, s.dataPath)
}

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/enclagent/frontdoor/interfaces"
)

// StoreFactory creates wallet record stores from URI strings.
type StoreFactory struct {
	log *slog.Logger
}

// NewStoreFactory creates a new factory instance that can create wallet
// record stores.
func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	return &StoreFactory{log: logger}
}

// StoreFor creates a wallet record store from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem ledger
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2 secret store
//   - ipfs:// - IPFS node mutable files (MFS)
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *StoreFactory) StoreFor(ctx context.Context, locationURI string) (interfaces.WalletRecordStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidStoreURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return sf.createFileStore(u)
	case "s3":
		return sf.createS3Store(ctx, u)
	case "vault":
		return sf.createVaultStore(ctx, u)
	case "ipfs":
		return sf.createIPFSStore(ctx, u)
	default:
		return nil, fmt.Errorf("%w: unsupported store scheme: %s", interfaces.ErrInvalidStoreURI, u.Scheme)
	}
}

// createFileStore creates a filesystem-backed store.
// URI format: file:///absolute/path/wallet_sessions.json
func (sf *StoreFactory) createFileStore(u *url.URL) (interfaces.WalletRecordStore, error) {
	sf.log.Debug("Creating file store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidStoreURI, u.String())
	}

	return NewFileStore(path, sf.log)
}

// createS3Store creates an S3 or S3-compatible store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=custom.s3.com
func (sf *StoreFactory) createS3Store(ctx context.Context, u *url.URL) (interfaces.WalletRecordStore, error) {
	sf.log.Debug("Creating S3 store", slog.String("uri", u.String()))

	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket name in S3 URI", interfaces.ErrInvalidStoreURI)
	}
	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	} else {
		sf.log.Debug("No credentials in S3 URI, relying on the ambient AWS credential chain")
	}

	return NewS3Store(ctx, bucketName, prefix, region, endpoint, accessKey, secretKey, sf.log)
}

// createVaultStore creates a HashiCorp Vault KV v2 store.
// URI format: vault://host:port/mount/data/path?token=...&tls=true
// When no token is given the client falls back to the VAULT_TOKEN
// environment variable.
func (sf *StoreFactory) createVaultStore(ctx context.Context, u *url.URL) (interfaces.WalletRecordStore, error) {
	sf.log.Debug("Creating Vault store", slog.String("uri", u.String()))

	query := u.Query()
	scheme := "http"
	if query.Get("tls") == "true" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault URI must include /mount/data-path", interfaces.ErrInvalidStoreURI)
	}

	return NewVaultStore(ctx, address, parts[0], parts[1], query.Get("token"), sf.log)
}

// createIPFSStore creates an IPFS MFS store.
// URI format: ipfs://host:port/
func (sf *StoreFactory) createIPFSStore(ctx context.Context, u *url.URL) (interfaces.WalletRecordStore, error) {
	sf.log.Debug("Creating IPFS store", slog.String("uri", u.String()))

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "5001"
	}

	return NewIPFSStore(ctx, host, port, sf.log)
}

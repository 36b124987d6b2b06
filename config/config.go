// Package config holds the environment-driven service configuration.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/enclagent/frontdoor/interfaces"
	"github.com/enclagent/frontdoor/session"
)

// ServiceConfig is populated from ENCLAGENT_FRONTDOOR_* environment
// variables. Command-line flags take precedence where both are given.
type ServiceConfig struct {
	// Enabled gates the whole provisioning flow. When false the service
	// still serves its bootstrap document so clients can discover that
	// dynamic provisioning is off.
	Enabled bool `env:"ENCLAGENT_FRONTDOOR_ENABLED,default=true"`

	// RequireIdentityCheck makes verification reject sessions where the
	// verifying identity differs from the one that requested the challenge.
	RequireIdentityCheck bool `env:"ENCLAGENT_FRONTDOOR_REQUIRE_IDENTITY_CHECK,default=false"`

	// ProvisionCommand is the shell template executed to provision an
	// instance. Placeholders like {wallet_address} become environment
	// variable references before execution.
	ProvisionCommand string `env:"ENCLAGENT_FRONTDOOR_PROVISION_COMMAND"`

	// DefaultInstanceURL is returned for every wallet when no provision
	// command is configured.
	DefaultInstanceURL string `env:"ENCLAGENT_FRONTDOOR_DEFAULT_INSTANCE_URL"`

	// VerifyHosts is a comma-separated allowlist of hosts whose URLs may be
	// surfaced as verification links. Entries like *.example.com match
	// subdomains.
	VerifyHosts string `env:"ENCLAGENT_FRONTDOOR_VERIFY_HOSTS,default=app.eigencloud.xyz"`

	// SessionTTL bounds how long a challenge stays signable.
	SessionTTL time.Duration `env:"ENCLAGENT_FRONTDOOR_SESSION_TTL,default=10m"`

	// CommandTimeout bounds a single provisioning command run.
	CommandTimeout time.Duration `env:"ENCLAGENT_FRONTDOOR_COMMAND_TIMEOUT,default=10m"`

	// WalletStore is the location URI of the wallet record ledger
	// (file://, s3://, vault:// or ipfs://). Empty selects the default
	// file path under the user's home directory.
	WalletStore string `env:"ENCLAGENT_FRONTDOOR_WALLET_STORE"`

	// PollIntervalMS is the status poll interval advertised to clients.
	PollIntervalMS int `env:"ENCLAGENT_FRONTDOOR_POLL_INTERVAL_MS,default=2000"`
}

// FromEnv decodes the service configuration from the environment. All
// variables have defaults or may be absent, so decoding never requires any
// to be set.
func FromEnv() (*ServiceConfig, error) {
	cfg := &ServiceConfig{}
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	return cfg, nil
}

// Backend reports which provisioning backend the configuration selects.
// A provision command wins over a default instance URL.
func (c *ServiceConfig) Backend() interfaces.ProvisioningSource {
	switch {
	case !c.Enabled:
		return interfaces.SourceUnconfigured
	case c.ProvisionCommand != "":
		return interfaces.SourceCommand
	case c.DefaultInstanceURL != "":
		return interfaces.SourceDefaultInstanceURL
	default:
		return interfaces.SourceUnconfigured
	}
}

// DynamicProvisioning reports whether a per-wallet provisioning command is
// configured, as opposed to a shared static URL or nothing.
func (c *ServiceConfig) DynamicProvisioning() bool {
	return c.Enabled && c.ProvisionCommand != ""
}

// TTL returns the configured session lifetime, falling back to the session
// table default when unset or non-positive.
func (c *ServiceConfig) TTL() time.Duration {
	if c.SessionTTL <= 0 {
		return session.DefaultTTL
	}
	return c.SessionTTL
}

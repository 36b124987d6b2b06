// Package agentconfig defines the agent runtime configuration submitted with
// a verified challenge. The frontdoor treats the configuration as opaque:
// it validates it once at submission time and passes it through to the
// provisioning backend as JSON.
package agentconfig

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/enclagent/frontdoor/interfaces"
)

// Custody modes supported by provisioned agents.
const (
	// CustodyModeNone runs the agent without any wallet binding.
	CustodyModeNone = "none"

	// CustodyModeUserWallet binds the agent to the connected wallet. The
	// configured user wallet address must equal the wallet that signed the
	// challenge.
	CustodyModeUserWallet = "user_wallet"

	// CustodyModeDelegated binds the agent to a separate delegated wallet
	// managed outside the frontdoor.
	CustodyModeDelegated = "delegated"
)

var profileNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Config is the agent configuration for a provisioning request.
type Config struct {
	ProfileName         string `json:"profile_name"`
	CustodyMode         string `json:"custody_mode"`
	UserWalletAddress   string `json:"user_wallet_address,omitempty"`
	ChainID             int64  `json:"chain_id,omitempty"`
	ModelProvider       string `json:"model_provider,omitempty"`
	ModelName           string `json:"model_name,omitempty"`
	RPCURL              string `json:"rpc_url,omitempty"`
	VerificationBackend string `json:"verification_backend,omitempty"`
	AutoStart           bool   `json:"auto_start,omitempty"`
}

// Validate checks the configuration's business rules. It is called once,
// before signature verification, and implementations downstream may assume
// a validated configuration.
func (c *Config) Validate() error {
	if c.ProfileName == "" {
		return fmt.Errorf("%w: profile_name is required", interfaces.ErrInvalidConfig)
	}
	if !profileNameRe.MatchString(c.ProfileName) {
		return fmt.Errorf("%w: profile_name must match %s", interfaces.ErrInvalidConfig, profileNameRe.String())
	}

	switch c.CustodyMode {
	case CustodyModeNone, CustodyModeDelegated:
	case CustodyModeUserWallet:
		if c.UserWalletAddress == "" {
			return fmt.Errorf("%w: custody_mode %q requires user_wallet_address", interfaces.ErrInvalidConfig, c.CustodyMode)
		}
	case "":
		return fmt.Errorf("%w: custody_mode is required", interfaces.ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown custody_mode %q", interfaces.ErrInvalidConfig, c.CustodyMode)
	}

	if c.UserWalletAddress != "" {
		if _, err := interfaces.NewWalletAddressFromHex(c.UserWalletAddress); err != nil {
			return fmt.Errorf("%w: user_wallet_address: %v", interfaces.ErrInvalidConfig, err)
		}
	}

	if c.ChainID < 0 {
		return fmt.Errorf("%w: chain_id must not be negative", interfaces.ErrInvalidConfig)
	}

	if c.RPCURL != "" {
		u, err := url.Parse(c.RPCURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("%w: rpc_url must be an http(s) or ws(s) URL", interfaces.ErrInvalidConfig)
		}
	}

	return nil
}

// RequiresConnectedWallet reports whether the custody mode binds the agent
// to the wallet that signed the challenge.
func (c *Config) RequiresConnectedWallet() bool {
	return c.CustodyMode == CustodyModeUserWallet
}

// JSON returns the canonical JSON serialization of the configuration.
func (c *Config) JSON() ([]byte, error) {
	return json.Marshal(c)
}

// Base64JSON returns the JSON serialization pre-encoded as URL-safe base64,
// for command templates that need a single opaque token.
func (c *Config) Base64JSON() (string, error) {
	data, err := c.JSON()
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// EnvFields exposes individual configuration values keyed by their command
// template placeholder names.
func (c *Config) EnvFields() map[string]string {
	return map[string]string{
		"profile_name":         c.ProfileName,
		"custody_mode":         c.CustodyMode,
		"user_wallet_address":  c.UserWalletAddress,
		"config_chain_id":      strconv.FormatInt(c.ChainID, 10),
		"model_provider":       c.ModelProvider,
		"model_name":           c.ModelName,
		"rpc_url":              c.RPCURL,
		"verification_backend": c.VerificationBackend,
		"auto_start":           strconv.FormatBool(c.AutoStart),
	}
}

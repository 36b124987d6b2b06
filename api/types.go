// Package api defines the wire types of the frontdoor HTTP API and a typed
// client for it.
package api

import (
	"time"

	"github.com/enclagent/frontdoor/agentconfig"
	"github.com/enclagent/frontdoor/interfaces"
	"github.com/enclagent/frontdoor/session"
)

// Mandatory onboarding steps advertised in the bootstrap document. Clients
// render these in order and must not skip any.
const (
	StepConnectWallet   = "connect_wallet"
	StepConfigureAgent  = "configure_agent"
	StepSignChallenge   = "sign_challenge"
	StepAwaitProvision  = "await_provision"
	StepOpenInstanceURL = "open_instance_url"
)

// MandatorySteps lists the onboarding steps in the order clients must walk
// them.
func MandatorySteps() []string {
	return []string{
		StepConnectWallet,
		StepConfigureAgent,
		StepSignChallenge,
		StepAwaitProvision,
		StepOpenInstanceURL,
	}
}

// BootstrapResponse describes the service to clients before they start the
// flow.
type BootstrapResponse struct {
	// Enabled reports whether provisioning is available at all.
	Enabled bool `json:"enabled"`

	// RequireIdentityCheck tells clients the verify call must carry the
	// same identity that requested the challenge.
	RequireIdentityCheck bool `json:"require_identity_check"`

	// ProvisioningBackend is the configured backend kind.
	ProvisioningBackend interfaces.ProvisioningSource `json:"provisioning_backend"`

	// DynamicProvisioningEnabled is true when each wallet gets its own
	// instance rather than a shared default URL.
	DynamicProvisioningEnabled bool `json:"dynamic_provisioning_enabled"`

	// PollIntervalMS is the suggested session status poll interval.
	PollIntervalMS int `json:"poll_interval_ms"`

	// MandatorySteps is the ordered onboarding step list.
	MandatorySteps []string `json:"mandatory_steps"`
}

// ChallengeRequest asks for a new signing challenge.
type ChallengeRequest struct {
	WalletAddress string `json:"wallet_address"`
	PrivyUserID   string `json:"privy_user_id,omitempty"`
	ChainID       int64  `json:"chain_id,omitempty"`
}

// ChallengeResponse carries the message the wallet must sign.
type ChallengeResponse struct {
	SessionID     interfaces.SessionID `json:"session_id"`
	WalletAddress string               `json:"wallet_address"`
	Message       string               `json:"message"`
	ExpiresAt     time.Time            `json:"expires_at"`
	Version       uint64               `json:"version"`
}

// VerifyRequest submits the signed challenge together with the agent
// configuration to provision with.
type VerifyRequest struct {
	SessionID          interfaces.SessionID `json:"session_id"`
	WalletAddress      string               `json:"wallet_address"`
	Message            string               `json:"message"`
	Signature          string               `json:"signature"`
	Config             *agentconfig.Config  `json:"config"`
	PrivyUserID        string               `json:"privy_user_id,omitempty"`
	PrivyIdentityToken string               `json:"privy_identity_token,omitempty"`
	PrivyAccessToken   string               `json:"privy_access_token,omitempty"`
}

// VerifyResponse acknowledges a verified signature. Provisioning continues
// asynchronously; clients poll the session endpoint for the outcome.
type VerifyResponse struct {
	SessionID interfaces.SessionID     `json:"session_id"`
	Status    interfaces.SessionStatus `json:"status"`
	Detail    string                   `json:"detail"`
}

// SessionSnapshot is the client-visible view of a session. Signature and
// token material never appear here.
type SessionSnapshot struct {
	SessionID          interfaces.SessionID          `json:"session_id"`
	WalletAddress      string                        `json:"wallet_address"`
	Status             interfaces.SessionStatus      `json:"status"`
	Detail             string                        `json:"detail,omitempty"`
	Version            uint64                        `json:"version"`
	ChainID            int64                         `json:"chain_id"`
	ProfileName        string                        `json:"profile_name,omitempty"`
	ProvisioningSource interfaces.ProvisioningSource `json:"provisioning_source,omitempty"`
	InstanceURL        string                        `json:"instance_url,omitempty"`
	VerifyURL          string                        `json:"verify_url,omitempty"`
	EigenAppID         string                        `json:"eigen_app_id,omitempty"`
	Error              string                        `json:"error,omitempty"`
	CreatedAt          time.Time                     `json:"created_at"`
	UpdatedAt          time.Time                     `json:"updated_at"`
	ExpiresAt          time.Time                     `json:"expires_at"`
}

// SessionListResponse pages through sessions, newest activity first.
type SessionListResponse struct {
	Total    int               `json:"total"`
	Sessions []SessionSnapshot `json:"sessions"`
}

// SnapshotSession converts an internal session to its wire form.
func SnapshotSession(s session.Session) SessionSnapshot {
	snap := SessionSnapshot{
		SessionID:          s.ID,
		WalletAddress:      s.Wallet.String(),
		Status:             s.Status,
		Detail:             s.Detail,
		Version:            s.Version,
		ChainID:            s.ChainID,
		ProvisioningSource: s.ProvisioningSource,
		InstanceURL:        s.InstanceURL,
		VerifyURL:          s.VerifyURL,
		EigenAppID:         s.EigenAppID,
		Error:              s.Error,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
		ExpiresAt:          s.ExpiresAt,
	}
	if s.Config != nil {
		snap.ProfileName = s.Config.ProfileName
	}
	return snap
}

package provisioner

import (
	"context"

	"github.com/enclagent/frontdoor/interfaces"
)

// StaticBackend hands out a preconfigured instance URL instead of running a
// command. It covers deployments where every wallet shares one sandbox
// instance; the allowlist decides whether that shared instance still counts
// as independently verifiable.
type StaticBackend struct {
	// InstanceURL is used directly as the provisioned instance address.
	InstanceURL string

	// VerifyHosts decides whether InstanceURL doubles as the verify URL.
	VerifyHosts HostAllowlist
}

// Source identifies the static strategy.
func (b *StaticBackend) Source() interfaces.ProvisioningSource {
	return interfaces.SourceDefaultInstanceURL
}

// Provision returns the configured URL. The verify URL is set if and only
// if the instance host matches the verification-host allowlist.
func (b *StaticBackend) Provision(ctx context.Context, input interfaces.ProvisioningInput) (*interfaces.ProvisioningResult, error) {
	res := &interfaces.ProvisioningResult{InstanceURL: b.InstanceURL}
	if b.VerifyHosts.MatchesURL(b.InstanceURL) {
		res.VerifyURL = b.InstanceURL
	}
	return res, nil
}

package provisioner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/enclagent/frontdoor/interfaces"
)

// DefaultCommandTimeout bounds a provisioning command so a misbehaving
// provisioner cannot keep an orchestrator task blocked forever.
const DefaultCommandTimeout = 10 * time.Minute

// envPrefix is the prefix of every environment variable exposed to the
// provisioning command.
const envPrefix = "ENCLAGENT_FRONTDOOR_"

// placeholderEnv maps every supported command template placeholder to its
// environment variable name. Template text never receives values directly:
// each "{placeholder}" is replaced with a "${VAR}" shell reference and the
// value travels through the child process environment, so values containing
// shell metacharacters cannot break out of their argument position.
var placeholderEnv = map[string]string{
	"session_id":           envPrefix + "SESSION_ID",
	"wallet_address":       envPrefix + "WALLET_ADDRESS",
	"privy_user_id":        envPrefix + "PRIVY_USER_ID",
	"privy_identity_token": envPrefix + "PRIVY_IDENTITY_TOKEN",
	"privy_access_token":   envPrefix + "PRIVY_ACCESS_TOKEN",
	"chain_id":             envPrefix + "CHAIN_ID",
	"version":              envPrefix + "VERSION",
	"nonce":                envPrefix + "NONCE",
	"config_json":          envPrefix + "CONFIG_JSON",
	"config_b64":           envPrefix + "CONFIG_B64",
	"profile_name":         envPrefix + "PROFILE_NAME",
	"custody_mode":         envPrefix + "CUSTODY_MODE",
	"user_wallet_address":  envPrefix + "USER_WALLET_ADDRESS",
	"config_chain_id":      envPrefix + "CONFIG_CHAIN_ID",
	"model_provider":       envPrefix + "MODEL_PROVIDER",
	"model_name":           envPrefix + "MODEL_NAME",
	"rpc_url":              envPrefix + "RPC_URL",
	"verification_backend": envPrefix + "VERIFICATION_BACKEND",
	"auto_start":           envPrefix + "AUTO_START",
}

// CommandBackend provisions instances by running a configured shell command
// template.
type CommandBackend struct {
	// Template is the command with "{placeholder}" markers.
	Template string

	// Timeout bounds the child process. Defaults to DefaultCommandTimeout.
	Timeout time.Duration

	// VerifyHosts is consulted when deriving a verify URL from the
	// command's output.
	VerifyHosts HostAllowlist

	// Shell executes the rendered command via `shell -c`. Defaults to
	// /bin/sh.
	Shell string

	Log *slog.Logger
}

// Source identifies the command strategy.
func (b *CommandBackend) Source() interfaces.ProvisioningSource {
	return interfaces.SourceCommand
}

// Provision renders the template, executes it with the session values in the
// child environment, and parses stdout for the instance coordinates.
func (b *CommandBackend) Provision(ctx context.Context, input interfaces.ProvisioningInput) (*interfaces.ProvisioningResult, error) {
	env := computeEnv(input)
	rendered := substitutePlaceholders(b.Template)

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := b.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", rendered)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if b.Log != nil {
		b.Log.Info("Provisioning command finished",
			slog.String("session", string(input.SessionID)),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("success", err == nil))
	}

	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("provisioning command timed out after %s", timeout)
		}
		if detail == "" {
			return nil, fmt.Errorf("provisioning command failed: %w", err)
		}
		return nil, fmt.Errorf("provisioning command failed: %s", detail)
	}

	return parseCommandOutput(stdout.String(), b.VerifyHosts)
}

// computeEnv builds the child process environment from a provisioning input.
// It is a pure function, separately testable from template substitution and
// execution.
func computeEnv(input interfaces.ProvisioningInput) []string {
	values := map[string]string{
		"session_id":           string(input.SessionID),
		"wallet_address":       input.Wallet.String(),
		"privy_user_id":        input.PrivyUserID,
		"privy_identity_token": input.PrivyIdentityToken,
		"privy_access_token":   input.PrivyAccessToken,
		"chain_id":             strconv.FormatInt(input.ChainID, 10),
		"version":              strconv.FormatUint(input.Version, 10),
		"nonce":                input.Nonce,
		"config_json":          string(input.ConfigJSON),
		"config_b64":           input.ConfigB64,
	}
	for field, value := range input.ConfigFields {
		values[field] = value
	}

	env := make([]string, 0, len(placeholderEnv))
	for placeholder, envVar := range placeholderEnv {
		env = append(env, envVar+"="+values[placeholder])
	}
	return env
}

// substitutePlaceholders replaces every known "{placeholder}" in the
// template with a "${VAR}" reference to its environment variable. Unknown
// placeholders are left untouched so a misconfigured template fails loudly
// in the shell rather than silently interpolating nothing.
func substitutePlaceholders(template string) string {
	pairs := make([]string, 0, len(placeholderEnv)*2)
	for placeholder, envVar := range placeholderEnv {
		pairs = append(pairs, "{"+placeholder+"}", "${"+envVar+"}")
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

package provisioner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/enclagent/frontdoor/interfaces"
)

// eigenVerifyURLFormat derives a verify URL from a bare application id when
// the provisioner reports an id without an explicit verify URL.
const eigenVerifyURLFormat = "https://app.eigencloud.xyz/app/%s"

// commandOutput mirrors the JSON document shapes provisioning commands are
// known to emit. Field name variants are tried in declaration order.
type commandOutput struct {
	InstanceURL string `json:"instance_url"`
	URL         string `json:"url"`
	GatewayURL  string `json:"gateway_url"`

	VerifyURL      string `json:"verify_url"`
	EigenVerifyURL string `json:"eigen_verify_url"`
	EigenAppURL    string `json:"eigen_app_url"`

	EigenAppID string `json:"eigen_app_id"`
	AppID      string `json:"app_id"`
}

// parseCommandOutput extracts the provisioning result from a command's
// stdout. It first attempts to parse the entire trimmed output as JSON; if
// that fails or yields no instance URL it falls back to scanning lines in
// reverse for a bare URL.
func parseCommandOutput(stdout string, verifyHosts HostAllowlist) (*interfaces.ProvisioningResult, error) {
	if res, ok := parseStructured(stdout, verifyHosts); ok {
		return res, nil
	}
	if res, ok := parseUnstructured(stdout, verifyHosts); ok {
		return res, nil
	}
	return nil, interfaces.ErrNoInstanceURL
}

// parseStructured attempts to interpret the whole trimmed stdout as a JSON
// document. It reports false when the output is not JSON or carries no
// instance URL, letting the caller fall through to the line scan.
func parseStructured(stdout string, verifyHosts HostAllowlist) (*interfaces.ProvisioningResult, bool) {
	var out commandOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &out); err != nil {
		return nil, false
	}

	instanceURL := firstOf(out.InstanceURL, out.URL, out.GatewayURL)
	if instanceURL == "" {
		return nil, false
	}

	appID := firstOf(out.EigenAppID, out.AppID)
	verifyURL := firstOf(out.VerifyURL, out.EigenVerifyURL, out.EigenAppURL)
	if verifyURL == "" && appID != "" {
		verifyURL = fmt.Sprintf(eigenVerifyURLFormat, appID)
	}
	if verifyURL == "" && verifyHosts.MatchesURL(instanceURL) {
		verifyURL = instanceURL
	}

	return &interfaces.ProvisioningResult{
		InstanceURL: instanceURL,
		VerifyURL:   verifyURL,
		EigenAppID:  appID,
	}, true
}

// parseUnstructured scans stdout's lines in reverse order for the first line
// that begins with a URL scheme and uses it as the instance URL.
func parseUnstructured(stdout string, verifyHosts HostAllowlist) (*interfaces.ProvisioningResult, bool) {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
			continue
		}

		res := &interfaces.ProvisioningResult{InstanceURL: line}
		if verifyHosts.MatchesURL(line) {
			res.VerifyURL = line
		}
		return res, true
	}
	return nil, false
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

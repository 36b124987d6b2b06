package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/enclagent/frontdoor/interfaces"
)

// Client is a typed HTTP client for the frontdoor API.
type Client struct {
	// ServerAddr is the base URL of the frontdoor server.
	ServerAddr string

	// HTTPClient is used for all requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Bootstrap fetches the service description document.
func (c *Client) Bootstrap(ctx context.Context) (*BootstrapResponse, error) {
	var out BootstrapResponse
	if err := c.getJSON(ctx, "/api/frontdoor/bootstrap", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateChallenge requests a new signing challenge for a wallet.
func (c *Client) CreateChallenge(ctx context.Context, req *ChallengeRequest) (*ChallengeResponse, error) {
	var out ChallengeResponse
	if err := c.postJSON(ctx, "/api/frontdoor/challenge", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify submits a signed challenge and starts provisioning.
func (c *Client) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.postJSON(ctx, "/api/frontdoor/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches the current state of a session.
func (c *Client) GetSession(ctx context.Context, id interfaces.SessionID) (*SessionSnapshot, error) {
	var out SessionSnapshot
	if err := c.getJSON(ctx, "/api/frontdoor/sessions/"+url.PathEscape(string(id)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions fetches recent sessions, optionally filtered by wallet.
// A limit of 0 uses the server default.
func (c *Client) ListSessions(ctx context.Context, wallet string, limit int) (*SessionListResponse, error) {
	query := url.Values{}
	if wallet != "" {
		query.Set("wallet_address", wallet)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/frontdoor/sessions"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out SessionListResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ServerAddr+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServerAddr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s returned non-200 response: %d", req.URL.Path, resp.StatusCode)
		}
		return fmt.Errorf("%s returned error %d: %s", req.URL.Path, resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse response from %s: %w", req.URL.Path, err)
	}
	return nil
}

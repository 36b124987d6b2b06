package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enclagent/frontdoor/agentconfig"
	"github.com/enclagent/frontdoor/api"
	"github.com/enclagent/frontdoor/config"
	"github.com/enclagent/frontdoor/cryptoutils"
	"github.com/enclagent/frontdoor/interfaces"
	"github.com/enclagent/frontdoor/provisioner"
	"github.com/enclagent/frontdoor/session"
)

// memStore is an in-memory wallet record store for handler tests.
type memStore struct {
	mu      sync.Mutex
	records map[interfaces.WalletAddress]interfaces.WalletRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[interfaces.WalletAddress]interfaces.WalletRecord)}
}

func (s *memStore) Lookup(wallet interfaces.WalletAddress) (interfaces.WalletRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[wallet]
	return rec, ok
}

func (s *memStore) Put(_ context.Context, wallet interfaces.WalletAddress, rec interfaces.WalletRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[wallet] = rec
	return nil
}

func (s *memStore) Name() string        { return "mem" }
func (s *memStore) LocationURI() string { return "mem://" }

type testEnv struct {
	ts    *httptest.Server
	table *session.Table
	orch  *provisioner.Orchestrator
	store *memStore
	clock *clock.Mock
}

func newTestEnv(t *testing.T, mutate func(*config.ServiceConfig)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svcCfg := &config.ServiceConfig{
		Enabled:            true,
		DefaultInstanceURL: "https://agent.example.com",
		VerifyHosts:        "agent.example.com",
		SessionTTL:         10 * time.Minute,
		PollIntervalMS:     2000,
	}
	if mutate != nil {
		mutate(svcCfg)
	}

	store := newMemStore()
	mockClock := clock.NewMock()
	mockClock.Set(time.Now())

	table := session.NewTable(session.TableConfig{
		TTL:                  svcCfg.TTL(),
		RequireIdentityCheck: svcCfg.RequireIdentityCheck,
		Records:              store,
		Clock:                mockClock,
		Log:                  logger,
	})

	var driver interfaces.ProvisioningDriver
	if svcCfg.DefaultInstanceURL != "" {
		driver = &provisioner.StaticBackend{
			InstanceURL: svcCfg.DefaultInstanceURL,
			VerifyHosts: provisioner.NewHostAllowlist(svcCfg.VerifyHosts),
		}
	}

	orch := provisioner.NewOrchestrator(table, driver, store, nil, nil, logger)
	handler := NewHandler(svcCfg, table, orch, nil, logger)

	srv, err := New(&HTTPServerConfig{
		ListenAddr: "127.0.0.1:0",
		Log:        logger,
	}, handler, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, table: table, orch: orch, store: store, clock: mockClock}
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func validAgentConfig() *agentconfig.Config {
	return &agentconfig.Config{
		ProfileName: "trader",
		CustodyMode: agentconfig.CustodyModeNone,
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestProvisioningFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &api.Client{ServerAddr: env.ts.URL}
	ctx := context.Background()

	boot, err := client.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, boot.Enabled)
	assert.Equal(t, interfaces.SourceDefaultInstanceURL, boot.ProvisioningBackend)
	assert.False(t, boot.DynamicProvisioningEnabled)
	assert.Equal(t, api.MandatorySteps(), boot.MandatorySteps)

	key, walletHex := newWallet(t)

	challenge, err := client.CreateChallenge(ctx, &api.ChallengeRequest{WalletAddress: walletHex})
	require.NoError(t, err)
	assert.NotEmpty(t, challenge.SessionID)
	assert.Contains(t, challenge.Message, "Session: "+string(challenge.SessionID))
	assert.Equal(t, uint64(1), challenge.Version)

	signature, err := cryptoutils.SignPersonal(challenge.Message, key)
	require.NoError(t, err)

	verify, err := client.Verify(ctx, &api.VerifyRequest{
		SessionID:     challenge.SessionID,
		WalletAddress: walletHex,
		Message:       challenge.Message,
		Signature:     signature,
		Config:        validAgentConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusProvisioning, verify.Status)

	env.orch.Wait()

	snap, err := client.GetSession(ctx, challenge.SessionID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReady, snap.Status)
	assert.Equal(t, "https://agent.example.com", snap.InstanceURL)
	assert.Equal(t, "https://agent.example.com", snap.VerifyURL)
	assert.Equal(t, "trader", snap.ProfileName)

	wallet, err := interfaces.NewWalletAddressFromHex(walletHex)
	require.NoError(t, err)
	rec, found := env.store.Lookup(wallet)
	require.True(t, found)
	assert.Equal(t, uint64(1), rec.Version)
	assert.Equal(t, "https://agent.example.com", rec.LastInstanceURL)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &api.Client{ServerAddr: env.ts.URL}
	ctx := context.Background()

	_, walletHex := newWallet(t)
	otherKey, _ := newWallet(t)

	challenge, err := client.CreateChallenge(ctx, &api.ChallengeRequest{WalletAddress: walletHex})
	require.NoError(t, err)

	signature, err := cryptoutils.SignPersonal(challenge.Message, otherKey)
	require.NoError(t, err)

	resp := postJSON(t, env.ts.URL+"/api/frontdoor/verify", &api.VerifyRequest{
		SessionID:     challenge.SessionID,
		WalletAddress: walletHex,
		Message:       challenge.Message,
		Signature:     signature,
		Config:        validAgentConfig(),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Session must remain signable after a failed attempt.
	snap, err := client.GetSession(ctx, challenge.SessionID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusAwaitingSignature, snap.Status)
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &api.Client{ServerAddr: env.ts.URL}

	key, walletHex := newWallet(t)
	challenge, err := client.CreateChallenge(context.Background(), &api.ChallengeRequest{WalletAddress: walletHex})
	require.NoError(t, err)

	tampered := challenge.Message + "x"
	signature, err := cryptoutils.SignPersonal(tampered, key)
	require.NoError(t, err)

	resp := postJSON(t, env.ts.URL+"/api/frontdoor/verify", &api.VerifyRequest{
		SessionID:     challenge.SessionID,
		WalletAddress: walletHex,
		Message:       tampered,
		Signature:     signature,
		Config:        validAgentConfig(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerifyReplayRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &api.Client{ServerAddr: env.ts.URL}
	ctx := context.Background()

	key, walletHex := newWallet(t)
	challenge, err := client.CreateChallenge(ctx, &api.ChallengeRequest{WalletAddress: walletHex})
	require.NoError(t, err)

	signature, err := cryptoutils.SignPersonal(challenge.Message, key)
	require.NoError(t, err)

	req := &api.VerifyRequest{
		SessionID:     challenge.SessionID,
		WalletAddress: walletHex,
		Message:       challenge.Message,
		Signature:     signature,
		Config:        validAgentConfig(),
	}

	_, err = client.Verify(ctx, req)
	require.NoError(t, err)

	resp := postJSON(t, env.ts.URL+"/api/frontdoor/verify", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	env.orch.Wait()
}

func TestVerifyExpiredChallenge(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &api.Client{ServerAddr: env.ts.URL}

	key, walletHex := newWallet(t)
	challenge, err := client.CreateChallenge(context.Background(), &api.ChallengeRequest{WalletAddress: walletHex})
	require.NoError(t, err)

	env.clock.Add(11 * time.Minute)

	signature, err := cryptoutils.SignPersonal(challenge.Message, key)
	require.NoError(t, err)

	resp := postJSON(t, env.ts.URL+"/api/frontdoor/verify", &api.VerifyRequest{
		SessionID:     challenge.SessionID,
		WalletAddress: walletHex,
		Message:       challenge.Message,
		Signature:     signature,
		Config:        validAgentConfig(),
	})
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	snap, err := client.GetSession(context.Background(), challenge.SessionID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusExpired, snap.Status)
}

func TestVerifyRequiresConfig(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &api.Client{ServerAddr: env.ts.URL}

	key, walletHex := newWallet(t)
	challenge, err := client.CreateChallenge(context.Background(), &api.ChallengeRequest{WalletAddress: walletHex})
	require.NoError(t, err)

	signature, err := cryptoutils.SignPersonal(challenge.Message, key)
	require.NoError(t, err)

	resp := postJSON(t, env.ts.URL+"/api/frontdoor/verify", &api.VerifyRequest{
		SessionID:     challenge.SessionID,
		WalletAddress: walletHex,
		Message:       challenge.Message,
		Signature:     signature,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChallengeRejectsBadWalletAddress(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/frontdoor/challenge", &api.ChallengeRequest{WalletAddress: "52908400098527886e0f7030069857d2e4169ee7"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisabledService(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.ServiceConfig) {
		cfg.Enabled = false
	})
	client := &api.Client{ServerAddr: env.ts.URL}

	boot, err := client.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.False(t, boot.Enabled)
	assert.Equal(t, interfaces.SourceUnconfigured, boot.ProvisioningBackend)

	_, walletHex := newWallet(t)
	resp := postJSON(t, env.ts.URL+"/api/frontdoor/challenge", &api.ChallengeRequest{WalletAddress: walletHex})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetSessionNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.ts.URL + "/api/frontdoor/sessions/no-such-session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSessionsFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &api.Client{ServerAddr: env.ts.URL}
	ctx := context.Background()

	_, walletA := newWallet(t)
	_, walletB := newWallet(t)

	_, err := client.CreateChallenge(ctx, &api.ChallengeRequest{WalletAddress: walletA})
	require.NoError(t, err)
	_, err = client.CreateChallenge(ctx, &api.ChallengeRequest{WalletAddress: walletA})
	require.NoError(t, err)
	_, err = client.CreateChallenge(ctx, &api.ChallengeRequest{WalletAddress: walletB})
	require.NoError(t, err)

	all, err := client.ListSessions(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Len(t, all.Sessions, 3)

	filtered, err := client.ListSessions(ctx, walletA, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.Total)
	for _, s := range filtered.Sessions {
		wallet, err := interfaces.NewWalletAddressFromHex(walletA)
		require.NoError(t, err)
		assert.Equal(t, wallet.String(), s.WalletAddress)
	}

	limited, err := client.ListSessions(ctx, "", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, limited.Total)
	assert.Len(t, limited.Sessions, 1)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/livez", "/readyz"} {
		resp, err := http.Get(env.ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(env.ts.URL + "/drain")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(env.ts.URL + "/undrain")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

package provisioner

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enclagent/frontdoor/agentconfig"
	"github.com/enclagent/frontdoor/cryptoutils"
	"github.com/enclagent/frontdoor/instanceresolver"
	"github.com/enclagent/frontdoor/interfaces"
	"github.com/enclagent/frontdoor/metrics"
	"github.com/enclagent/frontdoor/session"
	"github.com/ethereum/go-ethereum/crypto"
)

type memStore struct {
	mu      sync.Mutex
	records map[interfaces.WalletAddress]interfaces.WalletRecord
	putErr  error
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
	if s.putErr != nil {
		return s.putErr
	}
	s.records[wallet] = rec
	return nil
}

func (s *memStore) Name() string        { return "mem" }
func (s *memStore) LocationURI() string { return "mem://" }

// startProvisioningSession walks a session to the provisioning state.
func startProvisioningSession(t *testing.T, table *session.Table) (interfaces.SessionID, interfaces.WalletAddress) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet, err := interfaces.NewWalletAddressFromBytes(crypto.PubkeyToAddress(key.PublicKey).Bytes())
	require.NoError(t, err)

	sess, err := table.CreateChallenge(wallet, "", 1)
	require.NoError(t, err)

	signature, err := cryptoutils.SignPersonal(sess.Message, key)
	require.NoError(t, err)

	_, err = table.VerifyAndStart(session.VerifyRequest{
		SessionID: sess.ID,
		Wallet:    wallet,
		Message:   sess.Message,
		Signature: signature,
		Config:    &agentconfig.Config{ProfileName: "trader", CustodyMode: agentconfig.CustodyModeNone},
	})
	require.NoError(t, err)

	return sess.ID, wallet
}

func TestOrchestratorSuccessPersistsRecord(t *testing.T) {
	store := newMemStore()
	table := session.NewTable(session.TableConfig{Records: store, Log: discardLogger()})

	driver := &StaticBackend{
		InstanceURL: "https://agent.example.com",
		VerifyHosts: NewHostAllowlist("agent.example.com"),
	}
	orch := NewOrchestrator(table, driver, store, nil, nil, discardLogger())

	id, wallet := startProvisioningSession(t, table)
	orch.Launch(id)
	orch.Wait()

	snap, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, interfaces.StatusReady, snap.Status)
	assert.Equal(t, "https://agent.example.com", snap.InstanceURL)
	assert.Equal(t, "https://agent.example.com", snap.VerifyURL)
	assert.Equal(t, interfaces.SourceDefaultInstanceURL, snap.ProvisioningSource)

	rec, found := store.Lookup(wallet)
	require.True(t, found)
	assert.Equal(t, uint64(1), rec.Version)
	assert.Equal(t, "trader", rec.LastProfileName)
	assert.Equal(t, "https://agent.example.com", rec.LastInstanceURL)
}

func TestOrchestratorFailureMarksSessionFailed(t *testing.T) {
	store := newMemStore()
	table := session.NewTable(session.TableConfig{Records: store, Log: discardLogger()})

	driver := &CommandBackend{Template: `echo "broken" >&2; exit 1`, Log: discardLogger()}
	orch := NewOrchestrator(table, driver, store, nil, nil, discardLogger())

	id, wallet := startProvisioningSession(t, table)
	orch.Launch(id)
	orch.Wait()

	snap, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, interfaces.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "broken")
	assert.Equal(t, interfaces.SourceCommand, snap.ProvisioningSource)

	// The ledger is written only on success.
	_, found := store.Lookup(wallet)
	assert.False(t, found)
}

func TestOrchestratorUnconfiguredBackend(t *testing.T) {
	store := newMemStore()
	table := session.NewTable(session.TableConfig{Records: store, Log: discardLogger()})
	orch := NewOrchestrator(table, nil, store, nil, nil, discardLogger())

	id, _ := startProvisioningSession(t, table)
	orch.Launch(id)
	orch.Wait()

	snap, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, interfaces.StatusFailed, snap.Status)
	assert.Equal(t, interfaces.ErrBackendUnconfigured.Error(), snap.Error)
	assert.Equal(t, interfaces.SourceUnconfigured, snap.ProvisioningSource)
}

func TestOrchestratorVersionNeverDecreases(t *testing.T) {
	store := newMemStore()
	table := session.NewTable(session.TableConfig{Records: store, Log: discardLogger()})

	driver := &StaticBackend{InstanceURL: "https://agent.example.com"}
	orch := NewOrchestrator(table, driver, store, nil, nil, discardLogger())

	id, wallet := startProvisioningSession(t, table)

	// A newer run already bumped the ledger past this session's version.
	require.NoError(t, store.Put(context.Background(), wallet, interfaces.WalletRecord{Version: 9}))

	orch.Launch(id)
	orch.Wait()

	rec, found := store.Lookup(wallet)
	require.True(t, found)
	assert.Equal(t, uint64(9), rec.Version)
	assert.Equal(t, "https://agent.example.com", rec.LastInstanceURL)
}

func TestOrchestratorStoreFailureKeepsSessionReady(t *testing.T) {
	store := newMemStore()
	store.putErr = assert.AnError
	table := session.NewTable(session.TableConfig{Records: store, Log: discardLogger()})

	driver := &StaticBackend{InstanceURL: "https://agent.example.com"}
	orch := NewOrchestrator(table, driver, store, nil, nil, discardLogger())

	id, _ := startProvisioningSession(t, table)
	orch.Launch(id)
	orch.Wait()

	snap, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, interfaces.StatusReady, snap.Status)
}

func TestOrchestratorCountsOutcomes(t *testing.T) {
	store := newMemStore()
	table := session.NewTable(session.TableConfig{Records: store, Log: discardLogger()})

	m, err := metrics.New("frontdoor_test", "127.0.0.1:0")
	require.NoError(t, err)

	readyOutcomes := m.ProvisioningOutcomes.WithLabelValues(
		string(interfaces.SourceDefaultInstanceURL), string(interfaces.StatusReady))
	failedOutcomes := m.ProvisioningOutcomes.WithLabelValues(
		string(interfaces.SourceUnconfigured), string(interfaces.StatusFailed))

	driver := &StaticBackend{InstanceURL: "https://agent.example.com"}
	orch := NewOrchestrator(table, driver, store, nil, m, discardLogger())

	id, _ := startProvisioningSession(t, table)
	assert.Equal(t, float64(0), testutil.ToFloat64(readyOutcomes))

	orch.Launch(id)
	orch.Wait()
	assert.Equal(t, float64(1), testutil.ToFloat64(readyOutcomes))

	// A launch without a configured backend counts as a failed run.
	unconfigured := NewOrchestrator(table, nil, store, nil, m, discardLogger())
	id2, _ := startProvisioningSession(t, table)
	unconfigured.Launch(id2)
	unconfigured.Wait()
	assert.Equal(t, float64(1), testutil.ToFloat64(failedOutcomes))

	// Both sessions reached a terminal state, so the gauge is back to zero.
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveSessions))
}

func TestOrchestratorRecordsResolvedHosts(t *testing.T) {
	store := newMemStore()
	table := session.NewTable(session.TableConfig{Records: store, Log: discardLogger()})

	// An IP-literal instance URL resolves to itself, no DNS traffic needed.
	driver := &StaticBackend{InstanceURL: "https://203.0.113.7:8443"}
	orch := NewOrchestrator(table, driver, store, &instanceresolver.Resolver{}, nil, discardLogger())

	id, _ := startProvisioningSession(t, table)
	orch.Launch(id)
	orch.Wait()

	snap, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, interfaces.StatusReady, snap.Status)
	assert.Equal(t, "instance ready at https://203.0.113.7:8443 (resolves to 203.0.113.7)", snap.Detail)
}

func TestStaticBackendVerifyURLRequiresAllowlistedHost(t *testing.T) {
	backend := &StaticBackend{
		InstanceURL: "https://shared.example.com",
		VerifyHosts: NewHostAllowlist("app.eigencloud.xyz"),
	}
	res, err := backend.Provision(context.Background(), interfaces.ProvisioningInput{})
	require.NoError(t, err)
	assert.Equal(t, "https://shared.example.com", res.InstanceURL)
	assert.Empty(t, res.VerifyURL)
	assert.Equal(t, interfaces.SourceDefaultInstanceURL, backend.Source())
}

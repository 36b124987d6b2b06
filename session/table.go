package session

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/enclagent/frontdoor/agentconfig"
	"github.com/enclagent/frontdoor/cryptoutils"
	"github.com/enclagent/frontdoor/interfaces"
)

const (
	// DefaultTTL bounds how long an issued challenge stays actionable.
	DefaultTTL = 10 * time.Minute

	// DefaultGracePeriod is how long an expired session stays readable
	// after expires_at, so late-polling clients still observe the terminal
	// status before the entry is physically removed.
	DefaultGracePeriod = 6 * time.Hour

	// DefaultListLimit applies when a list request does not specify one.
	DefaultListLimit = 20

	// MaxListLimit caps list requests.
	MaxListLimit = 100
)

// Session is an in-flight authorization session. It is owned exclusively by
// the Table; all methods return copies.
type Session struct {
	ID     interfaces.SessionID
	Wallet interfaces.WalletAddress

	// Passthrough identity fields, never interpreted cryptographically.
	PrivyUserID        string
	PrivyIdentityToken string
	PrivyAccessToken   string

	ChainID int64

	// Message is the exact challenge text issued, authoritative for later
	// equality comparison.
	Message string
	Nonce   string

	// Version is monotonically increasing per wallet, starting at 1.
	Version uint64

	// Config is set only after signature verification.
	Config *agentconfig.Config

	Status interfaces.SessionStatus
	Detail string

	ProvisioningSource interfaces.ProvisioningSource
	InstanceURL        string
	VerifyURL          string
	EigenAppID         string
	Error              string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// VerifyRequest carries the client's submission for verify_and_start.
type VerifyRequest struct {
	SessionID          interfaces.SessionID
	Wallet             interfaces.WalletAddress
	PrivyUserID        string
	PrivyIdentityToken string
	PrivyAccessToken   string
	Message            string
	Signature          string
	Config             *agentconfig.Config
}

// TableConfig configures a session table.
type TableConfig struct {
	// TTL is the challenge validity window. Defaults to DefaultTTL.
	TTL time.Duration

	// GracePeriod is how long expired sessions stay readable. Defaults to
	// DefaultGracePeriod.
	GracePeriod time.Duration

	// RequireIdentityCheck enables the optional Privy user id comparison
	// during verification.
	RequireIdentityCheck bool

	// Records is consulted for per-wallet version continuity. Required.
	Records interfaces.WalletRecordStore

	// Clock is the time source; tests inject a mock. Defaults to the wall
	// clock.
	Clock clock.Clock

	Log *slog.Logger
}

// Table is the concurrent, versioned, expiring map of in-flight sessions.
// A single RWMutex guards the map; challenge creation and verification are
// fast lock-held-briefly operations, and all provisioning I/O happens
// strictly outside the lock.
type Table struct {
	mu       sync.RWMutex
	sessions map[interfaces.SessionID]*Session

	ttl             time.Duration
	grace           time.Duration
	requireIdentity bool
	records         interfaces.WalletRecordStore
	clock           clock.Clock
	log             *slog.Logger
}

// NewTable creates a session table.
func NewTable(cfg TableConfig) *Table {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Table{
		sessions:        make(map[interfaces.SessionID]*Session),
		ttl:             cfg.TTL,
		grace:           cfg.GracePeriod,
		requireIdentity: cfg.RequireIdentityCheck,
		records:         cfg.Records,
		clock:           cfg.Clock,
		log:             cfg.Log,
	}
}

// TTL returns the configured challenge validity window.
func (t *Table) TTL() time.Duration {
	return t.ttl
}

// CreateChallenge issues a new signing challenge for a wallet and stores the
// session in awaiting_signature. The wallet's last known version is looked
// up and incremented under the table's exclusive lock, so concurrent
// challenges for the same wallet cannot lose an update.
func (t *Table) CreateChallenge(wallet interfaces.WalletAddress, privyUserID string, chainID int64) (Session, error) {
	if chainID == 0 {
		chainID = 1
	}

	nonce, err := newNonce()
	if err != nil {
		return Session{}, err
	}
	id := interfaces.SessionID(uuid.NewString())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.reapLocked()

	var version uint64 = 1
	if rec, ok := t.records.Lookup(wallet); ok {
		version = rec.Version + 1
	}

	now := t.clock.Now().UTC()
	s := &Session{
		ID:          id,
		Wallet:      wallet,
		PrivyUserID: privyUserID,
		ChainID:     chainID,
		Nonce:       nonce,
		Version:     version,
		Message: renderChallenge(challengeParams{
			wallet:      wallet,
			privyUserID: privyUserID,
			chainID:     chainID,
			sessionID:   id,
			version:     version,
			nonce:       nonce,
			issuedAt:    now,
		}),
		Status:             interfaces.StatusAwaitingSignature,
		Detail:             "awaiting wallet signature",
		ProvisioningSource: interfaces.SourceUnknown,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(t.ttl),
	}
	t.sessions[id] = s

	t.log.Info("Challenge issued",
		slog.String("session", string(id)),
		slog.String("wallet", wallet.String()),
		slog.Uint64("version", version))

	return *s, nil
}

// VerifyAndStart runs the structural authorization checks and, last of all,
// the signature verification. On success the session transitions to
// provisioning and its snapshot is returned; the caller hands the session id
// to the orchestrator outside the table lock.
//
// Checks run cheapest first; the crypto verification is the most expensive
// and runs only after everything structural has passed.
func (t *Table) VerifyAndStart(req VerifyRequest) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reapLocked()

	s, ok := t.sessions[req.SessionID]
	if !ok {
		return Session{}, interfaces.ErrSessionNotFound
	}

	if !s.Wallet.Equal(req.Wallet) {
		return Session{}, interfaces.ErrWalletMismatch
	}

	if t.requireIdentity && req.PrivyUserID != "" && s.PrivyUserID != "" && req.PrivyUserID != s.PrivyUserID {
		return Session{}, interfaces.ErrIdentityMismatch
	}

	now := t.clock.Now().UTC()
	if now.After(s.ExpiresAt) {
		// Marking the session expired is a deliberate side effect of the
		// failed verification attempt.
		if !s.Status.Terminal() {
			s.Status = interfaces.StatusExpired
			s.Detail = "challenge expired"
			s.UpdatedAt = now
		}
		return Session{}, interfaces.ErrChallengeExpired
	}

	if s.Status != interfaces.StatusAwaitingSignature {
		return Session{}, fmt.Errorf("%w: status is %s", interfaces.ErrSessionNotPending, s.Status)
	}

	if strings.TrimSpace(req.Message) != strings.TrimSpace(s.Message) {
		return Session{}, interfaces.ErrMessageMismatch
	}

	if req.Config != nil && req.Config.RequiresConnectedWallet() {
		userWallet, err := interfaces.NewWalletAddressFromHex(req.Config.UserWalletAddress)
		if err != nil || !userWallet.Equal(s.Wallet) {
			return Session{}, fmt.Errorf("%w: user_wallet_address must match the connected wallet", interfaces.ErrInvalidConfig)
		}
	}

	if err := cryptoutils.VerifyPersonalSignature(s.Message, req.Signature, s.Wallet); err != nil {
		return Session{}, err
	}

	s.Config = req.Config
	s.PrivyUserID = firstNonEmpty(req.PrivyUserID, s.PrivyUserID)
	s.PrivyIdentityToken = req.PrivyIdentityToken
	s.PrivyAccessToken = req.PrivyAccessToken
	s.Status = interfaces.StatusProvisioning
	s.Detail = "signature verified, provisioning started"
	s.UpdatedAt = now

	t.log.Info("Signature verified",
		slog.String("session", string(s.ID)),
		slog.String("wallet", s.Wallet.String()))

	return *s, nil
}

// Get returns a snapshot of a session. Expired entries are reaped first so
// callers never observe a session that is logically expired but not yet
// marked.
func (t *Table) Get(id interfaces.SessionID) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reapLocked()

	s, ok := t.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// List returns the total number of matching sessions and up to limit
// snapshots sorted by updated_at descending.
func (t *Table) List(walletFilter *interfaces.WalletAddress, limit int) (int, []Session) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.reapLocked()

	matched := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		if walletFilter != nil && !s.Wallet.Equal(*walletFilter) {
			continue
		}
		matched = append(matched, *s)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := len(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return total, matched
}

// ProvisioningInputs snapshots everything the orchestrator needs for a
// session under a brief read lock. The lock is released before any
// provisioning I/O starts.
func (t *Table) ProvisioningInputs(id interfaces.SessionID) (interfaces.ProvisioningInput, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[id]
	if !ok {
		return interfaces.ProvisioningInput{}, interfaces.ErrSessionNotFound
	}

	input := interfaces.ProvisioningInput{
		SessionID:          s.ID,
		Wallet:             s.Wallet,
		PrivyUserID:        s.PrivyUserID,
		PrivyIdentityToken: s.PrivyIdentityToken,
		PrivyAccessToken:   s.PrivyAccessToken,
		ChainID:            s.ChainID,
		Version:            s.Version,
		Nonce:              s.Nonce,
	}

	if s.Config != nil {
		configJSON, err := s.Config.JSON()
		if err != nil {
			return interfaces.ProvisioningInput{}, fmt.Errorf("serializing config: %w", err)
		}
		configB64, err := s.Config.Base64JSON()
		if err != nil {
			return interfaces.ProvisioningInput{}, fmt.Errorf("serializing config: %w", err)
		}
		input.ConfigJSON = configJSON
		input.ConfigB64 = configB64
		input.ConfigFields = s.Config.EnvFields()
	}

	return input, nil
}

// FinishProvisioning applies a provisioning outcome with a single bounded
// write. It reports whether the outcome was applied: a session that reached
// a terminal state in the meantime (for example expired by the reaper) is
// never resurrected.
func (t *Table) FinishProvisioning(id interfaces.SessionID, source interfaces.ProvisioningSource, result *interfaces.ProvisioningResult, provErr error) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return Session{}, false
	}
	if s.Status.Terminal() {
		return *s, false
	}

	now := t.clock.Now().UTC()
	s.ProvisioningSource = source
	s.UpdatedAt = now

	if provErr != nil {
		s.Status = interfaces.StatusFailed
		s.Error = provErr.Error()
		s.Detail = "provisioning failed"
		return *s, true
	}

	s.Status = interfaces.StatusReady
	s.InstanceURL = result.InstanceURL
	s.VerifyURL = result.VerifyURL
	s.EigenAppID = result.EigenAppID
	s.Detail = "instance ready at " + result.InstanceURL
	return *s, true
}

// NoteResolvedHosts appends the resolved instance addresses to a ready
// session's detail so clients observe them without a separate lookup. Any
// other state leaves the detail untouched.
func (t *Table) NoteResolvedHosts(id interfaces.SessionID, ips []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok || s.Status != interfaces.StatusReady || len(ips) == 0 {
		return
	}
	s.Detail += " (resolves to " + strings.Join(ips, ", ") + ")"
	s.UpdatedAt = t.clock.Now().UTC()
}

// ActiveCount returns the number of non-terminal sessions, for metrics.
func (t *Table) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, s := range t.sessions {
		if !s.Status.Terminal() {
			n++
		}
	}
	return n
}

// Reap marks overdue sessions expired and deletes entries past the grace
// window. It is called opportunistically by every table operation and
// periodically by the background janitor.
func (t *Table) Reap() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reapLocked()
}

func (t *Table) reapLocked() {
	now := t.clock.Now().UTC()
	for id, s := range t.sessions {
		if now.After(s.ExpiresAt.Add(t.grace)) {
			delete(t.sessions, id)
			continue
		}
		if !s.Status.Terminal() && now.After(s.ExpiresAt) {
			s.Status = interfaces.StatusExpired
			s.Detail = "challenge expired"
			s.UpdatedAt = now
			t.log.Debug("Session expired",
				slog.String("session", string(id)),
				slog.String("wallet", s.Wallet.String()))
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/enclagent/frontdoor/api"
	"github.com/enclagent/frontdoor/config"
	"github.com/enclagent/frontdoor/interfaces"
	"github.com/enclagent/frontdoor/metrics"
	"github.com/enclagent/frontdoor/provisioner"
	"github.com/enclagent/frontdoor/session"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Handler processes HTTP requests for the frontdoor provisioning flow. It
// coordinates the session table and the provisioning orchestrator; all
// durable work happens in the orchestrator's goroutines, never in a request
// handler.
type Handler struct {
	cfg     *config.ServiceConfig
	table   *session.Table
	orch    *provisioner.Orchestrator
	metrics *metrics.MetricsServer
	log     *slog.Logger
}

// NewHandler creates a new HTTP request handler.
//
// Parameters:
//   - cfg: Service configuration driving the bootstrap document
//   - table: Session table holding in-flight challenges
//   - orch: Orchestrator that runs provisioning after verification
//   - m: Metrics server for flow counters, may be nil
//   - log: Structured logger
//
// Returns a configured Handler instance.
func NewHandler(cfg *config.ServiceConfig, table *session.Table, orch *provisioner.Orchestrator, m *metrics.MetricsServer, log *slog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		table:   table,
		orch:    orch,
		metrics: m,
		log:     log,
	}
}

// HandleBootstrap describes the service so clients know which flow to walk.
//
// URL format: GET /api/frontdoor/bootstrap
func (h *Handler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	resp := api.BootstrapResponse{
		Enabled:                    h.cfg.Enabled,
		RequireIdentityCheck:       h.cfg.RequireIdentityCheck,
		ProvisioningBackend:        h.cfg.Backend(),
		DynamicProvisioningEnabled: h.cfg.DynamicProvisioning(),
		PollIntervalMS:             h.cfg.PollIntervalMS,
		MandatorySteps:             api.MandatorySteps(),
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleChallenge issues a new signing challenge for a wallet.
//
// URL format: POST /api/frontdoor/challenge
//
// Request body: JSON with wallet_address and optional privy_user_id and
// chain_id.
//
// Response: JSON with session_id, the exact message to sign, expires_at and
// the wallet's next agent version.
func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Enabled {
		h.writeError(w, &RequestError{http.StatusServiceUnavailable, errors.New("provisioning is disabled")})
		return
	}

	var req api.ChallengeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)})
		return
	}

	wallet, err := interfaces.NewWalletAddressFromHex(req.WalletAddress)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, err})
		return
	}

	sess, err := h.table.CreateChallenge(wallet, req.PrivyUserID, req.ChainID)
	if err != nil {
		h.writeError(w, h.toRequestError(err))
		return
	}

	if h.metrics != nil {
		h.metrics.ChallengesIssued.Inc()
		h.metrics.ActiveSessions.Set(float64(h.table.ActiveCount()))
	}

	h.writeJSON(w, http.StatusOK, api.ChallengeResponse{
		SessionID:     sess.ID,
		WalletAddress: sess.Wallet.String(),
		Message:       sess.Message,
		ExpiresAt:     sess.ExpiresAt,
		Version:       sess.Version,
	})
}

// HandleVerify checks a signed challenge and starts provisioning in the
// background.
//
// URL format: POST /api/frontdoor/verify
//
// Request body: JSON with session_id, wallet_address, message, signature and
// the agent config, plus optional identity tokens.
//
// Response: JSON acknowledging the transition to provisioning. The outcome
// is observed by polling the session endpoint.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Enabled {
		h.writeError(w, &RequestError{http.StatusServiceUnavailable, errors.New("provisioning is disabled")})
		return
	}

	var req api.VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)})
		return
	}

	wallet, err := interfaces.NewWalletAddressFromHex(req.WalletAddress)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, err})
		return
	}

	if req.Config == nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("%w: config is required", interfaces.ErrInvalidConfig)})
		return
	}
	if err := req.Config.Validate(); err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, err})
		return
	}

	sess, err := h.table.VerifyAndStart(session.VerifyRequest{
		SessionID:          req.SessionID,
		Wallet:             wallet,
		PrivyUserID:        req.PrivyUserID,
		PrivyIdentityToken: req.PrivyIdentityToken,
		PrivyAccessToken:   req.PrivyAccessToken,
		Message:            req.Message,
		Signature:          req.Signature,
		Config:             req.Config,
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.Verifications.WithLabelValues(verifyResultLabel(err)).Inc()
		}
		h.writeError(w, h.toRequestError(err))
		return
	}

	if h.metrics != nil {
		h.metrics.Verifications.WithLabelValues("ok").Inc()
	}

	// The session is already in the provisioning state; the orchestrator
	// picks it up on its own goroutine.
	h.orch.Launch(sess.ID)

	h.writeJSON(w, http.StatusOK, api.VerifyResponse{
		SessionID: sess.ID,
		Status:    sess.Status,
		Detail:    sess.Detail,
	})
}

// HandleGetSession returns the current state of one session.
//
// URL format: GET /api/frontdoor/sessions/{session_id}
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := interfaces.SessionID(chi.URLParam(r, "session_id"))
	sess, ok := h.table.Get(id)
	if !ok {
		h.writeError(w, &RequestError{http.StatusNotFound, interfaces.ErrSessionNotFound})
		return
	}
	h.writeJSON(w, http.StatusOK, api.SnapshotSession(sess))
}

// HandleListSessions returns recent sessions ordered by last activity.
//
// URL format: GET /api/frontdoor/sessions?wallet_address=0x..&limit=20
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	var walletFilter *interfaces.WalletAddress
	if hex := r.URL.Query().Get("wallet_address"); hex != "" {
		wallet, err := interfaces.NewWalletAddressFromHex(hex)
		if err != nil {
			h.writeError(w, &RequestError{http.StatusBadRequest, err})
			return
		}
		walletFilter = &wallet
	}

	limit := session.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("invalid limit: %q", raw)})
			return
		}
		limit = parsed
	}

	total, sessions := h.table.List(walletFilter, limit)
	resp := api.SessionListResponse{
		Total:    total,
		Sessions: make([]api.SessionSnapshot, 0, len(sessions)),
	}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, api.SnapshotSession(sess))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// toRequestError maps session table errors to HTTP status codes.
func (h *Handler) toRequestError(err error) *RequestError {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return &RequestError{http.StatusNotFound, err}
	case errors.Is(err, interfaces.ErrChallengeExpired):
		return &RequestError{http.StatusGone, err}
	case errors.Is(err, interfaces.ErrSessionNotPending):
		return &RequestError{http.StatusConflict, err}
	case errors.Is(err, interfaces.ErrSignatureMismatch),
		errors.Is(err, interfaces.ErrWalletMismatch),
		errors.Is(err, interfaces.ErrIdentityMismatch):
		return &RequestError{http.StatusUnauthorized, err}
	case errors.Is(err, interfaces.ErrMalformedSignature),
		errors.Is(err, interfaces.ErrMessageMismatch),
		errors.Is(err, interfaces.ErrInvalidWalletAddress),
		errors.Is(err, interfaces.ErrInvalidConfig):
		return &RequestError{http.StatusBadRequest, err}
	default:
		return &RequestError{http.StatusInternalServerError, err}
	}
}

// verifyResultLabel keeps the metrics cardinality bounded by folding errors
// into a small set of labels.
func verifyResultLabel(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, interfaces.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, interfaces.ErrSessionNotPending):
		return "not_pending"
	case errors.Is(err, interfaces.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, interfaces.ErrWalletMismatch), errors.Is(err, interfaces.ErrIdentityMismatch):
		return "identity_mismatch"
	case errors.Is(err, interfaces.ErrMessageMismatch):
		return "message_mismatch"
	case errors.Is(err, interfaces.ErrMalformedSignature):
		return "malformed_signature"
	default:
		return "error"
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, reqErr *RequestError) {
	if reqErr.StatusCode >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", reqErr.Err, slog.Int("status", reqErr.StatusCode))
	} else {
		h.log.Debug("Request rejected", "err", reqErr.Err, slog.Int("status", reqErr.StatusCode))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reqErr.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reqErr.Error()})
}

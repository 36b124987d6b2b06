package provisioner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/enclagent/frontdoor/instanceresolver"
	"github.com/enclagent/frontdoor/interfaces"
	"github.com/enclagent/frontdoor/metrics"
	"github.com/enclagent/frontdoor/session"
)

// Orchestrator runs the provisioning workflow for verified sessions. Each
// Launch spawns one detached task; the request handler never awaits it. The
// task snapshots its inputs under a brief read lock, runs the backend with
// no lock held, applies the outcome with one bounded write, and persists the
// wallet ledger only after the session lock is released.
type Orchestrator struct {
	table    *session.Table
	driver   interfaces.ProvisioningDriver
	records  interfaces.WalletRecordStore
	resolver *instanceresolver.Resolver
	metrics  *metrics.MetricsServer
	log      *slog.Logger

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. driver may be nil, in which case
// every launch fails the session with an unconfigured-backend error.
// resolver may be nil to skip post-provisioning host resolution; m may be
// nil to skip flow metrics.
func NewOrchestrator(table *session.Table, driver interfaces.ProvisioningDriver, records interfaces.WalletRecordStore, resolver *instanceresolver.Resolver, m *metrics.MetricsServer, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		table:    table,
		driver:   driver,
		records:  records,
		resolver: resolver,
		metrics:  m,
		log:      log,
	}
}

// Launch starts the detached provisioning task for a session. It returns
// immediately; callers observe progress through the session table.
func (o *Orchestrator) Launch(id interfaces.SessionID) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(context.Background(), id)
	}()
}

// Wait blocks until all launched tasks finish. Tests use it to observe
// terminal session states without polling.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, id interfaces.SessionID) {
	input, err := o.table.ProvisioningInputs(id)
	if err != nil {
		o.log.Error("Provisioning task could not snapshot session", "err", err,
			slog.String("session", string(id)))
		return
	}

	// All slow work happens here, with no session lock held.
	var result *interfaces.ProvisioningResult
	var provErr error
	source := interfaces.SourceUnconfigured
	if o.driver == nil {
		provErr = interfaces.ErrBackendUnconfigured
	} else {
		source = o.driver.Source()
		result, provErr = o.driver.Provision(ctx, input)
	}

	snap, applied := o.table.FinishProvisioning(id, source, result, provErr)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.table.ActiveCount()))
	}
	if !applied {
		o.log.Warn("Provisioning outcome discarded, session already terminal",
			slog.String("session", string(id)),
			slog.String("status", string(snap.Status)))
		return
	}
	if o.metrics != nil {
		o.metrics.ProvisioningOutcomes.WithLabelValues(string(source), string(snap.Status)).Inc()
	}

	if provErr != nil {
		o.log.Error("Provisioning failed", "err", provErr,
			slog.String("session", string(id)),
			slog.String("wallet", snap.Wallet.String()),
			slog.String("source", string(source)))
		return
	}

	o.log.Info("Provisioning succeeded",
		slog.String("session", string(id)),
		slog.String("wallet", snap.Wallet.String()),
		slog.String("instanceURL", snap.InstanceURL),
		slog.String("source", string(source)))

	o.persistRecord(ctx, snap)

	if o.resolver != nil {
		if ips, err := o.resolver.ResolveURL(snap.InstanceURL); err != nil {
			o.log.Warn("Instance host did not resolve", "err", err,
				slog.String("instanceURL", snap.InstanceURL))
		} else {
			o.table.NoteResolvedHosts(id, ips)
			o.log.Info("Instance host resolved",
				slog.String("instanceURL", snap.InstanceURL),
				slog.Any("ips", ips))
		}
	}
}

// persistRecord writes the wallet ledger after a successful provisioning.
// A write failure is logged but deliberately non-fatal: the in-memory
// session already reflects success.
func (o *Orchestrator) persistRecord(ctx context.Context, snap session.Session) {
	record := interfaces.WalletRecord{
		Version:         snap.Version,
		LastInstanceURL: snap.InstanceURL,
		UpdatedAt:       snap.UpdatedAt,
	}
	if snap.Config != nil {
		record.LastProfileName = snap.Config.ProfileName
	}

	// The ledger version never decreases, even if an older session
	// somehow completes after a newer one.
	if existing, ok := o.records.Lookup(snap.Wallet); ok && existing.Version > record.Version {
		record.Version = existing.Version
	}

	if err := o.records.Put(ctx, snap.Wallet, record); err != nil {
		o.log.Error("Wallet record write failed", "err", err,
			slog.String("wallet", snap.Wallet.String()),
			slog.Uint64("version", record.Version))
	}
}

// The frontdoor server authenticates wallet owners with signed challenges
// and provisions dedicated agent instances for them.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/enclagent/frontdoor/cmd/flags"
	"github.com/enclagent/frontdoor/common"
	"github.com/enclagent/frontdoor/config"
	"github.com/enclagent/frontdoor/httpserver"
	"github.com/enclagent/frontdoor/instanceresolver"
	"github.com/enclagent/frontdoor/interfaces"
	"github.com/enclagent/frontdoor/metrics"
	"github.com/enclagent/frontdoor/provisioner"
	"github.com/enclagent/frontdoor/session"
	"github.com/enclagent/frontdoor/storage"
)

var cliFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.WalletStoreFlag,
	flags.ProvisionCommandFlag,
	flags.DefaultInstanceURLFlag,
	flags.VerifyHostsFlag,
	flags.SessionTTLFlag,
	flags.CommandTimeoutFlag,
	flags.ReapIntervalFlag,
	flags.DNSServerFlag,
	flags.DisabledFlag,
	flags.RequireIdentityCheckFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:    "frontdoor",
		Usage:   "Wallet-authenticated agent provisioning service",
		Version: common.Version,
		Flags:   cliFlags,
		Action:  run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	svcCfg, err := config.FromEnv()
	if err != nil {
		logger.Error("Failed to read environment configuration", "err", err)
		return err
	}
	applyFlagOverrides(cCtx, svcCfg)

	ctx := context.Background()

	store, err := openWalletStore(ctx, svcCfg, logger)
	if err != nil {
		logger.Error("Failed to open wallet record store", "err", err)
		return err
	}
	logger.Info("Wallet record store ready",
		"backend", store.Name(),
		"location", store.LocationURI())

	table := session.NewTable(session.TableConfig{
		TTL:                  svcCfg.TTL(),
		RequireIdentityCheck: svcCfg.RequireIdentityCheck,
		Records:              store,
		Log:                  logger,
	})

	driver := buildDriver(svcCfg, logger)
	if driver == nil {
		logger.Warn("No provisioning backend configured, verified sessions will fail")
	} else {
		logger.Info("Provisioning backend configured", "source", string(driver.Source()))
	}

	var resolver *instanceresolver.Resolver
	if dnsServer := cCtx.String(flags.DNSServerFlag.Name); dnsServer != "" {
		resolver = &instanceresolver.Resolver{Server: dnsServer}
	}

	metricsAddr := cCtx.String(flags.MetricsAddrFlag.Name)
	var metricsSrv *metrics.MetricsServer
	if metricsAddr != "" {
		metricsSrv, err = metrics.New(common.PackageName, metricsAddr)
		if err != nil {
			logger.Error("Failed to create metrics server", "err", err)
			return err
		}
	}

	orch := provisioner.NewOrchestrator(table, driver, store, resolver, metricsSrv, logger)

	handler := httpserver.NewHandler(svcCfg, table, orch, metricsSrv, logger)

	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name)), handler, metricsSrv)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	srv.RunInBackground()

	// Background janitor: the table also reaps opportunistically on every
	// operation, the ticker just bounds staleness during quiet periods.
	janitorDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cCtx.Duration(flags.ReapIntervalFlag.Name))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				table.Reap()
			case <-janitorDone:
				return
			}
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	close(janitorDone)
	srv.Shutdown()

	// Let in-flight provisioning tasks finish so their outcomes reach the
	// wallet ledger.
	orch.Wait()
	logger.Info("Server shutdown complete")

	return nil
}

// applyFlagOverrides lets command-line flags win over environment variables.
func applyFlagOverrides(cCtx *cli.Context, cfg *config.ServiceConfig) {
	if cCtx.IsSet(flags.DisabledFlag.Name) {
		cfg.Enabled = !cCtx.Bool(flags.DisabledFlag.Name)
	}
	if cCtx.IsSet(flags.RequireIdentityCheckFlag.Name) {
		cfg.RequireIdentityCheck = cCtx.Bool(flags.RequireIdentityCheckFlag.Name)
	}
	if cCtx.IsSet(flags.ProvisionCommandFlag.Name) {
		cfg.ProvisionCommand = cCtx.String(flags.ProvisionCommandFlag.Name)
	}
	if cCtx.IsSet(flags.DefaultInstanceURLFlag.Name) {
		cfg.DefaultInstanceURL = cCtx.String(flags.DefaultInstanceURLFlag.Name)
	}
	if cCtx.IsSet(flags.VerifyHostsFlag.Name) {
		cfg.VerifyHosts = cCtx.String(flags.VerifyHostsFlag.Name)
	}
	if cCtx.IsSet(flags.SessionTTLFlag.Name) {
		cfg.SessionTTL = cCtx.Duration(flags.SessionTTLFlag.Name)
	}
	if cCtx.IsSet(flags.CommandTimeoutFlag.Name) {
		cfg.CommandTimeout = cCtx.Duration(flags.CommandTimeoutFlag.Name)
	}
	if cCtx.IsSet(flags.WalletStoreFlag.Name) {
		cfg.WalletStore = cCtx.String(flags.WalletStoreFlag.Name)
	}
}

// openWalletStore selects the ledger backend from the configured URI,
// falling back to the default file path.
func openWalletStore(ctx context.Context, cfg *config.ServiceConfig, logger *slog.Logger) (interfaces.WalletRecordStore, error) {
	if cfg.WalletStore != "" {
		return storage.NewStoreFactory(logger).StoreFor(ctx, cfg.WalletStore)
	}

	path, err := storage.DefaultFilePath()
	if err != nil {
		return nil, err
	}
	return storage.NewFileStore(path, logger)
}

// buildDriver picks the provisioning backend the configuration selects, or
// nil when nothing is configured.
func buildDriver(cfg *config.ServiceConfig, logger *slog.Logger) interfaces.ProvisioningDriver {
	verifyHosts := provisioner.NewHostAllowlist(cfg.VerifyHosts)

	switch cfg.Backend() {
	case interfaces.SourceCommand:
		return &provisioner.CommandBackend{
			Template:    cfg.ProvisionCommand,
			Timeout:     cfg.CommandTimeout,
			VerifyHosts: verifyHosts,
			Log:         logger,
		}
	case interfaces.SourceDefaultInstanceURL:
		return &provisioner.StaticBackend{
			InstanceURL: cfg.DefaultInstanceURL,
			VerifyHosts: verifyHosts,
		}
	default:
		return nil
	}
}

package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/enclagent/frontdoor/common"
	"github.com/enclagent/frontdoor/httpserver"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var WalletStoreFlag = &cli.StringFlag{
	Name:  "wallet-store",
	Usage: "wallet ledger location URI (file://, s3://, vault:// or ipfs://), defaults to a file under the user home",
}

var ProvisionCommandFlag = &cli.StringFlag{
	Name:  "provision-command",
	Usage: "shell command template run to provision an instance, with {placeholder} markers",
}

var DefaultInstanceURLFlag = &cli.StringFlag{
	Name:  "default-instance-url",
	Usage: "static instance URL handed out when no provision command is configured",
}

var VerifyHostsFlag = &cli.StringFlag{
	Name:  "verify-hosts",
	Usage: "comma-separated allowlist of verify URL hosts, entries like *.example.com match subdomains",
}

var SessionTTLFlag = &cli.DurationFlag{
	Name:  "session-ttl",
	Usage: "how long an issued challenge stays signable",
}

var CommandTimeoutFlag = &cli.DurationFlag{
	Name:  "command-timeout",
	Usage: "time limit for a single provisioning command run",
}

var ReapIntervalFlag = &cli.DurationFlag{
	Name:  "reap-interval",
	Value: time.Minute,
	Usage: "how often the background janitor sweeps expired sessions",
}

var DNSServerFlag = &cli.StringFlag{
	Name:  "dns-server",
	Usage: "DNS server (host:port) used to resolve provisioned instance hosts, empty disables resolution",
}

var DisabledFlag = &cli.BoolFlag{
	Name:  "disabled",
	Usage: "serve the bootstrap document but reject provisioning requests",
}

var RequireIdentityCheckFlag = &cli.BoolFlag{
	Name:  "require-identity-check",
	Usage: "reject verification when the submitted identity differs from the challenge's",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/invopop/jsonschema"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/config"
	"github.com/jannikluhn/tlbc-monitor/internal/db"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/jannikluhn/tlbc-monitor/internal/metrics"
	"github.com/jannikluhn/tlbc-monitor/internal/monitor"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const version = "2.0.0"

var (
	configPath           string
	flagCfg              config.Config
	skipRate             float64
	offlineWindowSeconds int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tlbc-monitor",
	Short: "tlbc-monitor - misbehavior monitor for AuthorityRound chains",
	Long: `tlbc-monitor follows the head of an AuthorityRound chain over JSON-RPC and
reports validator misbehavior: skipped proposals, extended offline periods
and equivocations. Reports are written to files; observed blocks and the
monitor's own state are kept in a small SQLite database.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runMonitor,
}

var configSchemaCmd = &cobra.Command{
	Use:    "config-schema",
	Short:  "Print the JSON schema of the configuration file",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		schema := jsonschema.Reflect(&config.Config{})
		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&flagCfg.RPCURI, "rpc-uri", "u", "http://localhost:8540", "URI of the node's JSON RPC server")
	flags.StringVarP(&flagCfg.ChainSpecPath, "chain-spec-path", "c", "", "path to the chain spec file of the monitored chain")
	flags.BoolVarP(&flagCfg.WatchChainSpec, "watch-chain-spec", "m", false, "continuously watch for changes in the chain spec file and stop if there are any")
	flags.StringVarP(&flagCfg.ReportDir, "report-dir", "r", "reports", "path to the directory in which misbehavior reports will be created")
	flags.StringVarP(&flagCfg.DBDir, "db-dir", "d", "state", "path to the directory in which the database and application state will be stored")
	flags.Float64VarP(&skipRate, "skip-rate", "o", 0.5, "maximum rate of assigned steps a validator can skip without being reported as offline")
	flags.IntVarP(&offlineWindowSeconds, "offline-window", "w", 24*60*60, "size in seconds of the time window considered when determining if validators are offline or not")
	flags.StringVar(&flagCfg.SyncFrom, "sync-from", "-1000", "starting block")
	flags.BoolVar(&flagCfg.UpgradeDB, "upgrade-db", false, "allow to upgrade the database (experimental); some skips will be missed around the upgrade time")
	flags.StringVar(&flagCfg.LogLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.BoolVar(&flagCfg.LogDevelopment, "log-dev", false, "use the human-readable console log encoder")
	flags.StringVar(&flagCfg.MetricsAddress, "metrics-addr", "", "listen address of the Prometheus metrics server (empty: disabled)")
	flags.StringVar(&configPath, "config", "", "optional configuration file (.yaml, .json or .toml); flags take precedence")

	rootCmd.AddCommand(configSchemaCmd)
}

// buildConfig merges the optional config file with the flag values. Flags
// that were set explicitly override the file.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if configPath == "" || flags.Changed("rpc-uri") {
		cfg.RPCURI = flagCfg.RPCURI
	}
	if configPath == "" || flags.Changed("chain-spec-path") {
		cfg.ChainSpecPath = flagCfg.ChainSpecPath
	}
	if configPath == "" || flags.Changed("watch-chain-spec") {
		cfg.WatchChainSpec = flagCfg.WatchChainSpec
	}
	if configPath == "" || flags.Changed("report-dir") {
		cfg.ReportDir = flagCfg.ReportDir
	}
	if configPath == "" || flags.Changed("db-dir") {
		cfg.DBDir = flagCfg.DBDir
	}
	if configPath == "" || flags.Changed("skip-rate") {
		rate := skipRate
		cfg.SkipRate = &rate
	}
	if configPath == "" || flags.Changed("offline-window") {
		window := internalcommon.NewDuration(time.Duration(offlineWindowSeconds) * time.Second)
		cfg.OfflineWindow = &window
	}
	if configPath == "" || flags.Changed("sync-from") {
		cfg.SyncFrom = flagCfg.SyncFrom
	}
	if configPath == "" || flags.Changed("upgrade-db") {
		cfg.UpgradeDB = flagCfg.UpgradeDB
	}
	if configPath == "" || flags.Changed("log-level") {
		cfg.LogLevel = flagCfg.LogLevel
	}
	if configPath == "" || flags.Changed("log-dev") {
		cfg.LogDevelopment = flagCfg.LogDevelopment
	}
	if configPath == "" || flags.Changed("metrics-addr") {
		cfg.MetricsAddress = flagCfg.MetricsAddress
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetDefaultLogger(log)
	defer log.Close()

	// SIGINT and SIGTERM request a cooperative stop: the cycle in flight
	// completes and commits before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := monitor.New(ctx, cfg, log)
	if err != nil {
		return describeFatal(err, cfg)
	}

	group, ctx := errgroup.WithContext(ctx)

	var metricsServer *metrics.Server
	if cfg.MetricsAddress != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddress, log)
		metricsServer.Start()
	}

	group.Go(func() error {
		return app.Run(ctx)
	})

	err = group.Wait()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := metricsServer.Stop(shutdownCtx); serr != nil {
			log.Warnf("failed to stop metrics server: %v", serr)
		}
	}

	if err != nil {
		return describeFatal(err, cfg)
	}
	return nil
}

// describeFatal attaches operator guidance to the fatal error classes.
func describeFatal(err error, cfg *config.Config) error {
	dbPath := filepath.Join(cfg.DBDir, monitor.DBFileName)

	var invalidData *db.InvalidDataError
	if errors.As(err, &invalidData) {
		return fmt.Errorf("invalid data in database, try to delete %s to force a resync: %w", dbPath, err)
	}

	var invalidState *monitor.InvalidAppStateError
	if errors.As(err, &invalidState) {
		return fmt.Errorf("wrong app state version in database, try to run with --upgrade-db (experimental) or delete %s to force a resync: %w", dbPath, err)
	}

	return err
}

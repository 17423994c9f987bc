package monitor

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/jannikluhn/tlbc-monitor/internal/chain"
	"github.com/jannikluhn/tlbc-monitor/internal/chainspec"
	internalcommon "github.com/jannikluhn/tlbc-monitor/internal/common"
	"github.com/jannikluhn/tlbc-monitor/internal/config"
	"github.com/jannikluhn/tlbc-monitor/internal/db"
	"github.com/jannikluhn/tlbc-monitor/internal/fetcher"
	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/jannikluhn/tlbc-monitor/internal/metrics"
	"github.com/jannikluhn/tlbc-monitor/internal/migrations"
	"github.com/jannikluhn/tlbc-monitor/internal/reporter"
	"github.com/jannikluhn/tlbc-monitor/internal/rpc"
	"github.com/jannikluhn/tlbc-monitor/internal/validators"
)

const (
	// DBFileName is the name of the SQLite database inside the db dir.
	DBFileName = "tlbc-monitor.db"

	skipFileName = "skips"

	// GracePeriod is the number of steps that have to pass before a missed
	// block is counted.
	GracePeriod = 10

	// MaxReorgDepth is the depth at which blocks are assumed to not be
	// replaced anymore.
	MaxReorgDepth = 1000

	maxBlocksPerCycle = 500

	// walCheckpointEvery controls how often the write-ahead log is merged
	// back into the database file.
	walCheckpointEvery = 1000

	dirPerm = 0755
)

// BlockFetchInterval is the pause between fetch cycles while no new blocks
// arrive.
var BlockFetchInterval = internalcommon.StepDuration / 2

// App wires the epoch fetcher, the block fetcher and the reporters together
// and drives them in a single-threaded cycle: epoch refresh, block fetch
// with reporter callbacks, checkpoint write, sleep.
type App struct {
	cfg *config.Config
	log *logger.Logger

	database *sql.DB
	store    *db.BlockStore
	// rpcClient is the owned RPC transport; nil when a client was injected
	// (tests)
	rpcClient *rpc.Client

	oracle       *validators.PrimaryOracle
	epochFetcher *validators.EpochFetcher

	blockFetcher         *fetcher.BlockFetcher
	skipReporter         *reporter.SkipReporter
	offlineReporter      *reporter.OfflineReporter
	equivocationReporter *reporter.EquivocationReporter

	skipFile   *os.File
	skipWriter *bufio.Writer

	chainSpecRaw []byte
	cycles       uint64
}

// New builds a fully wired app from the configuration, restoring any
// checkpointed state from the database.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	client, err := rpc.NewClient(ctx, cfg.RPCURI, cfg.RequestTimeout.Duration, cfg.Retry, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	app, err := newApp(cfg, log, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	app.rpcClient = client
	return app, nil
}

// newApp wires the pipeline around an already connected client. Tests inject
// a fake client here.
func newApp(cfg *config.Config, log *logger.Logger, client rpc.EthClient) (*App, error) {
	applog := log.WithComponent(internalcommon.ComponentApp)

	for _, dir := range []string{cfg.ReportDir, cfg.DBDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	dbPath := filepath.Join(cfg.DBDir, DBFileName)
	if err := migrations.RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	database, err := db.NewSQLiteDBFromConfig(dbPath, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := db.NewBlockStore(database, log)

	ranges, chainSpecRaw, err := chainspec.LoadValidatorDefinitionRanges(cfg.ChainSpecPath)
	if err != nil {
		database.Close()
		return nil, err
	}

	oracle := validators.NewPrimaryOracle()
	for _, epoch := range validators.StaticEpochs(ranges) {
		oracle.AddEpoch(epoch)
	}
	epochFetcher := validators.NewEpochFetcher(client, ranges, log)

	selector, err := fetcher.ParseBlockSelector(cfg.SyncFrom)
	if err != nil {
		database.Close()
		return nil, err
	}
	blockFetcher := fetcher.NewBlockFetcher(client, store, selector, MaxReorgDepth, log)

	blob, err := store.LoadCheckpoint(appStateKey)
	if err != nil {
		database.Close()
		return nil, err
	}
	state := freshAppState()
	if blob == nil {
		applog.Info("no state entry found, starting from fresh state")
	} else {
		var upgraded bool
		state, upgraded, err = decodeAppState(blob, cfg.UpgradeDB)
		if err != nil {
			database.Close()
			return nil, err
		}
		if upgraded {
			applog.Info("upgraded app state from v1 to v2")
		}
	}

	if err := blockFetcher.RestoreState(state.BlockFetcher); err != nil {
		database.Close()
		return nil, err
	}

	windowSize := uint64(cfg.OfflineWindow.Duration / internalcommon.StepDuration)
	if windowSize == 0 {
		windowSize = 1
	}
	skipReporter := reporter.NewSkipReporter(state.SkipReporter, oracle, GracePeriod, log)
	offlineReporter := reporter.NewOfflineReporter(state.OfflineReporter, oracle, windowSize, *cfg.SkipRate, log)
	equivocationReporter := reporter.NewEquivocationReporter(store, log)

	skipFile, err := os.OpenFile(filepath.Join(cfg.ReportDir, skipFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open skip file: %w", err)
	}

	app := &App{
		cfg:                  cfg,
		log:                  applog,
		database:             database,
		store:                store,
		oracle:               oracle,
		epochFetcher:         epochFetcher,
		blockFetcher:         blockFetcher,
		skipReporter:         skipReporter,
		offlineReporter:      offlineReporter,
		equivocationReporter: equivocationReporter,
		skipFile:             skipFile,
		skipWriter:           bufio.NewWriter(skipFile),
		chainSpecRaw:         chainSpecRaw,
	}
	app.registerReporterCallbacks()

	metrics.ComponentHealthSet(internalcommon.ComponentApp, true)
	return app, nil
}

func (a *App) registerReporterCallbacks() {
	a.blockFetcher.RegisterReportCallback(a.skipReporter.OnBlock)
	a.blockFetcher.RegisterReportCallback(a.equivocationReporter.OnBlock)
	a.skipReporter.RegisterReportCallback(a.writeSkip)
	a.skipReporter.RegisterReportCallback(a.offlineReporter.OnSkippedProposal)
	a.offlineReporter.RegisterReportCallback(a.writeOfflineReport)
	a.equivocationReporter.RegisterReportCallback(a.writeEquivocationReport)
}

// Run drives fetch cycles until the context is cancelled, the watched chain
// spec changes, or a fatal error occurs. Cancellation is cooperative: the
// cycle in flight completes and commits before Run returns.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	a.log.Info("starting sync")

	for {
		if ctx.Err() != nil {
			a.log.Info("stopping tlbc-monitor")
			return nil
		}

		newBlocks, err := a.runCycle(context.WithoutCancel(ctx))
		if err != nil {
			if ctx.Err() != nil {
				a.log.Info("stopping tlbc-monitor")
				return nil
			}
			if isFatal(err) {
				return err
			}
			a.log.Warnw("cycle failed, retrying", "error", err)
			if err := a.restoreFromCheckpoint(); err != nil {
				return err
			}
			newBlocks = 0
		}

		if a.cfg.WatchChainSpec && a.chainSpecChanged() {
			a.log.Info("chain spec file has changed, stopping")
			return nil
		}

		if newBlocks == 0 {
			if err := sleepCtx(ctx, BlockFetchInterval); err != nil {
				a.log.Info("stopping tlbc-monitor")
				return nil
			}
		}
	}
}

// runCycle refreshes the epochs and runs one fetch pass. Everything the pass
// mutates in the store, including the checkpoint, commits in one
// transaction.
func (a *App) runCycle(ctx context.Context) (int, error) {
	if err := a.updateEpochs(ctx); err != nil {
		return 0, err
	}

	var emitted int
	err := a.store.WithTransaction(func() error {
		var err error
		emitted, err = a.blockFetcher.FetchAndInsertNewBlocks(ctx, maxBlocksPerCycle, a.oracle.MaxHeight())
		if err != nil {
			return err
		}

		blob, err := encodeAppState(a.appState())
		if err != nil {
			return err
		}
		if err := a.store.SaveCheckpoint(appStateKey, blob); err != nil {
			return err
		}
		return a.skipWriter.Flush()
	})
	if err != nil {
		return 0, err
	}

	if head := a.blockFetcher.Head(); head != nil {
		if a.blockFetcher.Syncing() {
			a.log.Infow(fmt.Sprintf("Syncing (%.0f%%)", a.blockFetcher.SyncStatus()*100),
				"head", head.String(), "head_hash", head.Hash.Hex())
		} else {
			a.log.Infow("Synced", "head", head.String(), "head_hash", head.Hash.Hex())
		}
	}

	a.cycles++
	if a.cycles%walCheckpointEvery == 0 {
		if err := db.CheckpointWAL(a.database); err != nil {
			a.log.Warnw("failed to checkpoint WAL", "error", err)
		}
	}

	return emitted, nil
}

// updateEpochs feeds newly discovered epochs into the oracle and advances
// its watermark to the epoch fetcher's scan height.
func (a *App) updateEpochs(ctx context.Context) error {
	epochs, err := a.epochFetcher.FetchNewEpochs(ctx)
	if err != nil {
		return err
	}
	for _, epoch := range epochs {
		if last, ok := a.oracle.LastEpochStart(); ok && epoch.StartHeight <= last {
			a.log.Warnw("ignoring epoch behind known epochs",
				"height", epoch.StartHeight, "known_up_to", last)
			continue
		}
		a.oracle.AddEpoch(epoch)
	}
	a.oracle.SetMaxHeight(a.epochFetcher.LastFetchHeight())
	return nil
}

// appState snapshots the current in-memory state for checkpointing.
func (a *App) appState() *AppStateV2 {
	return &AppStateV2{
		BlockFetcher:    a.blockFetcher.State(),
		SkipReporter:    a.skipReporter.State(),
		OfflineReporter: a.offlineReporter.State(),
	}
}

// restoreFromCheckpoint resets the in-memory pipeline state to the last
// committed checkpoint after an aborted cycle, so the retry starts from
// consistent state.
func (a *App) restoreFromCheckpoint() error {
	blob, err := a.store.LoadCheckpoint(appStateKey)
	if err != nil {
		return err
	}
	state := freshAppState()
	if blob != nil {
		state, _, err = decodeAppState(blob, false)
		if err != nil {
			return err
		}
	}
	if err := a.blockFetcher.RestoreState(state.BlockFetcher); err != nil {
		return err
	}
	a.skipReporter.RestoreState(state.SkipReporter)
	a.offlineReporter.RestoreState(state.OfflineReporter)
	return nil
}

// chainSpecChanged compares the chain spec file against its contents at
// startup. An unparseable file counts as changed.
func (a *App) chainSpecChanged() bool {
	data, err := os.ReadFile(a.cfg.ChainSpecPath)
	if err != nil {
		return true
	}
	if bytes.Equal(data, a.chainSpecRaw) {
		return false
	}

	var current, original any
	if err := json.Unmarshal(data, &current); err != nil {
		return true
	}
	if err := json.Unmarshal(a.chainSpecRaw, &original); err != nil {
		return true
	}
	return !reflect.DeepEqual(current, original)
}

func (a *App) close() {
	if err := a.skipWriter.Flush(); err != nil {
		a.log.Errorw("failed to flush skip file", "error", err)
	}
	if err := a.skipFile.Close(); err != nil {
		a.log.Errorw("failed to close skip file", "error", err)
	}
	if a.rpcClient != nil {
		a.rpcClient.Close()
	}
	if err := a.database.Close(); err != nil {
		a.log.Errorw("failed to close database", "error", err)
	}
	metrics.ComponentHealthSet(internalcommon.ComponentApp, false)
}

// isFatal reports whether an error requires operator intervention. Anything
// else is treated as transient and the cycle is retried.
func isFatal(err error) bool {
	var invalidBlock *chain.InvalidDataError
	var invalidDB *db.InvalidDataError
	var reorgTooDeep *fetcher.ErrReorgTooDeep
	var invalidState *InvalidAppStateError
	return errors.As(err, &invalidBlock) ||
		errors.As(err, &invalidDB) ||
		errors.As(err, &reorgTooDeep) ||
		errors.As(err, &invalidState)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

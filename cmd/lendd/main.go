package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"

	"github.com/luxfi/lend/pkg/lend"
	"github.com/luxfi/lend/pkg/metrics"
)

const defaultDataDir = ".lendd"

type Config struct {
	DataDir  string
	LogLevel string

	MetricsPort int

	SnapshotInterval time.Duration

	Admin string

	// Protocol parameter overrides
	LTVRatioBPS          uint64
	LiquidationThreshold uint64
	OriginationFeeBPS    uint64

	EnableMetrics bool
}

type LendNode struct {
	config  *Config
	engine  *lend.LendingEngine
	store   *lend.Store
	metrics *metrics.LendMetrics
	logger  log.Logger

	closeDB func() error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLendNode(config *Config) (*LendNode, error) {
	level, _ := log.ToLevel(config.LogLevel)
	logger := log.NewTestLogger(level)
	logger.Info("Initializing lending node")

	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataPath, nil)

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "lendd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to open BadgerDB", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory database")
	} else {
		logger.Info("BadgerDB initialized", "path", filepath.Join(dataPath, "badgerdb"))
	}

	params := lend.DefaultParams()
	if config.LTVRatioBPS > 0 {
		params.LTVRatioBPS = config.LTVRatioBPS
	}
	if config.LiquidationThreshold > 0 {
		params.LiquidationThreshold = config.LiquidationThreshold
	}
	params.OriginationFeeBPS = config.OriginationFeeBPS

	engine := lend.NewLendingEngine(config.Admin, params, logger)
	store := lend.NewStore(db)
	if err := store.Load(engine); err != nil {
		return nil, fmt.Errorf("failed to restore snapshot: %w", err)
	}

	var lm *metrics.LendMetrics
	if config.EnableMetrics {
		lm, err = metrics.NewLendMetrics("lendd")
		if err != nil {
			return nil, fmt.Errorf("failed to init metrics: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &LendNode{
		config:  config,
		engine:  engine,
		store:   store,
		metrics: lm,
		logger:  logger,
		closeDB: db.Close,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (n *LendNode) Start() error {
	n.logger.Info("Starting lending node",
		"dataDir", filepath.Join(os.Getenv("HOME"), n.config.DataDir),
		"metricsPort", n.config.MetricsPort,
		"snapshotInterval", n.config.SnapshotInterval,
		"admin", n.config.Admin)

	n.wg.Add(1)
	go n.runSnapshots()

	n.wg.Add(1)
	go n.pumpEvents()

	if n.metrics != nil {
		if err := n.metrics.StartServer(fmt.Sprintf("%d", n.config.MetricsPort)); err != nil {
			return err
		}
		go n.metrics.CollectSystemMetrics(n.ctx)
	}

	n.wg.Add(1)
	go n.printStats()

	n.logger.Info("Lending node started")
	return nil
}

// runSnapshots persists the ledger on a fixed cadence and once more on
// shutdown.
func (n *LendNode) runSnapshots() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			if err := n.store.Save(n.engine); err != nil {
				n.logger.Error("Final snapshot failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := n.store.Save(n.engine); err != nil {
				n.logger.Error("Snapshot failed", "error", err)
			}
		}
	}
}

// pumpEvents drains the engine's domain events into metric counters.
func (n *LendNode) pumpEvents() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case event := <-n.engine.Events():
			if n.metrics == nil {
				continue
			}
			switch data := event.Data.(type) {
			case lend.AssetTokenized:
				n.metrics.RecordTokenized()
			case lend.AssetVerified:
				n.metrics.RecordVerified(data.Approved)
			case lend.PriceUpdated:
				n.metrics.RecordPriceUpdate()
			case lend.LoanRequested:
				n.metrics.RecordLoanRequested()
			case lend.LoanFunded:
				n.metrics.RecordLoanFunded()
			case lend.LoanRepaidEvent:
				n.metrics.RecordRepayment()
			case lend.LoanLiquidatedEvent:
				n.metrics.RecordLiquidation()
			}
		}
	}
}

func (n *LendNode) printStats() {
	defer n.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			stats := n.engine.GetProtocolStats()
			n.logger.Info("Protocol status",
				"tvl", stats.TotalValueLocked.String(),
				"assets", stats.TotalAssets,
				"loansOriginated", stats.TotalLoansOriginated,
				"activeLoans", stats.TotalActiveLoans,
				"fees", stats.ProtocolFees.String(),
				"utilization", stats.Utilization.StringFixed(4),
				"avgHealthFactor", stats.AverageHealthFactor.StringFixed(1))

			if n.metrics != nil {
				tvl, _ := stats.TotalValueLocked.Float64()
				fees, _ := stats.ProtocolFees.Float64()
				n.metrics.UpdateProtocolGauges(tvl, fees, int(stats.TotalActiveLoans))
			}
		}
	}
}

func (n *LendNode) Shutdown() {
	n.logger.Info("Shutting down lending node...")

	n.cancel()
	n.wg.Wait()

	if n.closeDB != nil {
		if err := n.closeDB(); err != nil {
			n.logger.Error("Database close failed", "error", err)
		}
	}

	n.logger.Info("Lending node shutdown complete")
}

func main() {
	config := &Config{}

	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.IntVar(&config.MetricsPort, "metrics-port", 9090, "Prometheus metrics port")
	snapshotInterval := flag.Duration("snapshot-interval", 30*time.Second, "Ledger snapshot cadence")
	flag.StringVar(&config.Admin, "admin", "admin", "Protocol admin account")
	flag.Uint64Var(&config.LTVRatioBPS, "ltv-bps", 0, "Override loan-to-value cap in bps")
	flag.Uint64Var(&config.LiquidationThreshold, "liquidation-threshold", 0, "Override liquidation threshold percent")
	flag.Uint64Var(&config.OriginationFeeBPS, "origination-fee-bps", 50, "Origination fee in bps")
	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Enable Prometheus metrics")
	flag.Parse()

	config.SnapshotInterval = *snapshotInterval

	rootLogger := log.Root()
	rootLogger.Info("lendd - RWA collateralized lending ledger")
	rootLogger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"dataDir", filepath.Join(os.Getenv("HOME"), config.DataDir))

	node, err := NewLendNode(config)
	if err != nil {
		rootLogger.Crit("Failed to create node", "error", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		rootLogger.Crit("Failed to start node", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	rootLogger.Info("Received shutdown signal", "signal", sig)

	node.Shutdown()
}

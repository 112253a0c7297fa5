package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stakeledger/config"
	"stakeledger/events"
	"stakeledger/observability/logging"
	"stakeledger/observability/metrics"
	"stakeledger/rpc"
	"stakeledger/staking"
	"stakeledger/state"
	"stakeledger/storage"
	"stakeledger/token"
)

func main() {
	configPath := flag.String("config", "./stakingd.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("stakingd", "", "").Error("load config", "err", err)
		os.Exit(1)
	}

	log := logging.Setup("stakingd", cfg.Environment, cfg.LogFile)

	db, err := openDatabase(cfg)
	if err != nil {
		log.Error("open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	engine, err := buildEngine(cfg, db)
	if err != nil {
		log.Error("build engine", "err", err)
		os.Exit(1)
	}

	stakingMetrics := metrics.Staking()
	engine.SetEmitter(events.MultiEmitter{stakingMetrics, logEmitter{log: log}})
	if total, err := engine.TotalStaked(); err == nil {
		stakingMetrics.SetTotalStaked(total)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           rpc.NewServer(engine, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving staking queries", "addr", cfg.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("shutdown", "err", err)
		}
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.DBBackend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.db"))
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	}
}

// buildEngine wires the engine against the store, preferring persisted policy
// over the configured defaults so admin changes survive restarts.
func buildEngine(cfg *config.Config, db storage.Database) (*staking.Engine, error) {
	moduleAddr, err := config.ParseAddress(cfg.ModuleAddress)
	if err != nil {
		return nil, err
	}

	manager := state.NewManager(db)
	engine := staking.NewEngine(moduleAddr, cfg.StakingToken)
	engine.SetState(manager)
	engine.SetTokenLedger(token.NewLedger(manager))
	engine.SetRoles(manager)

	params, found, err := manager.PolicyParameters()
	if err != nil {
		return nil, err
	}
	if !found {
		if params, err = cfg.PolicyParameters(); err != nil {
			return nil, err
		}
		if err := manager.PutPolicyParameters(params); err != nil {
			return nil, err
		}
	}
	if err := engine.SetPolicy(params); err != nil {
		return nil, err
	}

	table, found, err := manager.MultiplierTable()
	if err != nil {
		return nil, err
	}
	if !found {
		if table, err = cfg.MultiplierTable(); err != nil {
			return nil, err
		}
		if err := manager.PutMultiplierTable(table); err != nil {
			return nil, err
		}
	}
	engine.SetMultiplierTable(table)

	for _, admin := range cfg.AdminAddresses {
		addr, err := config.ParseAddress(admin)
		if err != nil {
			return nil, err
		}
		if err := manager.SetRole(staking.RoleStakingAdmin, addr[:]); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// logEmitter mirrors ledger events into the structured log.
type logEmitter struct {
	log interface {
		Info(msg string, args ...any)
	}
}

func (l logEmitter) Emit(e events.Event) {
	args := make([]any, 0, 8)
	for key, value := range e.Attributes() {
		args = append(args, key, value)
	}
	l.log.Info(e.EventType(), args...)
}

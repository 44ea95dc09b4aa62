package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/geogram-dev/geomirror/internal/auth"
	"github.com/geogram-dev/geomirror/internal/backup"
	"github.com/geogram-dev/geomirror/internal/config"
	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/registry"
	"github.com/geogram-dev/geomirror/internal/scheduler"
	"github.com/geogram-dev/geomirror/internal/sync"
)

// env holds the services a command needs, built from the loaded config.
type env struct {
	cfg    *config.Config
	reg    *registry.Registry
	signer *auth.Ed25519Signer
}

// loadConfig reads --config when given, else the default config file.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openRegistry opens the peer store selected by the config.
func openRegistry(cfg *config.Config) (*registry.Registry, error) {
	path := cfg.RegistryPath()
	var store registry.Store
	switch cfg.Storage.Registry.Backend {
	case config.BackendSQLite:
		s, err := registry.OpenSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = registry.NewJSONStore(path)
	}
	reg, err := registry.Open(store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open peer registry %s: %w", path, err)
	}
	logging.Debug("peer registry opened", logging.Path(path), "backend", cfg.Storage.Registry.Backend)
	return reg, nil
}

// newEnv loads config, the registry and the signing key.
func newEnv(cmd *cli.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	reg, err := openRegistry(cfg)
	if err != nil {
		return nil, err
	}
	key, created, err := auth.LoadOrCreateKey(cfg.Identity.KeyFile)
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("load identity key: %w", err)
	}
	if created {
		logging.Info("generated new identity key", logging.Path(cfg.Identity.KeyFile))
	}
	return &env{cfg: cfg, reg: reg, signer: auth.NewEd25519Signer(key)}, nil
}

func (e *env) Close() error {
	return e.reg.Close()
}

// requireCallsign fails for commands that cannot run without an identity.
func (e *env) requireCallsign() error {
	if e.cfg.Identity.Callsign == "" {
		return errors.New("identity.callsign is not set; run 'geomirror config set-callsign <CALLSIGN>'")
	}
	return nil
}

func (e *env) engine() *sync.Engine {
	factory := sync.NewClientFactory(e.cfg.Identity.Callsign, e.signer, e.cfg.Sync.Timeout.Std())
	cfg := sync.Config{
		DataDir:          e.cfg.Storage.DataDir,
		Callsign:         e.cfg.Identity.Callsign,
		CacheDir:         filepath.Join(e.cfg.Storage.StateDir, "hashes"),
		ProgressInterval: e.cfg.Sync.ProgressInterval.Std(),
	}
	if e.cfg.Backup.Enabled {
		cfg.Versions = e.backups()
	}
	return sync.NewEngine(e.reg, factory, cfg)
}

func (e *env) backups() *backup.Store {
	return backup.Open(e.cfg.Backup.Dir)
}

// pruneOptions returns the configured retention for kept versions.
func (e *env) pruneOptions() backup.PruneOptions {
	return backup.PruneOptions{
		MaxPerFile:     e.cfg.Backup.MaxPerFile,
		MaxAge:         e.cfg.Backup.MaxAge.Std(),
		KeepAtLeastOne: true,
	}
}

func (e *env) prober() scheduler.ProbeFunc {
	return scheduler.NewProber(e.cfg.Identity.Callsign, e.signer, e.cfg.Sync.Timeout.Std())
}

// scheduler builds a scheduler. watch enables the filesystem trigger.
func (e *env) scheduler(watch bool, onSweep func(scheduler.Sweep)) *scheduler.Scheduler {
	opts := scheduler.Options{
		ParallelPeers: e.cfg.Sync.ParallelPeers,
		Interval:      e.cfg.Sync.Interval.Std(),
		Debounce:      e.cfg.Sync.Debounce.Std(),
		OnSweep:       onSweep,
	}
	if watch {
		opts.WatchDir = e.cfg.Storage.DataDir
	}
	return scheduler.New(e.reg, e.engine(), e.prober(), opts)
}

// withEnv wraps an action that needs the loaded environment.
func withEnv(fn func(ctx context.Context, cmd *cli.Command, e *env) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := e.Close(); cerr != nil {
				logging.Warn("failed to close peer registry", logging.Err(cerr))
			}
		}()
		return fn(ctx, cmd, e)
	}
}

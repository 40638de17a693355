// ABOUTME: Shared wiring for CLI commands: config, logger, store, upstream client and engine
// ABOUTME: Every command loads the same layered config before it touches the database
package cli

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/harperreed/gestor/config"
	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/logging"
	"github.com/harperreed/gestor/sync"
	"github.com/harperreed/gestor/upstream"
)

type app struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *log.Logger
}

// load resolves the effective config. Flags win over every other layer.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db-path") {
		cfg.DatabasePath = a.dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) openStore() (*db.Store, func(), error) {
	conn, err := db.OpenDatabase(a.cfg.DatabasePath)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open database: %w", err)
	}
	a.logger.Debug("database opened", "path", a.cfg.DatabasePath)
	return db.NewStore(conn), func() { _ = conn.Close() }, nil
}

func (a *app) newClient() (*upstream.Client, error) {
	if err := a.cfg.RequireToken(); err != nil {
		return nil, err
	}
	up := a.cfg.Upstream
	return upstream.NewClient(upstream.Config{
		BaseURL:     up.BaseURL,
		Token:       up.Token,
		UserAgent:   up.UserAgent,
		PageSize:    up.PageSize,
		MaxAttempts: up.MaxAttempts,
		Timeout:     up.Timeout,
		MaxJitter:   upstream.DefaultMaxJitter,
		Limiter:     upstream.NewLimiter(up.RateBudget, upstream.DefaultMaxJitter),
		Logger:      a.logger,
	})
}

func (a *app) newEngine(store *db.Store) (*sync.Engine, error) {
	client, err := a.newClient()
	if err != nil {
		return nil, err
	}
	s := a.cfg.Sync
	return sync.NewEngine(client, store, sync.Options{
		ProcessStatuses:  s.ProcessStatuses,
		ProcessLookback:  s.ProcessLookback,
		ProcessOverlap:   s.ProcessOverlap,
		DeliveryLookback: s.DeliveryLookback,
		DeliveryHistory:  s.DeliveryHistoryMonths,
		MaxPages:         s.MaxPages,
		Logger:           a.logger,
	}), nil
}

// newScheduler builds the single entry point for running syncs. Commands
// that only trigger on demand still go through it for the database lock.
func (a *app) newScheduler(store *db.Store, cfg sync.SchedulerConfig) (*sync.Scheduler, error) {
	engine, err := a.newEngine(store)
	if err != nil {
		return nil, err
	}
	if cfg.Interval == 0 {
		cfg.Interval = a.cfg.Sync.Interval
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = a.cfg.Sync.LockTTL
	}
	cfg.Logger = a.logger
	return sync.NewScheduler(engine, store, cfg)
}

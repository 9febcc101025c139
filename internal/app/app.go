package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"levtrader/internal/audit"
	"levtrader/internal/broker"
	"levtrader/internal/config"
	"levtrader/internal/engine"
	"levtrader/internal/leverage"
	"levtrader/internal/logger"
	"levtrader/internal/market"
	"levtrader/internal/notify"
	"levtrader/internal/scheduler"
	"levtrader/internal/store"
	"levtrader/internal/store/gormstore"
	adminhttp "levtrader/internal/transport/http"
)

// App wires the full process: store, broker, market data, execution engine,
// leveraged manager, task scheduler and the admin HTTP surface.
type App struct {
	cfg    *config.Config
	db     *gormstore.Store
	broker *broker.Client
	driver *scheduler.Driver
	server *adminhttp.Server
}

// New builds the dependency graph bottom-up. Nothing starts running here;
// Run owns the goroutines.
func New(cfg *config.Config) (*App, error) {
	db, err := gormstore.Open(cfg.App.DBPath)
	if err != nil {
		return nil, err
	}

	brokerClient, err := broker.NewClient(cfg.Broker)
	if err != nil {
		return nil, err
	}

	chartSource := market.NewChartSource(cfg.Market)
	marketSvc := market.NewService(chartSource, cfg.Market)

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logger.Warnf("unknown timezone %q, falling back to UTC", cfg.Scheduler.Timezone)
		loc = time.UTC
	}

	eng := engine.New(db, db, db, brokerClient, marketSvc, cfg.Risk, cfg.Broker.Mode)

	auditLog := audit.NewLog(cfg.App.AuditDir, loc)
	notifier := notify.NewTelegram(cfg.Notify.Telegram)

	manager := leverage.NewManager(leverage.Deps{
		Signals:  db,
		Trades:   db,
		KV:       db,
		Engine:   eng,
		Market:   marketSvc,
		AuditLog: auditLog,
		Notifier: notifier,
		Location: loc,
	})

	schedSvc := scheduler.NewService(db, manager, cfg.App.ArtifactDir)
	driver := scheduler.NewDriver(schedSvc, cfg.Scheduler.TickSeconds)

	server, err := adminhttp.NewServer(adminhttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Lifecycle: manager,
		Tasks:     schedSvc,
		Engine:    eng,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:    cfg,
		db:     db,
		broker: brokerClient,
		driver: driver,
		server: server,
	}, nil
}

// Run starts the scheduler driver, the account refresher and the admin
// server, then blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.db.Close()

	a.refreshAccountSnapshot(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.driver.Run(ctx) })
	group.Go(func() error {
		logger.Infof("admin http server listening on %s", a.server.Addr())
		return a.server.Start(ctx)
	})
	group.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.refreshAccountSnapshot(ctx)
			}
		}
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// refreshAccountSnapshot keeps the cash guard's balance current. Without
// broker credentials the configured paper balance is recorded instead, but
// only once so paper fills do not keep resetting it.
func (a *App) refreshAccountSnapshot(ctx context.Context) {
	if a.cfg.Broker.APIKey == "" || a.cfg.Broker.APISecret == "" {
		if cash, err := a.db.LatestFreeCash(ctx); err == nil && cash > 0 {
			return
		}
		snap := &store.AccountSnapshot{
			FreeCash: a.cfg.Broker.PaperCash,
			Currency: "GBP",
		}
		if err := a.db.SaveSnapshot(ctx, snap); err != nil {
			logger.Errorf("seeding paper account snapshot: %v", err)
		}
		return
	}
	summary, err := a.broker.GetAccountSummary(ctx)
	if err != nil {
		logger.Warnf("account summary refresh failed: %v", err)
		return
	}
	snap := &store.AccountSnapshot{
		FreeCash:   summary.FreeCash,
		TotalValue: summary.TotalValue,
		Currency:   summary.Currency,
	}
	if err := a.db.SaveSnapshot(ctx, snap); err != nil {
		logger.Errorf("saving account snapshot: %v", err)
	}
}

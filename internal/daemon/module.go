package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wirego/internal/api"
	"github.com/matheus3301/wirego/internal/appstate"
	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/config"
	"github.com/matheus3301/wirego/internal/health"
	"github.com/matheus3301/wirego/internal/lock"
	"github.com/matheus3301/wirego/internal/logging"
	"github.com/matheus3301/wirego/internal/metrics"
	"github.com/matheus3301/wirego/internal/outbox"
	"github.com/matheus3301/wirego/internal/session"
	"github.com/matheus3301/wirego/internal/socket"
	"github.com/matheus3301/wirego/internal/status"
	"github.com/matheus3301/wirego/internal/store"
	intsync "github.com/matheus3301/wirego/internal/sync"
	"github.com/matheus3301/wirego/internal/work"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional override; nil = load config.toml, .env and WIRE_* vars
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideMetrics,
			provideLock,
			provideStore,
			provideAppState,
			provideScheduler,
			provideConnection,
			provideProvider,
			provideWorkHandler,
			provideHealth,
			provideSyncEngine,
			provideSender,
			provideSessionService,
			provideConversationService,
			provideHTTPServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return LoadConfig(p.SessionName, "")
}

// LoadConfig reads the session's .env file, the TOML config at path (the
// global config.toml when empty) and WIRE_* overrides, in that order.
func LoadConfig(sessionName, path string) (*config.Config, error) {
	if err := session.EnsureDir(sessionName); err != nil {
		return nil, err
	}
	if err := config.LoadEnv(session.EnvPath(sessionName)); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideMetrics(b *bus.Bus) *metrics.Metrics {
	return metrics.New(b.Dropped)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}

	if acct := cfg.Account; acct.UserID != "" {
		if err := db.UpsertAccount(context.Background(), &store.Account{
			UserID:              acct.UserID,
			ClientID:            acct.ClientID,
			PersistentWebSocket: acct.PersistentWebSocket,
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store account: %w", err)
		}
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAppState(b *bus.Bus) *appstate.Tracker {
	return appstate.New(b)
}

func provideScheduler(b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *work.Scheduler {
	return work.NewScheduler(work.Options{
		Network: work.InterfaceMonitor{},
		Bus:     b,
		Metrics: m,
		Logger:  logger,
	})
}

func provideConnection(cfg *config.Config, b *bus.Bus, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger) *socket.Connection {
	return socket.NewConnection(socket.Options{
		BaseURL:          cfg.Socket.BaseURL,
		ClientID:         cfg.Account.ClientID,
		AccessToken:      cfg.Account.AccessToken,
		HandshakeTimeout: cfg.Socket.HandshakeTimeout(),
		Bus:              b,
		Machine:          machine,
		Metrics:          m,
		Logger:           logger,
	})
}

func provideProvider(conn *socket.Connection, logger *zap.Logger) *socket.Provider {
	return socket.NewProvider(conn, logger)
}

func provideWorkHandler(cfg *config.Config, b *bus.Bus, scheduler *work.Scheduler, conn *socket.Connection, app *appstate.Tracker, machine *status.Machine, logger *zap.Logger) *socket.WorkHandler {
	worker := socket.NewReconnectWorker(conn, app, logger)
	backoff := work.Backoff{Initial: cfg.Work.InitialBackoff(), Max: cfg.Work.MaxBackoff()}
	return socket.NewWorkHandler(b, scheduler, worker, backoff, logger).
		WithMaxAttempts(cfg.Work.MaxAttempts).
		WithMachine(machine)
}

func provideHealth(cfg *config.Config, db *store.DB, logger *zap.Logger) *health.Checker {
	managed := cfg.Managed
	return health.NewChecker(db, health.Options{
		Enforced:           func() bool { return managed.PersistentWebSocketEnforced },
		UnhealthyAfter:     cfg.Health.UnhealthyAfter(),
		ObservationTimeout: cfg.Health.ObservationTimeout(),
		Logger:             logger,
	})
}

func provideSyncEngine(cfg *config.Config, db *store.DB, conn *socket.Connection, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, conn, cfg.Account.UserID, b, m, logger)
}

func provideSender(db *store.DB, conn *socket.Connection, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, conn, b, outbox.Options{Metrics: m, Logger: logger})
}

func provideSessionService(p Params, machine *status.Machine, provider *socket.Provider, app *appstate.Tracker, checker *health.Checker, scheduler *work.Scheduler, b *bus.Bus, db *store.DB, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.SessionName, api.SessionDeps{
		Machine:   machine,
		Provider:  provider,
		App:       app,
		Health:    checker,
		Scheduler: scheduler,
		Bus:       b,
		DB:        db,
		Logger:    logger,
	})
}

func provideConversationService(cfg *config.Config, db *store.DB, sender *outbox.Sender) *api.ConversationService {
	return api.NewConversationService(db, sender, api.Sender{
		UserID:   cfg.Account.UserID,
		ClientID: cfg.Account.ClientID,
	})
}

func provideHTTPServer(p Params, cfg *config.Config, machine *status.Machine, conn *socket.Connection, m *metrics.Metrics, logger *zap.Logger) *HTTPServer {
	return NewHTTPServer(cfg.Metrics.Addr, NewRouter(p.SessionName, machine, conn, m), logger)
}

// components groups everything the lifecycle hooks start and stop.
type components struct {
	fx.In

	Server    *Server
	HTTP      *HTTPServer
	Lock      *lock.Lock
	DB        *store.DB
	Provider  *socket.Provider
	Handler   *socket.WorkHandler
	Scheduler *work.Scheduler
	Engine    *intsync.Engine
	Sender    *outbox.Sender
	Health    *health.Checker
	App       *appstate.Tracker
	Machine   *status.Machine
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, c components) {
	logger := c.Logger
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			c.Engine.Start(ctx)
			c.Scheduler.Start(ctx)
			c.Handler.Start(ctx)
			c.Sender.Start(ctx)
			c.Server.TrackSocket(ctx, c.Bus)

			if err := c.HTTP.Start(); err != nil {
				return fmt.Errorf("start http server: %w", err)
			}

			go func() {
				if err := c.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go startPersistentSocket(ctx, c)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Handler.Stop()
			c.Scheduler.Stop()
			c.Sender.Stop()
			c.Provider.Close()
			c.Engine.Stop()
			if cancel != nil {
				cancel()
			}
			if err := c.HTTP.Stop(ctx); err != nil {
				logger.Warn("error stopping http server", zap.Error(err))
			}
			c.Server.Stop(ctx)
			if err := c.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := c.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// startPersistentSocket opens the socket when a persistent connection is
// wanted. The persistent service keeps the client in the foreground so
// reconnect work is allowed to run.
func startPersistentSocket(ctx context.Context, c components) {
	logger := c.Logger
	shouldStart, err := c.Health.ShouldStartPersistentSocket(ctx)
	if err != nil {
		logger.Error("persistent socket check failed", zap.Error(err))
		_ = c.Machine.Transition(status.Disconnected)
		return
	}
	if !shouldStart {
		logger.Info("persistent socket not requested, waiting for connect")
		_ = c.Machine.Transition(status.Disconnected)
		return
	}

	c.App.SetForeground(true)
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := c.Provider.StartSocket(connectCtx); err != nil {
		logger.Warn("initial connect failed, scheduling reconnect", zap.Error(err))
		if _, _, err := c.Handler.Schedule(); err != nil {
			logger.Error("schedule reconnect", zap.Error(err))
		}
	}
}

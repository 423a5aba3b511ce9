package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/medassistai/medassist/internal/assistant"
	"github.com/medassistai/medassist/internal/config"
	"github.com/medassistai/medassist/internal/db"
	"github.com/medassistai/medassist/internal/history"
	"github.com/medassistai/medassist/internal/inbound"
	"github.com/medassistai/medassist/internal/lock"
	"github.com/medassistai/medassist/internal/logger"
	"github.com/medassistai/medassist/internal/orchestrator"
	"github.com/medassistai/medassist/internal/runner"
	"github.com/medassistai/medassist/internal/server"
	"github.com/medassistai/medassist/internal/session"
	"github.com/medassistai/medassist/internal/telegram"
	"github.com/medassistai/medassist/internal/typing"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideBot,
			provideBackend,
			provideGateway,
			provideStore,
			provideRegistry,
			provideLocker,
			provideHistoryLog,
			provideNormalizer,
			provideRunner,
			provideSignaler,
			provideOrchestrator,
			provideListener,
			provideServer,
		),
		fx.Invoke(
			runMigrations,
			startLockSweeper,
			startListener,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func runMigrate() error {
	cfg, err := provideConfig()
	if err != nil {
		return err
	}
	return db.Migrate(cfg.Postgres)
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideBot(cfg config.Config) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return bot, nil
}

func provideBackend(log *slog.Logger, cfg config.Config) *assistant.OpenAIBackend {
	return assistant.NewOpenAIBackend(log, cfg.OpenAI.APIKey, cfg.OpenAI.AssistantID)
}

func provideGateway(log *slog.Logger, bot *tgbotapi.BotAPI) *telegram.Gateway {
	return telegram.NewGateway(log, bot)
}

func provideStore(conn *pgxpool.Pool) *session.PGStore {
	return session.NewPGStore(conn)
}

func provideRegistry(log *slog.Logger, store *session.PGStore, backend *assistant.OpenAIBackend) *session.Registry {
	return session.NewRegistry(log, store, backend)
}

func provideLocker(log *slog.Logger, cfg config.Config, conn *pgxpool.Pool) *lock.PGLocker {
	return lock.NewPGLocker(log, conn, lock.Options{
		TTL:            cfg.Turn.LockTTL(),
		AcquireTimeout: cfg.Turn.LockAcquireTimeout(),
		PollInterval:   cfg.Turn.LockPollInterval(),
	})
}

func provideHistoryLog(log *slog.Logger, conn *pgxpool.Pool) *history.Log {
	return history.NewLog(log, conn)
}

func provideNormalizer(log *slog.Logger, gateway *telegram.Gateway, backend *assistant.OpenAIBackend) *inbound.Normalizer {
	return inbound.NewNormalizer(log, gateway, backend)
}

func provideRunner(log *slog.Logger, cfg config.Config, backend *assistant.OpenAIBackend) *runner.Controller {
	return runner.NewController(log, backend, runner.Options{
		RunTimeout:        cfg.Turn.RunTimeout(),
		PollInterval:      cfg.Turn.PollInterval(),
		IdleWaitTimeout:   cfg.Turn.IdleWaitTimeout(),
		InsertMaxAttempts: cfg.Turn.InsertMaxAttempts,
	})
}

func provideSignaler(log *slog.Logger, cfg config.Config, gateway *telegram.Gateway) *typing.Signaler {
	return typing.NewSignaler(log, gateway, cfg.Turn.TypingInterval())
}

func provideOrchestrator(
	log *slog.Logger,
	cfg config.Config,
	registry *session.Registry,
	normalizer *inbound.Normalizer,
	locker *lock.PGLocker,
	controller *runner.Controller,
	gateway *telegram.Gateway,
	signaler *typing.Signaler,
	store *session.PGStore,
	historyLog *history.Log,
) *orchestrator.Orchestrator {
	return orchestrator.New(log, cfg.Turn, registry, normalizer, locker, controller,
		gateway, signaler, store, historyLog)
}

func provideListener(log *slog.Logger, bot *tgbotapi.BotAPI, gateway *telegram.Gateway, orch *orchestrator.Orchestrator) *telegram.Listener {
	return telegram.NewListener(log, bot, gateway, orch)
}

func provideServer(log *slog.Logger, cfg config.Config, backend *assistant.OpenAIBackend, conn *pgxpool.Pool) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, backend, conn)
}

func runMigrations(cfg config.Config, log *slog.Logger) error {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return err
	}
	log.Info("database schema is current")
	return nil
}

// startLockSweeper periodically clears expired thread locks so abandoned
// leases never accumulate.
func startLockSweeper(lc fx.Lifecycle, log *slog.Logger, locker *lock.PGLocker) {
	c := cron.New()
	_, err := c.AddFunc("@every 1m", func() {
		if err := locker.SweepExpired(context.Background()); err != nil {
			log.Warn("lock sweep failed", slog.Any("error", err))
		}
	})
	if err != nil {
		log.Error("schedule lock sweep failed", slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { c.Start(); return nil },
		OnStop:  func(ctx context.Context) error { <-c.Stop().Done(); return nil },
	})
}

func startListener(lc fx.Lifecycle, log *slog.Logger, listener *telegram.Listener) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("listener stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error { cancel(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error { return srv.Shutdown(ctx) },
	})
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/httpapi"
	"github.com/goliatone/go-onboarding/store"
	"github.com/goliatone/go-onboarding/store/redisstore"
	"github.com/goliatone/go-onboarding/store/sqlstore"
	"github.com/goliatone/go-onboarding/zaplog"
)

type serverConfig struct {
	onboarding.Config

	Store         string        `env:"ONBOARDING_STORE" envDefault:"memory"`
	SQLiteDSN     string        `env:"ONBOARDING_SQLITE_DSN" envDefault:"file:onboarding.db?cache=shared"`
	RedisAddr     string        `env:"ONBOARDING_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"ONBOARDING_REDIS_PASSWORD"`
	RedisDB       int           `env:"ONBOARDING_REDIS_DB" envDefault:"0"`
	RedisPrefix   string        `env:"ONBOARDING_REDIS_PREFIX" envDefault:"onboarding:"`
	RedisTTL      time.Duration `env:"ONBOARDING_REDIS_TTL" envDefault:"0s"`

	HTTPAddr   string `env:"ONBOARDING_HTTP_ADDR" envDefault:":8080"`
	HostBridge bool   `env:"ONBOARDING_HOST_BRIDGE" envDefault:"true"`
	OutboxSize int    `env:"ONBOARDING_OUTBOX_SIZE" envDefault:"32"`
	LogLevel   string `env:"ONBOARDING_LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"ONBOARDING_LOG_FORMAT"`
	Env        string `env:"ONBOARDING_ENV" envDefault:"production"`
}

func main() {
	cfg := serverConfig{}
	if err := onboarding.LoadEnv(&cfg, ".env"); err != nil {
		log.Fatalf("config: %v", err)
	}

	zl := zaplog.New(zaplog.Options{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Development: strings.EqualFold(cfg.Env, "development"),
	})
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Error("onboarding server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg serverConfig, zl *zap.Logger) error {
	logger := zaplog.NewAdapter(zl)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, closeStore, err := openStore(ctx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []onboarding.Option{
		onboarding.WithLogger(logger.Named("session")),
		onboarding.WithActivitySink(zaplog.NewActivitySink(zl.Named("activity"))),
	}

	var outbox *onboarding.Outbox
	if cfg.HostBridge {
		outbox = onboarding.NewOutbox(cfg.OutboxSize)
		opts = append(opts, onboarding.WithHostBridge(outbox))
	}

	session, err := onboarding.New(cfg.Config, st, opts...)
	if err != nil {
		return err
	}
	defer session.Shutdown()

	app := fiber.New(fiber.Config{
		AppName:               "onboarding",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	ctrlOpts := []httpapi.Option{httpapi.WithLogger(logger.Named("http"))}
	if outbox != nil {
		ctrlOpts = append(ctrlOpts, httpapi.WithOutbox(outbox))
	}
	httpapi.NewController(session, ctrlOpts...).Register(app)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening on %s (store=%s)", cfg.HTTPAddr, cfg.Store)
		errc <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case sig := <-waitExitSignal():
		logger.Info("received %s, shutting down", sig)
	case err := <-errc:
		return goerrors.Wrap(err, goerrors.CategoryInternal, "http server failed")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return app.ShutdownWithContext(shutdownCtx)
}

func openStore(ctx context.Context, cfg serverConfig, logger onboarding.Logger) (store.Store, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", "memory":
		return store.NewMemory(), func() {}, nil

	case "sqlite":
		st, db, err := sqlstore.OpenSQLite(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return st, func() {
			if err := db.Close(); err != nil {
				logger.Warn("sqlite close: %v", err)
			}
		}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "redis unavailable")
		}
		var ropts []redisstore.Option
		if cfg.RedisTTL > 0 {
			ropts = append(ropts, redisstore.WithTTL(cfg.RedisTTL))
		}
		return redisstore.New(client, cfg.RedisPrefix, ropts...), func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close: %v", err)
			}
		}, nil
	}

	return nil, nil, goerrors.New(fmt.Sprintf("unknown store %q", cfg.Store), goerrors.CategoryBadInput)
}

func waitExitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/observability"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/store/memory"
	"github.com/Tyrowin/relaychat/internal/store/postgres"
	"github.com/Tyrowin/relaychat/internal/store/redisstore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "relaychat: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("relaychat", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to a YAML configuration file")
	envFile := flagSet.String("env-file", ".env", "path to a .env file (ignored when missing)")
	port := flagSet.String("port", "", "listen address, e.g. :8080")
	driver := flagSet.String("store", "", "store driver: memory, redis or postgres")
	logLevel := flagSet.String("log-level", "", "log level: debug, info, warn or error")
	logFormat := flagSet.String("log-format", "", "log format: json or console")
	metrics := flagSet.Bool("metrics", true, "expose Prometheus metrics on /metrics")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := server.LoadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	if flagSet.Changed("port") {
		cfg.Port = *port
	}
	if flagSet.Changed("store") {
		cfg.Store.Driver = *driver
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}
	if flagSet.Changed("metrics") {
		cfg.MetricsEnabled = *metrics
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := observability.NewLogger("relaychat", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("error closing store", zap.Error(err))
		}
	}()

	authn, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.Leeway)
	if err != nil {
		return err
	}

	srv := server.New(cfg, store, authn, log)
	if err := srv.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	srv.StartHub()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	log.Info("relaychat started",
		zap.String("addr", cfg.Port),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("metrics", cfg.MetricsEnabled),
	)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = srv.Shutdown(cfg.ShutdownTimeout)
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("received signal, initiating shutdown")
	}

	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg server.StoreConfig, log *zap.Logger) (chat.Store, error) {
	switch cfg.Driver {
	case server.DriverRedis:
		store, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			redisstore.WithPrefix(cfg.RedisPrefix),
			redisstore.WithLogger(log.Named("redis")),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	case server.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresURL, log.Named("postgres"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memory.New(), nil
	}
}

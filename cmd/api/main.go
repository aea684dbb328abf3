package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-admin/internal/auth"
	"github.com/ovaphlow/pitchfork/service-user-admin/internal/notify"
	"github.com/ovaphlow/pitchfork/service-user-admin/internal/router"
	"github.com/ovaphlow/pitchfork/service-user-admin/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-user-admin/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-user-admin/pkg/config"
	"github.com/ovaphlow/pitchfork/service-user-admin/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-admin/pkg/utilities"
)

type serverConfig struct {
	Addr        string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	MaxPageSize int    `env:"USERS_MAX_PAGE_SIZE" envDefault:"100"`
	utilities.IDConfig
	Redis notify.RedisConfig
}

func main() {
	// best-effort: missing .env means real env or defaults
	_ = godotenv.Load()

	logCfg, err := utilities.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger config: %v\n", err)
		os.Exit(1)
	}
	lg, err := utilities.Init(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	if err := run(sugar); err != nil {
		sugar.Errorw("service stopped", "err", err)
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(sugar *zap.SugaredLogger) error {
	var cfg serverConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return err
	}
	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		return err
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return err
	}
	newID, err := utilities.NewIDGenerator(cfg.IDConfig)
	if err != nil {
		return err
	}

	sugar.Infow("starting service-user-admin", "driver", dbCfg.Driver, "addr", cfg.Addr)

	db, err := database.Connect(dbCfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo := userrepo.NewUserRepo(db)
	if err := repo.EnsureTable(ctx); err != nil {
		return err
	}

	// Writers publish to the broker directly unless changes are shared
	// across instances: through Redis when configured, else pg_notify on
	// PostgreSQL. A relay then feeds the local broker.
	broker := notify.NewBroker(32)
	var publisher notify.Publisher = broker
	switch {
	case cfg.Redis.URL != "":
		rdb, err := notify.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher = notify.NewRedisPublisher(rdb)
		go func() {
			if err := notify.RedisRelay(ctx, rdb, broker, sugar); err != nil {
				sugar.Errorw("redis relay stopped", "err", err)
			}
		}()
	case dbCfg.Driver == database.DriverPostgres:
		publisher = notify.NewPgPublisher(db)
		go func() {
			if err := notify.Relay(ctx, dbCfg.DSN, broker, sugar); err != nil {
				sugar.Errorw("notify relay stopped", "err", err)
			}
		}()
	}

	svc := user.NewUserService(repo, publisher, sugar, newID)
	svc.MaxPageSize = cfg.MaxPageSize

	var tokens *auth.Tokens
	if authCfg.Enabled() {
		tokens = auth.NewTokens(authCfg)
	} else {
		sugar.Warn("ADMIN_JWT_SECRET not set; user admin API is unauthenticated")
	}

	// cancelled on Shutdown so open event streams return
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.RegisterRoutes(sugar, user.NewHandler(svc, broker, sugar), tokens),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sugar.Info("goodbye")
	return nil
}

// Command seed empties the users table and loads the sample users.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-user-admin/internal/notify"
	"github.com/ovaphlow/pitchfork/service-user-admin/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-user-admin/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-user-admin/pkg/config"
	"github.com/ovaphlow/pitchfork/service-user-admin/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-admin/pkg/utilities"
)

func main() {
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

	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		sugar.Fatalw("database config", "err", err)
	}
	var idCfg utilities.IDConfig
	if err := config.ParseEnv(&idCfg); err != nil {
		sugar.Fatalw("id config", "err", err)
	}
	var redisCfg notify.RedisConfig
	if err := config.ParseEnv(&redisCfg); err != nil {
		sugar.Fatalw("redis config", "err", err)
	}
	newID, err := utilities.NewIDGenerator(idCfg)
	if err != nil {
		sugar.Fatalw("id generator", "err", err)
	}

	db, err := database.Connect(dbCfg)
	if err != nil {
		sugar.Fatalw("db connect", "err", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo := userrepo.NewUserRepo(db)
	if err := repo.EnsureTable(ctx); err != nil {
		sugar.Fatalw("ensure table", "err", err)
	}

	// running API instances refresh on reset
	var publisher notify.Publisher = notify.Nop{}
	switch {
	case redisCfg.URL != "":
		rdb, err := notify.NewRedisClient(ctx, redisCfg)
		if err != nil {
			sugar.Fatalw("redis", "err", err)
		}
		defer rdb.Close()
		publisher = notify.NewRedisPublisher(rdb)
	case dbCfg.Driver == database.DriverPostgres:
		publisher = notify.NewPgPublisher(db)
	}

	svc := user.NewUserService(repo, publisher, sugar, newID)
	n, err := svc.Reset(ctx, user.SeedUsers)
	if err != nil {
		sugar.Errorw("seed failed", "created", n, "err", err)
		_ = lg.Sync()
		os.Exit(1)
	}
	sugar.Infow("seed complete", "created", n)
}

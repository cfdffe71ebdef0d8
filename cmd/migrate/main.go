// Command migrate applies or reports the embedded schema migrations.
//
//	migrate -config config.yaml up
//	migrate -config config.yaml status
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"gym-membership/internal/config"
	pg "gym-membership/internal/infra/db/postgres"
	"gym-membership/internal/infra/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	switch cmd := flag.Arg(0); cmd {
	case "", "up":
		err = pg.Migrate(ctx, pool, logger)
	case "status":
		err = pg.MigrationStatus(ctx, pool, logger)
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command; want up or status")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
}

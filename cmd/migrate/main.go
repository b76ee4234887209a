package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"note-queue-service/internal/logging"
	"note-queue-service/internal/repository/postgresql"
	"note-queue-service/internal/repository/sqlstore"
)

func main() {
	_ = godotenv.Load()

	var driverFlag, dsnFlag string
	flag.StringVar(&driverFlag, "driver", envOr("STORE_DRIVER", "postgres"), "store driver (postgres, mysql, sqlite)")
	flag.StringVar(&dsnFlag, "dsn", os.Getenv("DATABASE_URL"), "database url, defaults to DATABASE_URL")
	flag.Parse()

	driver := strings.ToLower(strings.TrimSpace(driverFlag))
	dsn := strings.TrimSpace(dsnFlag)
	if dsn == "" {
		exitWithError(errors.New("-dsn or DATABASE_URL is required"))
	}

	logger := logging.NewLogger("cli").With().Str("cmd", "migrate").Str("driver", driver).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch driver {
	case "postgres":
		pool, err := postgresql.NewPool(ctx, dsn, 2)
		if err != nil {
			exitWithError(err)
		}
		defer pool.Close()
		if err := postgresql.Migrate(ctx, pool); err != nil {
			exitWithError(err)
		}
	case "mysql", "sqlite":
		// Open migrates the jobs table
		db, err := sqlstore.Open(driver, dsn)
		if err != nil {
			exitWithError(err)
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	default:
		exitWithError(fmt.Errorf("unsupported driver %q", driver))
	}

	logger.Info().Msg("schema is up to date")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
	os.Exit(1)
}

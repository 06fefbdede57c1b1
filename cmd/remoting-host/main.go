// Package main is the entrypoint for remoting-host.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/remoting/internal/config"
	"github.com/morezero/remoting/internal/server"
	"github.com/morezero/remoting/pkg/db"
)

const usage = `Usage: remoting-host [command]
       remoting-host serve              Start the host (NATS channel, activation, HTTP health).
       remoting-host migrate up         Run database migrations.
       remoting-host migrate down       Roll back one migration (optional; not all migrations support down).
       remoting-host migrate status     Show migration status.
       remoting-host ensure-db [name]   Create database if missing (default name: remoting_test). Uses DATABASE_URL host/user.
       remoting-host clear              Delete all registrations and remote hosts; schema is preserved.
       remoting-host seed [file]        Seed registration tables from a registration file.

Commands:
  serve            (default) Start the remoting host.
  migrate up       Run database migrations only.
  migrate down     Roll back last migration (optional).
  migrate status   Show current migration status.
  ensure-db [name] Create database (e.g. remoting_test) on same host as DATABASE_URL; then run tests with that URL.
  clear            Delete registration data; schema preserved.
  seed [file]      Seed from a registration file (default REMOTING_REGISTRATION_FILE, then config/registration.json).

Environment: COMMS_URL, HOST_ID, REGISTRATION_SOURCE (file|db), REMOTING_REGISTRATION_FILE,
DATABASE_URL (required for db commands), MIGRATION_PATH, REMOTING_HTTP_ADDR (default :8080). See README.
`

const defaultTestDB = "remoting_test"

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("remoting-host migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		var err error
		switch sub {
		case "up":
			err = withPool(runMigrateUp)
		case "status":
			err = withPool(runMigrateStatus)
		case "down":
			err = withPool(runMigrateDown)
		default:
			log.Fatalf("remoting-host migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		if err != nil {
			log.Fatalf("remoting-host migrate %s: %v", sub, err)
		}
		return
	case "clear":
		if err := withPool(runClear); err != nil {
			log.Fatalf("remoting-host clear: %v", err)
		}
		return
	case "seed":
		file := ""
		if len(args) > 1 {
			file = args[1]
		}
		err := withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
			return runSeed(ctx, cfg, pool, file)
		})
		if err != nil {
			log.Fatalf("remoting-host seed: %v", err)
		}
		return
	case "ensure-db":
		dbName := defaultTestDB
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("remoting-host ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("remoting-host: %v", err)
	}
}

type dbCommand func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error

// withPool loads config, opens the database and runs fn against it.
func withPool(fn dbCommand) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
}

func runMigrateDown(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	return db.MigrationDown(ctx, pool, cfg.MigrationPath)
}

func runClear(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
	if err := db.ClearRegistrations(ctx, pool); err != nil {
		return fmt.Errorf("clear registrations: %w", err)
	}
	return nil
}

func runSeed(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, override string) error {
	path := override
	if path == "" {
		path = cfg.RegistrationFile
	}
	if err := db.SeedRegistration(ctx, pool, path); err != nil {
		return fmt.Errorf("seed registrations: %w", err)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	targetURL, err := targetDatabaseURL(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

// targetDatabaseURL swaps the database name in databaseURL, keeping its query (e.g. sslmode).
func targetDatabaseURL(databaseURL, dbName string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

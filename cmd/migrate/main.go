package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/env"
)

type command struct {
	usage string
	run   func(m *migrate.Migrate, args []string) error
}

var commands = map[string]command{
	"up":     {usage: "up        apply all pending migrations", run: runUp},
	"down":   {usage: "down      roll back the latest migration", run: runDown},
	"goto":   {usage: "goto N    migrate to version N", run: runGoto},
	"status": {usage: "status    print the current schema version", run: runStatus},
}

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		printUsage()
		os.Exit(1)
	}

	m, err := migrate.New("file://"+env.GetEnv("MIGRATIONS_PATH", "migrations"), databaseURL())
	if err != nil {
		log.Fatalf("[Migrate] init: %v", err)
	}

	runErr := cmd.run(m, os.Args[2:])
	if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
		log.Printf("[Migrate] close: source=%v db=%v", sourceErr, dbErr)
	}
	if runErr != nil {
		log.Fatalf("[Migrate] %s: %v", os.Args[1], runErr)
	}
}

// databaseURL builds the golang-migrate MySQL URL from the same DB_* settings
// the service uses.
func databaseURL() string {
	user := env.GetEnv("DB_USER", "billing")
	host := env.GetEnv("DB_HOST", "db")
	port := env.GetEnv("DB_PORT", "3306")
	name := env.GetEnv("DB_NAME", "billing_db")
	log.Printf("[Migrate] Target %s@%s:%s/%s", user, host, port, name)
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		user, env.GetEnv("DB_PASSWORD", "billing"), host, port, name)
}

func runUp(m *migrate.Migrate, _ []string) error {
	return reportNoChange(m.Up(), "schema is up to date", "migrations applied")
}

func runDown(m *migrate.Migrate, _ []string) error {
	return reportNoChange(m.Steps(-1), "nothing to roll back", "rolled back one migration")
}

func runGoto(m *migrate.Migrate, args []string) error {
	if len(args) < 1 {
		return errors.New("goto needs a version number")
	}
	version, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	return reportNoChange(m.Migrate(uint(version)),
		fmt.Sprintf("schema already at version %d", version),
		fmt.Sprintf("migrated to version %d", version))
}

func runStatus(m *migrate.Migrate, _ []string) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("[Migrate] No migrations applied yet")
		return nil
	}
	if err != nil {
		return err
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	log.Printf("[Migrate] Version %d%s", version, suffix)
	return nil
}

// reportNoChange treats migrate.ErrNoChange as success.
func reportNoChange(err error, unchanged, done string) error {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Printf("[Migrate] No change: %s", unchanged)
		return nil
	case err != nil:
		return err
	default:
		log.Printf("[Migrate] Done: %s", done)
		return nil
	}
}

func printUsage() {
	fmt.Println("Usage: go run ./cmd/migrate <command>")
	for _, name := range []string{"up", "down", "goto", "status"} {
		fmt.Println("  " + commands[name].usage)
	}
}

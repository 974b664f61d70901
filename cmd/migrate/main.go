package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"

	"Orion/internal/observability"
	"Orion/internal/persistence"
	"Orion/migrations"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|status>")
		fmt.Println("  up     - apply all pending migrations")
		fmt.Println("  down   - roll back the last migration")
		fmt.Println("  status - list migrations and whether they are applied")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  ORION_POSTGRES_DSN    - Postgres connection string")
		fmt.Println("  ORION_MIGRATIONS_DIR  - read migrations from disk instead of the embedded set")
		os.Exit(1)
	}

	pgURL := os.Getenv("ORION_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/orion?sslmode=disable"
	}

	var files fs.FS = migrations.FS
	if dir := os.Getenv("ORION_MIGRATIONS_DIR"); dir != "" {
		files = os.DirFS(dir)
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		log.Fatalf("FATAL: open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, files, observability.NewLogger("migrate"))

	switch os.Args[1] {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		log.Printf("INFO: %d migrations applied", n)

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		log.Println("INFO: last migration rolled back")

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate status: %v", err)
		}
		for _, s := range statuses {
			mark := " "
			if s.Applied {
				mark = "x"
			}
			fmt.Printf("[%s] %s\n", mark, s.Filename)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}

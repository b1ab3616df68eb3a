// Command waitfordb blocks until the configured database answers, for use in
// container entrypoints ahead of the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aman-churiwal/property-listings/internal/config"
	"github.com/aman-churiwal/property-listings/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("waitfordb", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 60*time.Second, "how long to wait for the database")
	interval := fs.Duration("interval", 3*time.Second, "time between attempts")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *timeout <= 0 || *interval <= 0 {
		fmt.Fprintln(os.Stderr, "waitfordb: --timeout and --interval must be positive")
		return 2
	}

	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "waitfordb: %v\n", err)
		return 1
	}
	slog.SetDefault(cfg.Logging.NewLogger(os.Stderr))

	db, err := storage.NewDatabase(cfg.Database.URL, cfg.Database.GormLogLevel())
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		return 1
	}
	defer db.Close()

	if err := db.WaitReady(context.Background(), *timeout, *interval); err != nil {
		slog.Error("Database not available", "error", err)
		return 1
	}
	return 0
}

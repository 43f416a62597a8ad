// Command appvend-sweeper runs the background license maintenance jobs:
// expiring licenses whose end date has passed and purging stale download
// tokens. It shares the APPVEND_* environment with the API server and
// runs on the configured cron schedule, or once with --run-once.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/appvend/appvend/pkg/config"
	"github.com/appvend/appvend/pkg/database"
	"github.com/appvend/appvend/pkg/license"
)

var runOnce = flag.Bool("run-once", false, "Run one sweep and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	licenses := license.NewService(database.NewSQL(db, "postgres"))

	if *runOnce || cfg.Sweeper.RunOnce {
		if err := sweep(context.Background(), licenses); err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		log.Println("Sweep completed successfully")
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Sweeper.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := sweep(ctx, licenses); err != nil {
			log.Printf("Sweep failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}

	c.Start()
	log.Printf("Sweeper started, schedule: %s", cfg.Sweeper.Schedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()
	log.Println("Sweeper stopped")
}

func sweep(ctx context.Context, licenses *license.Service) error {
	expired, err := licenses.SweepExpired(ctx)
	if err != nil {
		return err
	}
	log.Printf("Expired %d licenses past their end date", expired)

	purged, err := licenses.PurgeExpiredTokens(ctx)
	if err != nil {
		return err
	}
	log.Printf("Purged %d expired download tokens", purged)
	return nil
}

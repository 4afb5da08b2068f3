// The sweeper is the external periodic trigger for retention work: it runs
// the expiry scan and then executes due schedules on a cron cadence, and
// queues renewal notices for consents expiring within thirty days.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brightpath/compliance-core/internal/config"
	"github.com/brightpath/compliance-core/internal/container"
	"github.com/brightpath/compliance-core/internal/logging"
	"github.com/brightpath/compliance-core/internal/store"
)

func main() {
	cfg := config.Load()

	if err := logging.Init(&cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	c, err := container.New(*cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer c.Cleanup()

	scheduler := cron.New()

	// daily retention sweep at 02:00
	_, err = scheduler.AddFunc("0 2 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		enforcement, err := c.Scheduler.EnforceRetentionPolicies(ctx)
		if err != nil {
			logging.Error("Retention enforcement failed", "error", err)
			return
		}
		logging.Info("Retention enforcement completed",
			"policies_scanned", enforcement.PoliciesScanned,
			"newly_scheduled", len(enforcement.Scheduled))

		execution, err := c.Scheduler.ExecuteScheduledDeletions(ctx)
		if err != nil {
			logging.Error("Deletion execution failed", "error", err)
			return
		}
		logging.Info("Deletion execution completed",
			"processed", execution.Processed,
			"completed", execution.Completed,
			"failed", execution.Failed,
			"items_deleted", execution.ItemsDeleted)
	})
	if err != nil {
		log.Fatalf("Failed to schedule retention sweep: %v", err)
	}

	// daily consent expiry notices at 08:00
	_, err = scheduler.AddFunc("0 8 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		expiring, err := c.Gate.ExpiringConsents(ctx, 30*24*time.Hour)
		if err != nil {
			logging.Error("Expiring-consent scan failed", "error", err)
			return
		}
		recs := make([]store.Record, 0, len(expiring))
		for _, consent := range expiring {
			rec, err := c.Store.Get(ctx, store.ConsentRecords, consent.ID)
			if err != nil {
				continue
			}
			recs = append(recs, rec)
		}
		if err := c.Dispatcher.NotifyConsentExpiring(ctx, recs); err != nil {
			logging.Error("Consent expiry notices failed", "error", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule consent notices: %v", err)
	}

	scheduler.Start()
	log.Println("Sweeper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down sweeper...")
	<-scheduler.Stop().Done()
}

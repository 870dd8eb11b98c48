// outbox-replay lists DEAD outbox jobs and, when confirmed, gives each one
// more attempt. A running server picks the replayed jobs up on its next poll.
//
// Usage (dry-run, list only):
//
//	go run ./cmd/outbox-replay -kind=invoice_document
//
// To replay:
//
//	go run ./cmd/outbox-replay -kind=invoice_document -dry-run=false -confirm=REPLAY
//	go run ./cmd/outbox-replay -job-id=42 -dry-run=false -confirm=REPLAY
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/alphaitsolutions/storefront_backend/workflow"
)

func main() {
	jobID := flag.Int("job-id", 0, "Optional: replay only this job")
	kind := flag.String("kind", "", "Optional: status_email, invoice_document, suspicious_alert or order_event")
	limit := flag.Int("limit", 100, "Max jobs to list/replay")
	dryRun := flag.Bool("dry-run", true, "If true, only list matching jobs")
	confirm := flag.String("confirm", "", "Must be REPLAY when -dry-run=false")
	flag.Parse()

	if !*dryRun && *confirm != "REPLAY" {
		fmt.Fprintln(os.Stderr, "refusing to replay without -confirm=REPLAY")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	ctx := utils.SetUserNameInContext(context.Background(), "OutboxReplay")

	var jobs []models.OutboxJob
	if *jobID > 0 {
		job, err := models.GetOutboxJob(ctx, db, *jobID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load job: %v\n", err)
			os.Exit(1)
		}
		jobs = append(jobs, *job)
	} else {
		var err error
		jobs, err = models.ListOutboxJobs(ctx, db, models.OutboxStatusDead, models.OutboxJobKind(strings.TrimSpace(*kind)), *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list DEAD jobs: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Found %d job(s)\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("  id=%d kind=%s status=%s attempts=%d/%d last_error=%q\n",
			job.ID, job.Kind, job.Status, job.Attempts, job.MaxAttempts, utils.DereferencePtr(job.LastError))
	}
	if *dryRun {
		fmt.Println("[dry-run] no changes written")
		return
	}

	// Replay only needs the database; delivery happens in the server's dispatcher.
	dispatcher := workflow.NewOutboxDispatcher(db, logger)
	failed := 0
	for _, job := range jobs {
		replayed, err := dispatcher.Replay(ctx, job.ID)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "  id=%d: %v\n", job.ID, err)
			continue
		}
		fmt.Printf("  id=%d replayed (max_attempts=%d)\n", replayed.ID, replayed.MaxAttempts)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

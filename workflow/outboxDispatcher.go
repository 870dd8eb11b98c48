package workflow

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/alphaitsolutions/storefront_backend/document"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/notify"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxDispatcher delivers queued side effects (emails, invoice documents,
// order events) after the write that queued them has committed.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string
	Clock        utils.Clock

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Sender    notify.Sender
	Renderer  document.Renderer
	Documents document.Store
	Events    notify.EventPublisher

	wake chan struct{}
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		Clock:          utils.SystemClock{},
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
		wake:           make(chan struct{}, 1),
	}
}

// Wake makes a running dispatcher poll now instead of at the next tick.
func (d *OutboxDispatcher) Wake() {
	if d == nil || d.wake == nil {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboxDispatcher) now() time.Time {
	return utils.ClockOrSystem(d.Clock).Now()
}

// dispatchOnce claims one batch of due jobs and runs them. It returns the
// number of jobs attempted.
func (d *OutboxDispatcher) dispatchOnce(ctx context.Context) int {
	if d.DB == nil {
		return 0
	}
	now := d.now()
	claimed, err := d.claim(ctx, now)
	if err != nil {
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":         "OutboxDispatcher",
				"dispatcher_id": d.DispatcherID,
			}).Error("outbox claim failed: " + err.Error())
		}
		return 0
	}

	for i := range claimed {
		job := &claimed[i]
		if err := d.run(ctx, job); err != nil {
			d.markFailed(ctx, job, err)
			continue
		}
		d.markSent(ctx, job)
	}
	return len(claimed)
}

// claim selects due jobs and flips each to PROCESSING with a conditional
// update, so a job is only ever claimed by one dispatcher even where
// SKIP LOCKED is not available.
func (d *OutboxDispatcher) claim(ctx context.Context, now time.Time) ([]models.OutboxJob, error) {
	staleBefore := now.Add(-d.LockTimeout)
	var claimed []models.OutboxJob
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and due
		// - PROCESSING but lock is stale (dispatcher crashed mid-batch)
		var candidates []models.OutboxJob
		q := tx.
			Where(`
				(
					status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxStatusPending, models.OutboxStatusFailed}, now, models.OutboxStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}

		for _, job := range candidates {
			if job.Attempts >= job.MaxAttempts {
				msg := fmt.Sprintf("max attempts exceeded (%d)", job.MaxAttempts)
				if err := tx.Model(&models.OutboxJob{}).
					Where("id = ? AND status = ?", job.ID, job.Status).
					Updates(map[string]interface{}{
						"status":          models.OutboxStatusDead,
						"last_error":      &msg,
						"next_attempt_at": nil,
						"locked_at":       nil,
						"locked_by":       nil,
						"updated_at":      now,
					}).Error; err != nil {
					return err
				}
				continue
			}

			res := tx.Model(&models.OutboxJob{}).
				Where("id = ? AND status = ? AND attempts = ?", job.ID, job.Status, job.Attempts).
				Updates(map[string]interface{}{
					"status":          models.OutboxStatusProcessing,
					"locked_at":       now,
					"locked_by":       d.DispatcherID,
					"attempts":        gorm.Expr("attempts + 1"),
					"next_attempt_at": nil,
					"updated_at":      now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			job.Status = models.OutboxStatusProcessing
			job.Attempts++
			job.LockedAt = &now
			job.LockedBy = &d.DispatcherID
			claimed = append(claimed, job)
		}
		return nil
	})
	return claimed, err
}

// run executes one job. A panicking handler counts as a failed attempt.
func (d *OutboxDispatcher) run(ctx context.Context, job *models.OutboxJob) (err error) {
	ctx, span := tracer.Start(ctx, "outbox."+string(job.Kind))
	defer span.End()
	span.SetAttributes(
		attribute.Int("outbox.job_id", job.ID),
		attribute.Int("outbox.attempt", job.Attempts),
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", job.Kind, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	switch job.Kind {
	case models.OutboxJobKindStatusEmail:
		var p models.StatusEmailPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		return d.send(ctx, notify.StatusEmail(p))
	case models.OutboxJobKindInvoiceDocument:
		var p models.InvoiceDocumentPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		return d.deliverInvoice(ctx, p.InvoiceId)
	case models.OutboxJobKindSuspiciousAlert:
		var p models.SuspiciousAlertPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		return d.send(ctx, notify.SuspiciousAlertEmail(p))
	case models.OutboxJobKindOrderEvent:
		var p models.OrderEventPayload
		if err := job.DecodePayload(&p); err != nil {
			return err
		}
		if d.Events == nil {
			return errors.New("no event publisher configured")
		}
		return d.Events.Publish(ctx, p)
	default:
		return fmt.Errorf("unknown outbox job kind %q", job.Kind)
	}
}

func (d *OutboxDispatcher) send(ctx context.Context, msg notify.Message) error {
	if d.Sender == nil {
		return errors.New("no sender configured")
	}
	return d.Sender.Send(ctx, msg)
}

// deliverInvoice renders, stores and emails the invoice document. Every step
// is safe to repeat on retry.
func (d *OutboxDispatcher) deliverInvoice(ctx context.Context, invoiceId int) error {
	if d.Renderer == nil || d.Documents == nil {
		return errors.New("no document renderer or store configured")
	}
	inv, err := models.GetInvoice(ctx, d.DB, invoiceId)
	if err != nil {
		return err
	}

	data, err := d.Renderer.Render(inv)
	if err != nil {
		return fmt.Errorf("render invoice %d: %w", invoiceId, err)
	}
	name := document.FileName(inv.ID, d.Renderer.Extension())
	location, err := d.Documents.Put(ctx, name, data, d.Renderer.ContentType())
	if err != nil {
		return fmt.Errorf("store invoice %d: %w", invoiceId, err)
	}
	if inv.DocumentPath != location {
		if err := d.DB.WithContext(ctx).Model(&models.Invoice{}).
			Where("id = ?", inv.ID).
			Updates(map[string]interface{}{"document_path": location, "updated_at": d.now()}).Error; err != nil {
			return err
		}
		inv.DocumentPath = location
	}

	if inv.CustomerEmail == "" {
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":      "OutboxDispatcher",
				"invoice_id": inv.ID,
			}).Warn("no customer email; invoice stored but not sent")
		}
		return nil
	}
	return d.send(ctx, notify.InvoiceEmail(inv, notify.Attachment{
		Filename:    path.Base(name),
		ContentType: d.Renderer.ContentType(),
		Data:        data,
	}))
}

func (d *OutboxDispatcher) markSent(ctx context.Context, job *models.OutboxJob) {
	now := d.now()
	err := d.DB.WithContext(ctx).Model(&models.OutboxJob{}).
		Where("id = ? AND locked_by = ?", job.ID, d.DispatcherID).
		Updates(map[string]interface{}{
			"status":          models.OutboxStatusSent,
			"completed_at":    now,
			"last_error":      nil,
			"locked_at":       nil,
			"locked_by":       nil,
			"next_attempt_at": nil,
			"updated_at":      now,
		}).Error
	if err != nil && d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":  "OutboxDispatcher",
			"job_id": job.ID,
			"kind":   job.Kind,
		}).Error("outbox mark sent failed: " + err.Error())
	}
}

func (d *OutboxDispatcher) markFailed(ctx context.Context, job *models.OutboxJob, cause error) {
	now := d.now()
	msg := cause.Error()
	fields := logrus.Fields{
		"field":         "OutboxDispatcher",
		"dispatcher_id": d.DispatcherID,
		"job_id":        job.ID,
		"kind":          job.Kind,
		"dedup_key":     job.DedupKey,
		"attempt":       job.Attempts,
	}

	// Terminal after MaxAttempts (DLQ equivalent).
	if job.Attempts >= job.MaxAttempts {
		_ = d.DB.WithContext(ctx).Model(&models.OutboxJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":          models.OutboxStatusDead,
				"last_error":      &msg,
				"next_attempt_at": nil,
				"locked_at":       nil,
				"locked_by":       nil,
				"updated_at":      now,
			}).Error
		if d.Logger != nil {
			d.Logger.WithFields(fields).Error("outbox job moved to DEAD: " + msg)
		}
		return
	}

	next := now.Add(d.backoff(job.Attempts))
	_ = d.DB.WithContext(ctx).Model(&models.OutboxJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":          models.OutboxStatusFailed,
			"last_error":      &msg,
			"next_attempt_at": &next,
			"locked_at":       nil,
			"locked_by":       nil,
			"updated_at":      now,
		}).Error
	if d.Logger != nil {
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
		d.Logger.WithFields(fields).Error("outbox job failed: " + msg)
	}
}

// backoff doubles from InitialBackoff per attempt, capped at MaxBackoff.
func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if d.MaxBackoff > 0 && backoff > d.MaxBackoff {
			return d.MaxBackoff
		}
	}
	return backoff
}

// Replay puts a DEAD or FAILED job back in the queue for one more attempt.
func (d *OutboxDispatcher) Replay(ctx context.Context, id int) (*models.OutboxJob, error) {
	job, err := models.GetOutboxJob(ctx, d.DB, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.OutboxStatusDead && job.Status != models.OutboxStatusFailed {
		return nil, &models.ConflictError{Resource: "outbox job", Id: id, Message: "only DEAD or FAILED jobs can be replayed (status " + job.Status + ")"}
	}

	now := d.now()
	maxAttempts := job.MaxAttempts
	if job.Attempts >= maxAttempts {
		maxAttempts = job.Attempts + 1
	}
	res := d.DB.WithContext(ctx).Model(&models.OutboxJob{}).
		Where("id = ? AND status = ?", id, job.Status).
		Updates(map[string]interface{}{
			"status":          models.OutboxStatusFailed,
			"max_attempts":    maxAttempts,
			"next_attempt_at": now,
			"locked_at":       nil,
			"locked_by":       nil,
			"updated_at":      now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, &models.ConflictError{Resource: "outbox job", Id: id, Message: "status changed concurrently"}
	}
	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":  "OutboxDispatcher",
			"job_id": id,
			"kind":   job.Kind,
		}).Info("outbox job replayed")
	}
	d.Wake()
	return models.GetOutboxJob(ctx, d.DB, id)
}

package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxJobKind string

const (
	OutboxJobKindStatusEmail     OutboxJobKind = "status_email"
	OutboxJobKindInvoiceDocument OutboxJobKind = "invoice_document"
	OutboxJobKindSuspiciousAlert OutboxJobKind = "suspicious_alert"
	OutboxJobKindOrderEvent      OutboxJobKind = "order_event"
)

// Outbox job statuses. Keep these as strings (DB values).
const (
	OutboxStatusPending    = "PENDING"
	OutboxStatusProcessing = "PROCESSING"
	OutboxStatusSent       = "SENT"
	OutboxStatusFailed     = "FAILED"
	OutboxStatusDead       = "DEAD"
)

// OutboxJob is a side effect recorded in the same DB transaction as the write
// that caused it and delivered later by the dispatcher (at least once).
type OutboxJob struct {
	ID            int            `gorm:"primary_key" json:"id"`
	Kind          OutboxJobKind  `gorm:"size:50;not null" json:"kind"`
	DedupKey      string         `gorm:"size:255;not null;uniqueIndex" json:"dedup_key"`
	Payload       datatypes.JSON `json:"payload"`
	Status        string         `gorm:"size:20;not null;index:idx_outbox_jobs_status_next" json:"status"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int            `gorm:"not null;default:1" json:"max_attempts"`
	NextAttemptAt *time.Time     `gorm:"index:idx_outbox_jobs_status_next" json:"next_attempt_at"`
	LockedAt      *time.Time     `json:"locked_at"`
	LockedBy      *string        `gorm:"size:64" json:"locked_by"`
	LastError     *string        `gorm:"type:text" json:"last_error"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CompletedAt   *time.Time     `json:"completed_at"`
}

func (j *OutboxJob) DecodePayload(dest any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("outbox job %d has no payload", j.ID)
	}
	return json.Unmarshal(j.Payload, dest)
}

type StatusEmailPayload struct {
	SuccessOrderId int                `json:"success_order_id"`
	Status         SuccessOrderStatus `json:"status"`
	To             string             `json:"to"`
	CustomerName   string             `json:"customer_name"`
}

type InvoiceDocumentPayload struct {
	InvoiceId      int `json:"invoice_id"`
	SuccessOrderId int `json:"success_order_id"`
}

type SuspiciousAlertPayload struct {
	EntryKind string          `json:"entry_kind"`
	EntryId   int             `json:"entry_id"`
	Amount    decimal.Decimal `json:"amount"`
	Category  string          `json:"category"`
	Reason    string          `json:"reason"`
	To        string          `json:"to"`
}

type OrderEventPayload struct {
	SuccessOrderId int                `json:"success_order_id"`
	CustomerId     int                `json:"customer_id"`
	Status         SuccessOrderStatus `json:"status"`
	TotalAmount    decimal.Decimal    `json:"total_amount"`
	InvoiceId      int                `json:"invoice_id"`
	TransactionId  int                `json:"transaction_id"`
}

// NewOutboxJob builds a PENDING job created at now and due after delay.
func NewOutboxJob(kind OutboxJobKind, dedupKey string, payload any, maxAttempts int, now time.Time, delay time.Duration) (*OutboxJob, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	nextAttemptAt := now.Add(delay)
	return &OutboxJob{
		Kind:          kind,
		DedupKey:      dedupKey,
		Payload:       datatypes.JSON(data),
		Status:        OutboxStatusPending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: &nextAttemptAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// EnqueueOutboxJob inserts job inside the caller's transaction. A job with the
// same DedupKey already queued wins; the return reports whether a row was
// inserted.
func EnqueueOutboxJob(ctx context.Context, tx *gorm.DB, job *OutboxJob) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(job)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func GetOutboxJob(ctx context.Context, db *gorm.DB, id int) (*OutboxJob, error) {
	var job OutboxJob
	err := db.WithContext(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "outbox job", Id: id}
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListOutboxJobs returns jobs in status, oldest first. An empty kind matches
// every kind.
func ListOutboxJobs(ctx context.Context, db *gorm.DB, status string, kind OutboxJobKind, limit int) ([]OutboxJob, error) {
	q := db.WithContext(ctx).Where("status = ?", status)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var jobs []OutboxJob
	err := q.Order("id ASC").Find(&jobs).Error
	return jobs, err
}

// StatusEmailDedupKey keys the seq-th status email of an order. A status that
// is entered again later gets a new sequence number and so its own email.
func StatusEmailDedupKey(successOrderId int, seq int64, status SuccessOrderStatus) string {
	return fmt.Sprintf("status_email:%d:%d:%s", successOrderId, seq, status)
}

// CountStatusEmails counts the status emails queued so far for an order.
func CountStatusEmails(ctx context.Context, db *gorm.DB, successOrderId int) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&OutboxJob{}).
		Where("kind = ? AND dedup_key LIKE ?", OutboxJobKindStatusEmail, fmt.Sprintf("status_email:%d:%%", successOrderId)).
		Count(&n).Error
	return n, err
}

func InvoiceDocumentDedupKey(invoiceId int) string {
	return fmt.Sprintf("invoice_document:%d", invoiceId)
}

func OrderEventDedupKey(successOrderId int) string {
	return fmt.Sprintf("order_event:%d", successOrderId)
}

func SuspiciousAlertDedupKey(entryKind string, entryId int) string {
	return fmt.Sprintf("suspicious_alert:%s:%d", entryKind, entryId)
}

package workflow

import (
	"errors"
	"strings"
	"time"

	"github.com/alphaitsolutions/storefront_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// isDuplicateKeyErr recognises unique-key violations whether or not the
// dialector translated them.
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// staleClaim is how long a STARTED claim may sit before another run takes it over.
const staleClaim = 5 * time.Minute

// BeginIdempotency inserts STARTED at now. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
// A FAILED key, or a STARTED key older than staleClaim, is taken over; when
// another run wins that takeover ErrIdempotencyInProgress is returned.
func BeginIdempotency(tx *gorm.DB, handlerName, messageId string, now time.Time) (skip bool, err error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	takeover := tx.Model(&models.IdempotencyKey{}).Where("id = ? AND status = ?", existing.ID, existing.Status)
	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another run is (or was) working on it; only take over a stale claim.
		cutoff := now.Add(-staleClaim)
		if existing.UpdatedAt.After(cutoff) {
			return false, ErrIdempotencyInProgress
		}
		takeover = takeover.Where("updated_at <= ?", cutoff)
	}
	res := takeover.Updates(map[string]interface{}{
		"status":     models.IdempotencyStatusStarted,
		"last_error": nil,
		"updated_at": now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, ErrIdempotencyInProgress
	}
	return false, nil
}

func MarkIdempotencySucceeded(tx *gorm.DB, handlerName, messageId string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}

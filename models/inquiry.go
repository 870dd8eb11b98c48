package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Inquiry struct {
	ID                int           `gorm:"primary_key" json:"id"`
	UserId            int           `gorm:"index" json:"user_id"`
	FullName          string        `gorm:"size:255;not null" json:"full_name"`
	Email             string        `gorm:"size:255;not null" json:"email"`
	ContactNumber     string        `gorm:"size:50" json:"contact_number"`
	InquiryType       InquiryType   `gorm:"size:50;not null" json:"inquiry_type"`
	InquirySubject    string        `gorm:"size:255" json:"inquiry_subject"`
	AdditionalDetails string        `gorm:"type:text" json:"additional_details"`
	Status            InquiryStatus `gorm:"size:20;not null;index:idx_inquiry_status_resolved" json:"status"`
	ResolvedAt        *time.Time    `gorm:"index:idx_inquiry_status_resolved" json:"resolved_at"`
	CreatedAt         time.Time     `json:"created_at"`
}

// ResolveInquiry marks the inquiry resolved at the given time. Resolving an
// already resolved inquiry keeps the original timestamp.
func ResolveInquiry(ctx context.Context, db *gorm.DB, id int, at time.Time) (*Inquiry, error) {
	var inq Inquiry
	err := db.WithContext(ctx).First(&inq, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "inquiry", Id: id}
	}
	if err != nil {
		return nil, err
	}
	if inq.Status == InquiryStatusResolved && inq.ResolvedAt != nil {
		return &inq, nil
	}
	inq.Status = InquiryStatusResolved
	inq.ResolvedAt = &at
	if err := db.WithContext(ctx).Model(&inq).Updates(map[string]interface{}{
		"status":      inq.Status,
		"resolved_at": at,
	}).Error; err != nil {
		return nil, err
	}
	return &inq, nil
}

// PurgeResolvedInquiries hard-deletes resolved inquiries whose resolution is
// at or before cutoff and returns how many rows went.
func PurgeResolvedInquiries(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status = ? AND resolved_at IS NOT NULL AND resolved_at <= ?", InquiryStatusResolved, cutoff).
		Delete(&Inquiry{})
	return res.RowsAffected, res.Error
}

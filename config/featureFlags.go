package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StrictOrderTransitions refuses status changes the order lifecycle does not
// allow (e.g. Cancelled -> Approved). Leaving handedOver is refused regardless.
//
// Set via env:
// - STRICT_ORDER_TRANSITIONS=false  (default true)
func StrictOrderTransitions() bool {
	return boolFromEnv("STRICT_ORDER_TRANSITIONS", true)
}

// PublishOrderEvents fans handedOver orders out to ORDER_EVENTS_TOPIC.
func PublishOrderEvents() bool {
	return boolFromEnv("PUBLISH_ORDER_EVENTS", false) && OrderEventsTopic() != ""
}

func OrderEventsTopic() string {
	return strings.TrimSpace(os.Getenv("ORDER_EVENTS_TOPIC"))
}

// MailTopic is the Pub/Sub topic consumed by the mail service.
func MailTopic() string {
	return strings.TrimSpace(os.Getenv("MAIL_TOPIC"))
}

func AdminAlertEmail() string {
	if v := strings.TrimSpace(os.Getenv("ADMIN_ALERT_EMAIL")); v != "" {
		return v
	}
	return "admin@alphaitsolutions.lk"
}

// InvoiceEmailDelay keeps the invoice email behind the status-change email.
func InvoiceEmailDelay() time.Duration {
	return time.Duration(intFromEnv("INVOICE_EMAIL_DELAY_SECONDS", 5)) * time.Second
}

func DocumentMaxAttempts() int {
	n := intFromEnv("OUTBOX_DOCUMENT_MAX_ATTEMPTS", 5)
	if n <= 0 {
		return 5
	}
	return n
}

func InquiryRetention() time.Duration {
	return time.Duration(intFromEnv("INQUIRY_RETENTION_HOURS", 48)) * time.Hour
}

func SchedulerInterval() time.Duration {
	n := intFromEnv("SCHEDULER_INTERVAL_SECONDS", 60)
	if n <= 0 {
		n = 60
	}
	return time.Duration(n) * time.Second
}

// MonthlyRollupClosingTime is the HH:MM on the last day of a month from which
// the petty cash rollup may run (default 23:59).
func MonthlyRollupClosingTime() (hour, minute int) {
	hour, minute = 23, 59
	raw := strings.TrimSpace(os.Getenv("MONTHLY_ROLLUP_CLOSING_TIME"))
	if raw == "" {
		return
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return
	}
	h, herr := strconv.Atoi(parts[0])
	m, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return
	}
	return h, m
}

func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS", false)
}

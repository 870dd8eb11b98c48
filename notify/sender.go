package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/sirupsen/logrus"
)

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type Message struct {
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	HTML        string       `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Sender delivers a message. Callers treat a failure as non-fatal.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// PublishFunc matches config.PublishJSON.
type PublishFunc func(ctx context.Context, topicName string, obj interface{}, attrs map[string]string) (string, error)

// PubSubSender hands messages to the mail service through a Pub/Sub topic.
type PubSubSender struct {
	Topic   string
	PublishFn PublishFunc
}

func NewPubSubSender(topic string) *PubSubSender {
	return &PubSubSender{Topic: topic, PublishFn: config.PublishJSON}
}

func (s *PubSubSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("message has no recipient")
	}
	if s.Topic == "" {
		return errors.New("MAIL_TOPIC not set")
	}
	attrs := map[string]string{"kind": "email"}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
		attrs["correlation_id"] = cid
	}
	if _, err := s.PublishFn(ctx, s.Topic, msg, attrs); err != nil {
		return fmt.Errorf("publish mail to %s: %w", s.Topic, err)
	}
	return nil
}

// LogSender only logs; used when no mail topic is configured.
type LogSender struct {
	Logger *logrus.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("message has no recipient")
	}
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":       "LogSender",
			"to":          msg.To,
			"subject":     msg.Subject,
			"attachments": len(msg.Attachments),
		}).Info("email not sent (log sender)")
	}
	return nil
}

// EventPublisher fans fulfilled orders out to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.OrderEventPayload) error
}

type PubSubEventPublisher struct {
	Topic   string
	PublishFn PublishFunc
}

func NewPubSubEventPublisher(topic string) *PubSubEventPublisher {
	return &PubSubEventPublisher{Topic: topic, PublishFn: config.PublishJSON}
}

func (p *PubSubEventPublisher) Publish(ctx context.Context, event models.OrderEventPayload) error {
	attrs := map[string]string{
		"kind":   "order_event",
		"status": string(event.Status),
	}
	if _, err := p.PublishFn(ctx, p.Topic, event, attrs); err != nil {
		return fmt.Errorf("publish order event to %s: %w", p.Topic, err)
	}
	return nil
}

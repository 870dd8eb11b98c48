package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	topic string
	obj   interface{}
	attrs map[string]string
}

func recordingPublish(calls *[]publishCall, err error) PublishFunc {
	return func(ctx context.Context, topicName string, obj interface{}, attrs map[string]string) (string, error) {
		*calls = append(*calls, publishCall{topic: topicName, obj: obj, attrs: attrs})
		return "msg-1", err
	}
}

func TestPubSubSender_Send(t *testing.T) {
	var calls []publishCall
	s := &PubSubSender{Topic: "mail", PublishFn: recordingPublish(&calls, nil)}
	ctx := utils.SetCorrelationIdInContext(context.Background(), "cid-1")

	err := s.Send(ctx, Message{To: "a@b.lk", Subject: "hi"})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "mail", calls[0].topic)
	assert.Equal(t, "cid-1", calls[0].attrs["correlation_id"])
	assert.Equal(t, "a@b.lk", calls[0].obj.(Message).To)
}

func TestPubSubSender_Errors(t *testing.T) {
	var calls []publishCall

	s := &PubSubSender{Topic: "mail", PublishFn: recordingPublish(&calls, errors.New("boom"))}
	assert.ErrorContains(t, s.Send(context.Background(), Message{To: "a@b.lk"}), "boom")

	assert.Error(t, s.Send(context.Background(), Message{}), "recipient required")

	noTopic := &PubSubSender{PublishFn: recordingPublish(&calls, nil)}
	assert.Error(t, noTopic.Send(context.Background(), Message{To: "a@b.lk"}))
}

func TestPubSubEventPublisher(t *testing.T) {
	var calls []publishCall
	p := &PubSubEventPublisher{Topic: "orders", PublishFn: recordingPublish(&calls, nil)}

	err := p.Publish(context.Background(), models.OrderEventPayload{SuccessOrderId: 3, Status: models.SuccessOrderStatusHandedOver})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "handedOver", calls[0].attrs["status"])
}

func TestStatusEmail(t *testing.T) {
	msg := StatusEmail(models.StatusEmailPayload{
		SuccessOrderId: 12,
		Status:         models.SuccessOrderStatusApproved,
		To:             "c@d.lk",
		CustomerName:   "Ruwan <script>",
	})

	assert.Equal(t, "c@d.lk", msg.To)
	assert.Equal(t, "Order Status Update", msg.Subject)
	assert.Contains(t, msg.Body, "#12 has been approved")
	assert.Contains(t, msg.HTML, "Alpha IT Solutions")
	assert.Contains(t, msg.HTML, "Ruwan &lt;script&gt;")
}

func TestInvoiceEmail(t *testing.T) {
	inv := &models.Invoice{ID: 5, SuccessOrderId: 9, CustomerEmail: "c@d.lk", TotalAmount: decimal.NewFromInt(170000)}
	msg := InvoiceEmail(inv, Attachment{Filename: "invoice-5.xlsx", Data: []byte("x")})

	assert.Equal(t, "Your invoice", msg.Subject)
	assert.Contains(t, msg.Body, "170000.00")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "invoice-5.xlsx", msg.Attachments[0].Filename)
}

func TestSuspiciousAlertEmail(t *testing.T) {
	msg := SuspiciousAlertEmail(models.SuspiciousAlertPayload{
		EntryKind: "petty_cash",
		EntryId:   4,
		Amount:    decimal.NewFromInt(6000),
		Category:  "office",
		Reason:    "amount 6000 exceeds petty cash threshold 5000",
		To:        "admin@alphaitsolutions.lk",
	})

	assert.Equal(t, "Suspicious Petty Cash Alert", msg.Subject)
	assert.Contains(t, msg.Body, "exceeds petty cash threshold")
}

func TestLogSender(t *testing.T) {
	s := &LogSender{}
	assert.NoError(t, s.Send(context.Background(), Message{To: "x@y.lk"}))
	assert.Error(t, s.Send(context.Background(), Message{}))
}

package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/alphaitsolutions/storefront_backend/models"
)

const companyName = "Alpha IT Solutions"

var layout = template.Must(template.New("email").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: auto; padding: 20px; border: 1px solid #ddd; border-radius: 10px;">
  <h2 style="color: #4CAF50; text-align: center;">{{.Company}}</h2>
  <p style="font-size: 16px; color: #333;">Dear {{.Name}},</p>
  <p style="font-size: 16px; color: #333;">{{.Text}}</p>
  <p style="font-size: 16px; color: #333;">Thank you for choosing {{.Company}}.<br> We're always here to serve you!</p>
  <hr style="border: none; border-top: 1px solid #eee;">
  <p style="font-size: 12px; color: #999; text-align: center;">This is an automated message. Please do not reply to this email.</p>
</div>`))

func renderHTML(name, text string) string {
	if name == "" {
		name = "Customer"
	}
	var buf bytes.Buffer
	// The template is static; Execute only fails on a writer error.
	_ = layout.Execute(&buf, map[string]string{"Company": companyName, "Name": name, "Text": text})
	return buf.String()
}

func statusText(orderId int, status models.SuccessOrderStatus) string {
	switch status {
	case models.SuccessOrderStatusPending:
		return fmt.Sprintf("Your order #%d has been received and is pending review.", orderId)
	case models.SuccessOrderStatusApproved:
		return fmt.Sprintf("Good news! Your order #%d has been approved.", orderId)
	case models.SuccessOrderStatusCancelled:
		return fmt.Sprintf("Your order #%d has been cancelled. Please contact us if this was unexpected.", orderId)
	case models.SuccessOrderStatusHandedOver:
		return fmt.Sprintf("Your order #%d has been handed over. Your invoice will follow shortly.", orderId)
	default:
		return fmt.Sprintf("The status of your order #%d is now %s.", orderId, status)
	}
}

// StatusEmail is sent whenever a SuccessOrder changes status.
func StatusEmail(p models.StatusEmailPayload) Message {
	text := statusText(p.SuccessOrderId, p.Status)
	return Message{
		To:      p.To,
		Subject: "Order Status Update",
		Body:    text,
		HTML:    renderHTML(p.CustomerName, text),
	}
}

// InvoiceEmail carries the rendered invoice document.
func InvoiceEmail(inv *models.Invoice, doc Attachment) Message {
	text := fmt.Sprintf("Please find attached invoice #%d for your order #%d. Total paid: %s.",
		inv.ID, inv.SuccessOrderId, inv.TotalAmount.StringFixed(2))
	return Message{
		To:          inv.CustomerEmail,
		Subject:     "Your invoice",
		Body:        text,
		HTML:        renderHTML(inv.CustomerName, text),
		Attachments: []Attachment{doc},
	}
}

// SuspiciousAlertEmail goes to the admin mailbox for a flagged ledger entry.
func SuspiciousAlertEmail(p models.SuspiciousAlertPayload) Message {
	subject := "Suspicious Transaction Alert"
	if p.EntryKind == "petty_cash" {
		subject = "Suspicious Petty Cash Alert"
	}
	text := fmt.Sprintf(`A suspicious %s entry has been detected:

- Id: %d
- Amount: %s
- Category: %s
- Reason: %s

Please review the entry for further action.`,
		p.EntryKind, p.EntryId, p.Amount.String(), p.Category, p.Reason)
	return Message{To: p.To, Subject: subject, Body: text}
}

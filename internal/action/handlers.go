package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	twilio "github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WebhookHandler posts the rendered template body as JSON to the
// descriptor's target URL.
type WebhookHandler struct {
	client *resty.Client
	logger *slog.Logger
}

func NewWebhookHandler(logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{client: resty.New(), logger: logger}
}

func (h *WebhookHandler) Channel() string { return "webhook" }

func (h *WebhookHandler) Execute(ctx context.Context, correlationID string, d Descriptor) error {
	body, err := Render(d.Template, d.Data)
	if err != nil {
		return err
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Correlation-ID", correlationID).
		SetBody(body).
		Post(d.Target)
	if err != nil {
		return fmt.Errorf("action: webhook post to %s: %w", d.Target, err)
	}
	if resp.IsError() {
		return fmt.Errorf("action: webhook %s returned %s", d.Target, resp.Status())
	}
	return nil
}

// EmailHandler sends a rendered template body via SendGrid.
type EmailHandler struct {
	client    *sendgrid.Client
	fromAddr  string
	fromName  string
	subjectFallback string
}

func NewEmailHandler(apiKey, fromAddr, fromName string) *EmailHandler {
	return &EmailHandler{
		client:          sendgrid.NewSendClient(apiKey),
		fromAddr:        fromAddr,
		fromName:        fromName,
		subjectFallback: "Rule engine notification",
	}
}

func (h *EmailHandler) Channel() string { return "email" }

func (h *EmailHandler) Execute(ctx context.Context, correlationID string, d Descriptor) error {
	body, err := Render(d.Template, d.Data)
	if err != nil {
		return err
	}
	subject := h.subjectFallback
	if s, ok := d.Data["subject"].(string); ok && s != "" {
		subject = s
	}

	from := mail.NewEmail(h.fromName, h.fromAddr)
	to := mail.NewEmail("", d.Target)
	message := mail.NewSingleEmail(from, subject, to, body, body)
	message.Headers = map[string]string{"X-Correlation-ID": correlationID}

	resp, err := h.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("action: sendgrid send to %s: %w", d.Target, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("action: sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}

// SMSHandler sends a rendered template body via Twilio.
type SMSHandler struct {
	client     *twilio.RestClient
	fromNumber string
}

func NewSMSHandler(fromNumber string) *SMSHandler {
	return &SMSHandler{client: twilio.NewRestClient(), fromNumber: fromNumber}
}

func (h *SMSHandler) Channel() string { return "sms" }

func (h *SMSHandler) Execute(ctx context.Context, correlationID string, d Descriptor) error {
	body, err := Render(d.Template, d.Data)
	if err != nil {
		return err
	}
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(d.Target)
	params.SetFrom(h.fromNumber)
	params.SetBody(fmt.Sprintf("[%s] %s", correlationID[:8], body))

	if _, err := h.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("action: twilio send to %s: %w", d.Target, err)
	}
	return nil
}

// Package notify delivers operator alerts for high-severity findings over
// SES email and SNS SMS. Delivery is best-effort: a failed alert is logged
// and dropped, never retried and never surfaced to the trust pass.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"session-trust/internal/common/logger"
	"session-trust/internal/models"
)

// EmailSender is the slice of the SES client the notifier uses.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// SMSSender is the slice of the SNS client the notifier uses.
type SMSSender interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

type Config struct {
	FromEmail   string
	AlertEmail  string
	AlertPhone  string
	SMSSenderID string
}

type Notifier struct {
	email EmailSender
	sms   SMSSender
	cfg   Config
	log   logger.Logger
}

// NewNotifier creates the notifier. email and sms may each be nil when the
// corresponding channel is disabled.
func NewNotifier(email EmailSender, sms SMSSender, cfg Config, log logger.Logger) *Notifier {
	return &Notifier{
		email: email,
		sms:   sms,
		cfg:   cfg,
		log:   log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

// AlertFinding sends the finding over every enabled channel. Only findings
// at high severity or above are delivered; lower severities stay in the
// audit trail only.
func (n *Notifier) AlertFinding(ctx context.Context, f models.SecurityFinding) {
	if f.Severity != models.SeverityHigh && f.Severity != models.SeverityCritical {
		return
	}

	if n.email != nil && n.cfg.AlertEmail != "" {
		n.sendEmail(ctx, f)
	}
	if n.sms != nil && n.cfg.AlertPhone != "" && f.Severity == models.SeverityCritical {
		n.sendSMS(ctx, f)
	}
}

func (n *Notifier) sendEmail(ctx context.Context, f models.SecurityFinding) {
	subject := fmt.Sprintf("[%s] Security finding: %s", strings.ToUpper(string(f.Severity)), f.Kind)
	body := fmt.Sprintf(
		"Finding:   %s\nSeverity:  %s\nUser:      %s\nSession:   %s\nTime:      %s\nDetails:   %v\n",
		f.Kind, f.Severity, f.UserID, f.SessionID, f.Timestamp.Format("2006-01-02 15:04:05 UTC"), f.Details,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(n.cfg.FromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{n.cfg.AlertEmail},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
	}

	if _, err := n.email.SendEmail(ctx, input); err != nil {
		n.log.Warn("alert email delivery failed", map[string]interface{}{
			"kind":  string(f.Kind),
			"error": err.Error(),
		})
		return
	}
	n.log.Info("alert email sent", map[string]interface{}{"kind": string(f.Kind)})
}

func (n *Notifier) sendSMS(ctx context.Context, f models.SecurityFinding) {
	message := fmt.Sprintf("Security alert: %s for user %s (%s)", f.Kind, f.UserID, f.Severity)

	input := &sns.PublishInput{
		PhoneNumber: aws.String(n.cfg.AlertPhone),
		Message:     aws.String(message),
	}
	if n.cfg.SMSSenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.cfg.SMSSenderID),
			},
		}
	}

	if _, err := n.sms.Publish(ctx, input); err != nil {
		n.log.Warn("alert SMS delivery failed", map[string]interface{}{
			"kind":  string(f.Kind),
			"error": err.Error(),
		})
		return
	}
	n.log.Info("alert SMS sent", map[string]interface{}{"kind": string(f.Kind)})
}

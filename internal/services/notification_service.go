package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkglogger "github.com/BradenHooton/garage/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Notifier tells a principal about security-relevant account changes.
type Notifier interface {
	NotifySecondFactorEnabled(ctx context.Context, email, username string, at time.Time) error
}

// SESClient is the subset of the SES API the notifier uses.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends notifications through AWS SES
type SESNotifier struct {
	client      SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS credential chain for region
func NewSESNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewSESNotifierWithClient(client SESClient, fromAddress string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{client: client, fromAddress: fromAddress, logger: logger}
}

func (n *SESNotifier) NotifySecondFactorEnabled(ctx context.Context, email, username string, at time.Time) error {
	when := at.UTC().Format(time.RFC1123)

	textBody := fmt.Sprintf(`Hello %s,

Two-step verification was turned on for your Garage account on %s.

From now on you will be asked for a code from your authenticator app after
entering your password.

If you did not do this, contact an administrator immediately.
`, username, when)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <p>Hello %s,</p>
    <p>Two-step verification was turned on for your Garage account on <strong>%s</strong>.</p>
    <p>From now on you will be asked for a code from your authenticator app after entering your password.</p>
    <p><strong>If you did not do this, contact an administrator immediately.</strong></p>
</body>
</html>
`, username, when)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Two-step verification enabled")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send notification via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("notification sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogNotifier only logs. Used when SES is not configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifySecondFactorEnabled(ctx context.Context, email, username string, at time.Time) error {
	n.logger.InfoContext(ctx, "second factor enabled notification (email disabled)",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Time("enabled_at", at))
	return nil
}

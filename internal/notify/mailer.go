package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// Mailer delivers a rendered message.
type Mailer interface {
	Send(ctx context.Context, to string, msg *Message) error
}

// MailerConfig selects and configures the mailer.
type MailerConfig struct {
	Provider        string // "ses" or "noop"
	FromAddress     string
	FromName        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewMailer returns an SES mailer for provider "ses" and a logging no-op otherwise.
func NewMailer(ctx context.Context, cfg MailerConfig, logger *zap.Logger) (Mailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider != "ses" {
		if cfg.Provider != "noop" && cfg.Provider != "" {
			logger.Warn("unknown email provider, using noop", zap.String("provider", cfg.Provider))
		}
		return NoopMailer{logger: logger}, nil
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	source := cfg.FromAddress
	if cfg.FromName != "" {
		source = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}
	return &SESMailer{client: ses.NewFromConfig(awsCfg), source: source, logger: logger}, nil
}

// SESMailer sends email through AWS SES.
type SESMailer struct {
	client *ses.Client
	source string
	logger *zap.Logger
}

// Send sends msg to a single recipient.
func (m *SESMailer) Send(ctx context.Context, to string, msg *Message) error {
	input := &ses.SendEmailInput{
		Source:      aws.String(m.source),
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    &types.Body{},
		},
	}
	if msg.HTML != "" {
		input.Message.Body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		input.Message.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	m.logger.Debug("email sent", zap.String("to", to), zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// NoopMailer logs instead of sending.
type NoopMailer struct {
	logger *zap.Logger
}

// Send logs the message.
func (m NoopMailer) Send(_ context.Context, to string, msg *Message) error {
	if m.logger != nil {
		m.logger.Info("email not sent (noop mailer)", zap.String("to", to), zap.String("subject", msg.Subject))
	}
	return nil
}

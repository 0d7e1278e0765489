package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/orecrest/authcore/internal/models"
	pkglogger "github.com/orecrest/authcore/pkg/logger"
)

// EmailService sends security notifications. Delivery is best-effort:
// login flow never blocks or fails on a notification problem.
type EmailService interface {
	SendNewDeviceAlert(ctx context.Context, email string, device *models.Device, at time.Time) error
	SendLockoutAlert(ctx context.Context, email string, retryAfter time.Duration) error
}

// AWSSESEmailService sends notifications through AWS SES.
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

func NewAWSSESEmailService(region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendNewDeviceAlert notifies the account holder that an unrecognized
// device signed in.
func (s *AWSSESEmailService) SendNewDeviceAlert(ctx context.Context, email string, device *models.Device, at time.Time) error {
	textBody := fmt.Sprintf(`A new device signed in to your account.

Time:    %s
Browser: %s
OS:      %s
Type:    %s
IP:      %s

If this was you, no action is needed. If you don't recognize this
sign-in, change your password and review your active sessions now.

This is an automated message. Please do not reply.
`, at.UTC().Format(time.RFC1123), device.Browser, device.OS, device.DeviceClass, device.IPAddress)

	return s.send(ctx, email, "New sign-in to your account", textBody)
}

// SendLockoutAlert notifies the account holder their account is
// temporarily locked after repeated failed logins.
func (s *AWSSESEmailService) SendLockoutAlert(ctx context.Context, email string, retryAfter time.Duration) error {
	textBody := fmt.Sprintf(`Your account has been temporarily locked after repeated failed
sign-in attempts. You can try again in about %d minutes.

If these attempts weren't yours, consider changing your password once
the lock lifts.

This is an automated message. Please do not reply.
`, int(retryAfter.Minutes())+1)

	return s.send(ctx, email, "Your account is temporarily locked", textBody)
}

func (s *AWSSESEmailService) send(ctx context.Context, email, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send security email",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("security email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", *result.MessageId))

	return nil
}

// NoopEmailService is used when notifications are disabled.
type NoopEmailService struct{}

func (NoopEmailService) SendNewDeviceAlert(context.Context, string, *models.Device, time.Time) error {
	return nil
}

func (NoopEmailService) SendLockoutAlert(context.Context, string, time.Duration) error {
	return nil
}

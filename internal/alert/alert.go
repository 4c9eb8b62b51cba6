// Package alert notifies operators when a task is aborted after exhausting
// its tries.
package alert

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// Notifier delivers an operator alert.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// SESNotifier mails alerts through Amazon SES.
type SESNotifier struct {
	client *sesv2.Client
	from   string
	to     string
}

func NewSESNotifier(cfg aws.Config, from, to string) (*SESNotifier, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("alert: sender and recipient are required")
	}
	return &SESNotifier{client: sesv2.NewFromConfig(cfg), from: from, to: to}, nil
}

func (n *SESNotifier) Notify(ctx context.Context, subject, body string) error {
	_, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination: &types.Destination{
			ToAddresses: []string{n.to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("alert: send email: %w", err)
	}
	return nil
}

// LogNotifier writes alerts to a logger.  It is the fallback when SES is
// not configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, subject, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("ALERT %s\n%s", subject, body)
	return nil
}

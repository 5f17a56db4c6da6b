// internal/delivery/ses.go
package delivery

import (
	"context"
	"fmt"

	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the slice of the SES API the channel uses, for mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailChannel delivers rendered notices over SES.
type EmailChannel struct {
	client    SESService
	resolver  Resolver
	fromEmail string
	logger    logger.Logger
}

func NewEmailChannel(ctx context.Context, region, fromEmail string, resolver Resolver, log logger.Logger) (*EmailChannel, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &EmailChannel{
		client:    ses.NewFromConfig(awsCfg),
		resolver:  resolver,
		fromEmail: fromEmail,
		logger:    log.WithFields(map[string]interface{}{"channel": "email"}),
	}, nil
}

// NewEmailChannelWithClient wires a preconstructed client, used in tests.
func NewEmailChannelWithClient(client SESService, fromEmail string, resolver Resolver, log logger.Logger) *EmailChannel {
	return &EmailChannel{
		client:    client,
		resolver:  resolver,
		fromEmail: fromEmail,
		logger:    log.WithFields(map[string]interface{}{"channel": "email"}),
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, msg Message, audience models.Audience) (Result, error) {
	recipients, err := c.resolver.Resolve(ctx, audience, msg.NotificationID)
	if err != nil {
		return Result{ErrorCode: "AUDIENCE_RESOLUTION_FAILED"}, err
	}

	var addresses []string
	for _, r := range recipients {
		if r.Email != "" {
			addresses = append(addresses, r.Email)
		}
	}
	if len(addresses) == 0 {
		return Result{ErrorCode: "NO_EMAIL_RECIPIENTS"}, fmt.Errorf("audience %s resolved to zero email addresses", audience.Scope)
	}

	out, err := c.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: addresses,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body)},
			},
		},
		Source: aws.String(c.fromEmail),
	})
	if err != nil {
		c.logger.Error("email send failed", map[string]interface{}{
			"notificationId": msg.NotificationID,
			"error":          err.Error(),
		})
		return Result{ErrorCode: "SES_SEND_FAILED"}, err
	}

	result := Result{Success: true}
	if out.MessageId != nil {
		result.ProviderMessageID = *out.MessageId
	}
	return result, nil
}

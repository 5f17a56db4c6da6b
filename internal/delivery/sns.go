// internal/delivery/sns.go
package delivery

import (
	"context"
	"fmt"

	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSService is the slice of the SNS API the channel uses, for mocking.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSChannel delivers rendered notices over SNS.
type SMSChannel struct {
	client   SNSService
	resolver Resolver
	logger   logger.Logger
}

func NewSMSChannel(ctx context.Context, region string, resolver Resolver, log logger.Logger) (*SMSChannel, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SMSChannel{
		client:   sns.NewFromConfig(awsCfg),
		resolver: resolver,
		logger:   log.WithFields(map[string]interface{}{"channel": "sms"}),
	}, nil
}

// NewSMSChannelWithClient wires a preconstructed client, used in tests.
func NewSMSChannelWithClient(client SNSService, resolver Resolver, log logger.Logger) *SMSChannel {
	return &SMSChannel{
		client:   client,
		resolver: resolver,
		logger:   log.WithFields(map[string]interface{}{"channel": "sms"}),
	}
}

func (c *SMSChannel) Name() string { return "sms" }

func (c *SMSChannel) Send(ctx context.Context, msg Message, audience models.Audience) (Result, error) {
	recipients, err := c.resolver.Resolve(ctx, audience, msg.NotificationID)
	if err != nil {
		return Result{ErrorCode: "AUDIENCE_RESOLUTION_FAILED"}, err
	}

	sent := 0
	var lastID string
	for _, r := range recipients {
		if r.Phone == "" {
			continue
		}
		out, err := c.client.Publish(ctx, &sns.PublishInput{
			PhoneNumber: aws.String(r.Phone),
			Message:     aws.String(msg.Body),
		})
		if err != nil {
			c.logger.Error("SMS send failed", map[string]interface{}{
				"notificationId": msg.NotificationID,
				"guardianId":     r.GuardianID,
				"error":          err.Error(),
			})
			return Result{ErrorCode: "SNS_PUBLISH_FAILED"}, err
		}
		if out.MessageId != nil {
			lastID = *out.MessageId
		}
		sent++
	}

	if sent == 0 {
		return Result{ErrorCode: "NO_SMS_RECIPIENTS"}, fmt.Errorf("audience %s resolved to zero phone numbers", audience.Scope)
	}
	return Result{Success: true, ProviderMessageID: lastID}, nil
}

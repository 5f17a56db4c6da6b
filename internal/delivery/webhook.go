// internal/delivery/webhook.go
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	commonhttp "guardian-notify/internal/common/http"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/models"
)

// WebhookChannel posts the rendered message to an external sender service.
// Useful where the school's messaging provider sits behind a gateway.
type WebhookChannel struct {
	client *commonhttp.Client
	url    string
	logger logger.Logger
}

type webhookPayload struct {
	Message  Message         `json:"message"`
	Audience models.Audience `json:"audience"`
}

type webhookResponse struct {
	MessageID string `json:"messageId"`
}

func NewWebhookChannel(url string, timeout time.Duration, log logger.Logger) *WebhookChannel {
	return &WebhookChannel{
		client: commonhttp.NewClient(timeout),
		url:    url,
		logger: log.WithFields(map[string]interface{}{"channel": "webhook"}),
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, msg Message, audience models.Audience) (Result, error) {
	resp, err := c.client.PostJSON(ctx, c.url, webhookPayload{Message: msg, Audience: audience})
	if err != nil {
		return Result{ErrorCode: "WEBHOOK_UNREACHABLE"}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("webhook rejected message", map[string]interface{}{
			"notificationId": msg.NotificationID,
			"status":         resp.StatusCode,
			"body":           string(body),
		})
		return Result{ErrorCode: fmt.Sprintf("WEBHOOK_HTTP_%d", resp.StatusCode)},
			fmt.Errorf("webhook returned %d", resp.StatusCode)
	}

	var parsed webhookResponse
	if err := decodeJSON(resp, &parsed); err != nil {
		// A 2xx without a parseable body still counts as delivered.
		return Result{Success: true}, nil
	}
	return Result{Success: true, ProviderMessageID: parsed.MessageID}, nil
}

func decodeJSON(resp *http.Response, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

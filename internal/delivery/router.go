// internal/delivery/router.go
package delivery

import (
	"context"
	"fmt"

	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/models"
)

// Router selects channels by notice category: emergencies go out on every
// configured channel, everything else on the default channel. The first
// successful channel's result is returned; an emergency fails only when all
// channels fail.
type Router struct {
	defaultChannel Channel
	emergencyExtra []Channel
	logger         logger.Logger
}

func NewRouter(defaultChannel Channel, emergencyExtra []Channel, log logger.Logger) *Router {
	return &Router{
		defaultChannel: defaultChannel,
		emergencyExtra: emergencyExtra,
		logger:         log.WithFields(map[string]interface{}{"component": "delivery-router"}),
	}
}

func (r *Router) Name() string { return "router" }

func (r *Router) Send(ctx context.Context, msg Message, audience models.Audience) (Result, error) {
	channels := []Channel{r.defaultChannel}
	if msg.Category == models.CategoryEmergency {
		channels = append(channels, r.emergencyExtra...)
	}

	var (
		firstResult Result
		delivered   bool
		lastErr     error
	)
	for _, ch := range channels {
		result, err := ch.Send(ctx, msg, audience)
		if err != nil {
			lastErr = err
			r.logger.Warn("channel send failed", map[string]interface{}{
				"channel":        ch.Name(),
				"notificationId": msg.NotificationID,
				"error":          err.Error(),
			})
			continue
		}
		if !delivered {
			firstResult = result
			delivered = true
		}
	}

	if !delivered {
		if lastErr == nil {
			lastErr = fmt.Errorf("no delivery channel configured")
		}
		return Result{ErrorCode: "ALL_CHANNELS_FAILED"}, lastErr
	}
	return firstResult, nil
}

// StaticResolver returns preconfigured recipients regardless of subject.
// Production deployments plug in the school directory; tests and
// single-school setups use this.
type StaticResolver struct {
	Recipients []Recipient
}

func (s *StaticResolver) Resolve(_ context.Context, _ models.Audience, _ string) ([]Recipient, error) {
	return s.Recipients, nil
}

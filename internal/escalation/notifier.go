package escalation

import (
	"context"

	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/pkg/models"
)

// Notifier delivers an alert to a contact over a channel ("email", "sms",
// "push"). Implementations must be safe for concurrent use.
type Notifier interface {
	Deliver(ctx context.Context, tenantID, contact, channel string, alert *models.Alert) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, tenantID, contact, channel string, alert *models.Alert) error

func (f NotifierFunc) Deliver(ctx context.Context, tenantID, contact, channel string, alert *models.Alert) error {
	return f(ctx, tenantID, contact, channel, alert)
}

// LogNotifier writes alert deliveries to the structured log. It stands in
// for a real provider integration in development and single-node deploys.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a notifier backed by the structured log.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Deliver(ctx context.Context, tenantID, contact, channel string, alert *models.Alert) error {
	n.logger.Info("delivering alert",
		"tenant_id", tenantID,
		"contact", contact,
		"channel", channel,
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"message", alert.Message)
	return nil
}

package notify

import "log/slog"

// Alert channels, used as the metric label.
const (
	channelWebhook = "webhook"
	channelEmail   = "email"
)

// logNotifyResult runs fn and logs and counts the result.
func (n *AlertNotifier) logNotifyResult(fn func() error, channel, reportID string) {
	if err := fn(); err != nil {
		slog.Error("notification failed", "channel", channel, "id", reportID, "error", err)
		n.metrics.Alerts.WithLabelValues(channel, "error").Inc()
		return
	}
	slog.Info("notification sent", "channel", channel, "id", reportID)
	n.metrics.Alerts.WithLabelValues(channel, "success").Inc()
}

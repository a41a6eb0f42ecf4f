package notify

import (
	"context"
	"fmt"

	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

// alertEmail builds the subject and body for a high-level report.
func alertEmail(stationName string, o types.Observation, threshold int) (subject, body string) {
	subject = fmt.Sprintf("[ALERT] High %s level (%d) - %s", o.Category, o.Level, stationName)
	body = fmt.Sprintf(
		"A %s report above the alert threshold was submitted.\n\n"+
			"Level:     %d\n"+
			"Threshold: %d\n"+
			"Position:  %.5f, %.5f\n"+
			"Time:      %s\n"+
			"Report ID: %s\n",
		o.Category, o.Level, threshold, o.Lat, o.Lng, util.HumanTimeOf(o.RecordedAt), o.ID,
	)
	if o.Description != "" {
		body += "\nDescription:\n" + o.Description + "\n"
	}
	return subject, body
}

// sendAlertEmail sends a high-level report alert using the cached Graph client.
func (n *AlertNotifier) sendAlertEmail(ctx context.Context, o types.Observation) error {
	cfg := &n.cfg.Graph
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	subject, body := alertEmail(n.cfg.StationName, o, n.cfg.Threshold)
	if err := client.SendMail(ctx, recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *GraphConfig, stationName string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}
	return sendTestEmail(ctx, client, cfg, stationName)
}

func sendTestEmail(ctx context.Context, client *GraphClient, cfg *GraphConfig, stationName string) error {
	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + stationName
	body := fmt.Sprintf(
		"Test email from %s.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		AppName, util.HumanTimeOf(timeNow()),
	)

	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

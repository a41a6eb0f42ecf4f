package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest Ecoscan"

// DefaultThreshold is the level above which a report raises an alert.
// It matches the red noise marker.
const DefaultThreshold = 70

// timestampUTC formats t as UTC RFC3339.
func timestampUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

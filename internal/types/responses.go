package types

// WSLevelsResponse carries the latest sampler reading to a screen.
type WSLevelsResponse struct {
	Type    string        `json:"type"` // "levels"
	Reading *LevelReading `json:"reading"`
}

// WSFeedResponse carries a full feed snapshot after a load.
type WSFeedResponse struct {
	Type    string    `json:"type"` // "feed"
	Markers []Marker  `json:"markers"`
	Center  Position  `json:"center"`
	Viewer  *Position `json:"viewer,omitempty"`
}

// WSReportResponse carries one insert event, in arrival order.
type WSReportResponse struct {
	Type   string `json:"type"` // "report"
	Marker Marker `json:"marker"`
}

// WSStatusResponse describes the screen state.
type WSStatusResponse struct {
	Type       string       `json:"type"` // "status"
	Sampler    SamplerState `json:"sampler"`
	Level      *int         `json:"level,omitempty"`
	Category   Category     `json:"category,omitempty"`
	Position   *Position    `json:"position,omitempty"`
	CanSubmit  bool         `json:"can_submit"`
	Categories []Category   `json:"categories"`
	LastError  string       `json:"last_error,omitempty"`
	Version    VersionInfo  `json:"version"`
}

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string `json:"type"`            // "<command>_result"
	Success bool   `json:"success"`         // true if command succeeded
	Error   any    `json:"error,omitempty"` // Message, or *ValidationError
	Code    string `json:"code,omitempty"`  // ErrorCode of the failure
	Data    any    `json:"data,omitempty"`  // Optional response data
}

// VersionInfo describes the running build and the latest release.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	UpdateAvail bool   `json:"update_available"`
	Commit      string `json:"commit,omitempty"`
	BuildTime   string `json:"build_time,omitempty"`
}

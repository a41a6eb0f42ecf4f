package server

// Request types for WebSocket commands with validation tags.

// SelectRequest is the request body for report/select.
type SelectRequest struct {
	Type string `json:"type" validate:"required,oneof=noise smoke garbage other"`
}

// SubmitRequest is the request body for report/submit. The type falls back
// to the selected category.
type SubmitRequest struct {
	Type        string `json:"type" validate:"omitempty,oneof=noise smoke garbage other"`
	Description string `json:"description" validate:"max=500"`
}

// PositionUpdateRequest is the request body for position/update. The browser
// sends either a fix or the reason it has none.
type PositionUpdateRequest struct {
	Lat   *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng   *float64 `json:"lng" validate:"omitempty,longitude"`
	Error string   `json:"error" validate:"omitempty,oneof=denied unavailable timeout"`
}

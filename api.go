package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-ecoscan/internal/archive"
	"github.com/oszuidwest/zwfm-ecoscan/internal/feed"
	"github.com/oszuidwest/zwfm-ecoscan/internal/notify"
	"github.com/oszuidwest/zwfm-ecoscan/internal/report"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

const apiTimeout = 10 * time.Second

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps err to a status code and writes it with its error code.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusUnprocessableEntity, verr)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNetworkFailure), errors.Is(err, types.ErrTimeout):
		status = http.StatusServiceUnavailable
	case errors.Is(err, types.ErrValidationFailure):
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  types.ErrorCode(err),
	})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseJSON reads and parses JSON from request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	return v, true
}

// coalesce returns the first non-zero value from the provided values.
func coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// writeResult writes the {"success": ...} body the test endpoints share.
func (s *Server) writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Reports

// handleListReports returns every observation, newest first.
// GET /api/reports
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	observations, err := s.store.SelectAll(ctx)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, observations)
}

// handleCreateReport validates and stores a report.
// POST /api/reports
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	sub, ok := parseJSON[report.Submission](s, w, r)
	if !ok {
		return
	}

	o, err := sub.Build()
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	saved, err := s.store.Insert(ctx, o)
	if err != nil {
		slog.Warn("failed to store report", "error", err)
		s.writeFailure(w, err)
		return
	}

	slog.Info("report stored", "id", saved.ID, "type", saved.Category, "level", saved.Level)
	s.writeJSON(w, http.StatusCreated, saved)
}

// handleListMarkers returns the rendered map markers, newest first.
// GET /api/markers
func (s *Server) handleListMarkers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	observations, err := s.store.SelectAll(ctx)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feed.RenderAll(observations))
}

// Station

// handleAPIDevices returns the available capture devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices":  s.devices(r.Context()),
		"selected": s.config.AudioInput,
	})
}

// handleAPIVersion returns build and update information.
// GET /api/version
func (s *Server) handleAPIVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.versionInfo())
}

// Probes

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Fan-out test endpoints

// NotificationTestRequest is the request body for testing notifications.
// Empty fields fall back to the saved configuration.
type NotificationTestRequest struct {
	// Webhook
	WebhookURL string `json:"webhook_url,omitempty"`

	// Email
	GraphTenantID     string `json:"graph_tenant_id,omitempty"`
	GraphClientID     string `json:"graph_client_id,omitempty"`
	GraphClientSecret string `json:"graph_client_secret,omitempty"`
	GraphFromAddress  string `json:"graph_from_address,omitempty"`
	GraphRecipients   string `json:"graph_recipients,omitempty"`
}

// ArchiveTestRequest is the request body for testing the report archive.
type ArchiveTestRequest struct {
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	AccessKey string `json:"access_key_id,omitempty"`
	SecretKey string `json:"secret_access_key,omitempty"`
}

func (s *Server) handleAPITestWebhook(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[NotificationTestRequest](s, w, r)
	if !ok {
		return
	}

	url := coalesce(req.WebhookURL, s.config.WebhookURL)
	if url == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "No webhook URL configured"})
		return
	}

	s.writeResult(w, notify.SendTestWebhook(r.Context(), url, s.config.StationName))
}

func (s *Server) handleAPITestEmail(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[NotificationTestRequest](s, w, r)
	if !ok {
		return
	}

	graphCfg := &notify.GraphConfig{
		TenantID:     coalesce(req.GraphTenantID, s.config.GraphTenantID),
		ClientID:     coalesce(req.GraphClientID, s.config.GraphClientID),
		ClientSecret: coalesce(req.GraphClientSecret, s.config.GraphClientSecret),
		FromAddress:  coalesce(req.GraphFromAddress, s.config.GraphFromAddress),
		Recipients:   coalesce(req.GraphRecipients, s.config.GraphRecipients),
	}

	if graphCfg.TenantID == "" || graphCfg.ClientID == "" || graphCfg.ClientSecret == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Email not fully configured"})
		return
	}

	s.writeResult(w, notify.SendTestEmail(r.Context(), graphCfg, s.config.StationName))
}

func (s *Server) handleAPITestArchive(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[ArchiveTestRequest](s, w, r)
	if !ok {
		return
	}

	cfg := &archive.S3Config{
		Endpoint:        coalesce(req.Endpoint, s.config.ArchiveEndpoint),
		Region:          coalesce(req.Region, s.config.ArchiveRegion),
		Bucket:          coalesce(req.Bucket, s.config.ArchiveBucket),
		AccessKeyID:     coalesce(req.AccessKey, s.config.ArchiveAccessKeyID),
		SecretAccessKey: coalesce(req.SecretKey, s.config.ArchiveSecretAccessKey),
	}

	switch {
	case cfg.Bucket == "":
		s.writeError(w, http.StatusBadRequest, "bucket is required")
		return
	case cfg.AccessKeyID == "":
		s.writeError(w, http.StatusBadRequest, "access_key_id is required")
		return
	case cfg.SecretAccessKey == "":
		s.writeError(w, http.StatusBadRequest, "secret_access_key is required")
		return
	}

	s.writeResult(w, archive.TestConnection(r.Context(), s.newArchiveClient(cfg), cfg.Bucket))
}

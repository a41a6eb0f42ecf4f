package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "scan/start", "report/submit")
func (s *Screen) Handle(cmd WSCommand) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "scan":
		s.handleScan(action, cmd)
	case "report":
		s.handleReport(action, cmd)
	case "position":
		s.handlePosition(action, cmd)
	case "feed":
		s.handleFeed(action, cmd)
	case "status":
		s.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(s.Push, cmd.Type, fmt.Errorf("unknown command %q", cmd.Type))
	}

	s.triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleScan routes scan/* commands
func (s *Screen) handleScan(action string, cmd WSCommand) {
	switch action {
	case "start":
		s.handleScanStart(cmd)
	case "stop":
		s.sampler.Stop()
		SendSuccess(s.Push, cmd.Type, nil)
	default:
		slog.Warn("unknown scan action", "action", action)
	}
}

// handleScanStart acquires the input in the background so that a stop can
// arrive while the device is still opening.
func (s *Screen) handleScanStart(cmd WSCommand) {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()

	s.handleActionAsync(cmd, func() (any, error) {
		err := s.sampler.Start(s.ctx)
		if err != nil {
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
		}
		s.triggerStatusUpdate()
		return nil, err
	})
}

// handleReport routes report/* commands
func (s *Screen) handleReport(action string, cmd WSCommand) {
	switch action {
	case "select":
		HandleCommand(cmd, s.Push, func(req *SelectRequest) (any, error) {
			s.mu.Lock()
			s.category = types.Category(req.Type)
			s.mu.Unlock()
			return nil, nil
		})
	case "submit":
		HandleCommand(cmd, s.Push, s.submit)
	default:
		slog.Warn("unknown report action", "action", action)
	}
}

// submit inserts a report from the current level, category and position.
func (s *Screen) submit(req *SubmitRequest) (any, error) {
	sub := s.submission(req.Description)
	if req.Type != "" {
		category := req.Type
		sub.Category = &category
	}
	o, err := sub.Build()
	if err != nil {
		return nil, err
	}

	// The selection follows the request only once the report is valid.
	if req.Type != "" {
		s.mu.Lock()
		s.category = o.Category
		s.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()
	saved, err := s.deps.Store.Insert(ctx, o)
	if err != nil {
		slog.Error("failed to submit report", "error", err)
		return nil, err
	}

	slog.Info("report submitted", "id", saved.ID, "type", saved.Category, "level", saved.Level)
	return saved, nil
}

// handlePosition routes position/* commands
func (s *Screen) handlePosition(action string, cmd WSCommand) {
	switch action {
	case "update":
		HandleCommand(cmd, s.Push, s.updatePosition)
	case "locate":
		s.handleActionAsync(cmd, func() (any, error) {
			return s.locate()
		})
	default:
		slog.Warn("unknown position action", "action", action)
	}
}

// updatePosition records the browser's geolocation result.
func (s *Screen) updatePosition(req *PositionUpdateRequest) (any, error) {
	switch req.Error {
	case "denied":
		s.fix.Fail(fmt.Errorf("%w: browser geolocation denied", types.ErrPermissionDenied))
		return nil, nil
	case "timeout":
		s.fix.Fail(fmt.Errorf("%w: browser geolocation timed out", types.ErrTimeout))
		return nil, nil
	case "unavailable":
		s.fix.Fail(fmt.Errorf("%w: browser has no fix", types.ErrLocationUnavailable))
		return nil, nil
	}

	if req.Lat == nil || req.Lng == nil {
		verr := types.NewValidationError()
		if req.Lat == nil {
			verr.Add("lat", "is required", nil)
		}
		if req.Lng == nil {
			verr.Add("lng", "is required", nil)
		}
		return nil, verr
	}

	pos := types.Position{Lat: *req.Lat, Lng: *req.Lng}
	s.fix.Set(pos)
	s.mu.Lock()
	s.position = &pos
	s.mu.Unlock()
	return pos, nil
}

// locate resolves the position through the browser fix or the station and
// recenters the map on it.
func (s *Screen) locate() (any, error) {
	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()

	pos, err := s.locator.CurrentPosition(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.position = &pos
	s.mu.Unlock()

	if err := s.feed.TrackViewerPosition(ctx); err == nil {
		s.pushFeed()
	}
	return pos, nil
}

// handleFeed routes feed/* commands
func (s *Screen) handleFeed(action string, cmd WSCommand) {
	switch action {
	case "load":
		s.handleActionAsync(cmd, func() (any, error) {
			return nil, s.loadFeed(s.ctx)
		})
	default:
		slog.Warn("unknown feed action", "action", action)
	}
}

// handleStatus routes status/* commands
func (s *Screen) handleStatus(action string) {
	switch action {
	case "get":
		// Handle triggers the status push for every command.
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}

// handleActionAsync runs a command action in the background with panic recovery.
func (s *Screen) handleActionAsync(cmd WSCommand, action func() (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}

	s.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(s.Push, cmd.Type, fmt.Errorf("internal error"))
			}
		}()

		result, err := action()
		if err != nil {
			SendError(s.Push, cmd.Type, err)
			return
		}
		SendSuccess(s.Push, cmd.Type, result)
	})
}

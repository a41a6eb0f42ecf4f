package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-ecoscan/internal/archive"
	"github.com/oszuidwest/zwfm-ecoscan/internal/audio"
	"github.com/oszuidwest/zwfm-ecoscan/internal/config"
	"github.com/oszuidwest/zwfm-ecoscan/internal/server"
	"github.com/oszuidwest/zwfm-ecoscan/internal/store"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// Server is the HTTP server for the screens, the report API and the probes.
type Server struct {
	config  config.Snapshot
	store   store.Store
	screens server.Deps
	version *VersionChecker

	// devices lists capture devices; replaced in tests.
	devices func(ctx context.Context) []audio.Device
	// newArchiveClient builds the S3 client for the archive test endpoint.
	newArchiveClient func(cfg *archive.S3Config) archive.ObjectAPI
	// metrics serves /metrics.
	metrics http.Handler
}

// NewServer creates a new web server instance.
func NewServer(cfg config.Snapshot, st store.Store, deps server.Deps, version *VersionChecker) *Server {
	deps.Store = st
	if version != nil {
		deps.Version = version.Info
	}
	return &Server{
		config:  cfg,
		store:   st,
		screens: deps,
		version: version,
		devices: audio.Devices,
		newArchiveClient: func(cfg *archive.S3Config) archive.ObjectAPI {
			return archive.NewS3Client(cfg)
		},
		metrics: promhttp.Handler(),
	}
}

// handleWebSocket upgrades the connection and serves one screen on it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	screen, err := server.NewScreen(s.screens)
	if err != nil {
		slog.Error("failed to open screen", "error", err)
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
		return
	}

	slog.Debug("screen connected", "remote", r.RemoteAddr)
	screen.Run(conn)
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	// Reports
	mux.HandleFunc("GET /api/reports", s.handleListReports)
	mux.HandleFunc("POST /api/reports", s.handleCreateReport)
	mux.HandleFunc("GET /api/markers", s.handleListMarkers)

	// Station
	mux.HandleFunc("GET /api/devices", s.handleAPIDevices)
	mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Fan-out checks
	mux.HandleFunc("POST /api/notifications/webhook/test", s.handleAPITestWebhook)
	mux.HandleFunc("POST /api/notifications/email/test", s.handleAPITestEmail)
	mux.HandleFunc("POST /api/archive/test", s.handleAPITestArchive)

	// Probes
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", s.metrics)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// versionInfo returns the build info, or the bare build vars without a checker.
func (s *Server) versionInfo() types.VersionInfo {
	if s.version == nil {
		return types.VersionInfo{Current: normalizeVersion(Version), Commit: Commit}
	}
	return s.version.Info()
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-ecoscan/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort         = 8080
	DefaultStationName     = "ZuidWest Ecoscan"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultFFTSize         = 256
	DefaultTickIntervalMs  = 50
	DefaultStorageDriver   = DriverSQLite
	DefaultStoragePath     = "data/ecoscan.db"
	DefaultCenterLat       = 19.076
	DefaultCenterLng       = 72.8777
	DefaultMapboxTimeoutMs = 5000
	DefaultMapboxCacheSize = 128
	DefaultArchivePrefix   = "ecoscan"
	DefaultKafkaTopic      = "ecoscan.reports"
	DefaultAlertThreshold  = 70
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Environment variables that override secrets and the listen port.
const (
	EnvMapboxToken       = "ECOSCAN_MAPBOX_TOKEN"
	EnvS3SecretAccessKey = "ECOSCAN_S3_SECRET_ACCESS_KEY"
	EnvGraphClientSecret = "ECOSCAN_GRAPH_CLIENT_SECRET"
	EnvPort              = "ECOSCAN_PORT"
)

// Validation patterns define regular expressions for configuration value validation.
var (
	// Station name: any printable characters except control chars (blocks CRLF injection in emails)
	stationNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
	logLevels          = []string{"debug", "info", "warn", "error"}
	logFormats         = []string{"text", "json"}
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port"`        // HTTP server port
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn or error
	Format string `json:"format"` // text or json
}

// WebConfig holds station branding settings.
type WebConfig struct {
	StationName string `json:"station_name"` // Station display name
}

// AudioConfig holds audio input and analysis settings.
type AudioConfig struct {
	Input          string `json:"input"`            // Audio input device identifier
	FFTSize        int    `json:"fft_size"`         // Analyser FFT size, power of two
	TickIntervalMs int    `json:"tick_interval_ms"` // Level sampling interval
}

// StorageConfig selects the observation store.
type StorageConfig struct {
	Driver string `json:"driver"` // sqlite or memory
	Path   string `json:"path"`   // SQLite database file
}

// LocationConfig holds the station position and the default map center.
type LocationConfig struct {
	Lat       *float64 `json:"lat,omitempty"`     // Fixed station latitude
	Lng       *float64 `json:"lng,omitempty"`     // Fixed station longitude
	Address   string   `json:"address,omitempty"` // Geocoded when no fixed position is set
	CenterLat float64  `json:"center_lat"`        // Map center without a viewer position
	CenterLng float64  `json:"center_lng"`
}

// MapboxConfig holds forward geocoding settings.
type MapboxConfig struct {
	Token     string `json:"token"`      // Access token
	TimeoutMs int    `json:"timeout_ms"` // Request timeout
	CacheSize int    `json:"cache_size"` // LRU cache entries
}

// ArchiveConfig holds S3 archive settings.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint"`          // Custom endpoint for S3-compatible storage
	Region          string `json:"region"`            // Bucket region
	Bucket          string `json:"bucket"`            // Bucket name
	Prefix          string `json:"prefix"`            // Key prefix
	AccessKeyID     string `json:"access_key_id"`     // Access key
	SecretAccessKey string `json:"secret_access_key"` // Secret key
}

// KafkaConfig holds insert event publishing settings.
type KafkaConfig struct {
	Brokers []string `json:"brokers"` // Bootstrap brokers
	Topic   string   `json:"topic"`   // Destination topic
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url"` // Webhook URL for alerts
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`     // Azure AD tenant ID
	ClientID     string `json:"client_id"`     // App registration client ID
	ClientSecret string `json:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address"`  // Shared mailbox sender address
	Recipients   string `json:"recipients"`    // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	AlertThreshold int           `json:"alert_threshold"` // Alert above this level
	Webhook        WebhookConfig `json:"webhook"`         // Webhook settings
	Email          EmailConfig   `json:"email"`           // Email settings
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Log           LogConfig           `json:"log"`
	Web           WebConfig           `json:"web"`
	Audio         AudioConfig         `json:"audio"`
	Storage       StorageConfig       `json:"storage"`
	Location      LocationConfig      `json:"location"`
	Mapbox        MapboxConfig        `json:"mapbox"`
	Archive       ArchiveConfig       `json:"archive"`
	Kafka         KafkaConfig         `json:"kafka"`
	Notifications NotificationsConfig `json:"notifications"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
// Environment overrides are applied after the file is read and are never saved.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	switch {
	case os.IsNotExist(err):
		if err := c.saveLocked(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		if err := json.Unmarshal(data, c); err != nil {
			return util.WrapError("parse config", err)
		}
	}

	c.applyDefaults()

	if err := c.applyEnv(os.Getenv); err != nil {
		return err
	}

	return c.validate()
}

// applyEnv overrides secrets and the port from the environment.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvMapboxToken); v != "" {
		c.Mapbox.Token = v
	}
	if v := getenv(EnvS3SecretAccessKey); v != "" {
		c.Archive.SecretAccessKey = v
	}
	if v := getenv(EnvGraphClientSecret); v != "" {
		c.Notifications.Email.ClientSecret = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.System.Port = port
	}
	return nil
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	name := c.Web.StationName
	if name == "" || len(name) > 30 || !stationNamePattern.MatchString(name) {
		return fmt.Errorf("invalid station_name %q: must be 1-30 printable characters", name)
	}
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.System.Port)
	}
	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("invalid log level %q: must be one of %s", c.Log.Level, strings.Join(logLevels, ", "))
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Log.Format)) {
		return fmt.Errorf("invalid log format %q: must be text or json", c.Log.Format)
	}
	if n := c.Audio.FFTSize; n < 32 || n > 32768 || n&(n-1) != 0 {
		return fmt.Errorf("invalid fft_size %d: must be a power of two between 32 and 32768", n)
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if err := util.ValidatePath("storage.path", c.Storage.Path); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid storage driver %q: must be sqlite or memory", c.Storage.Driver)
	}
	if (c.Location.Lat == nil) != (c.Location.Lng == nil) {
		return fmt.Errorf("location: lat and lng must be set together")
	}
	if c.Location.Lat != nil && (*c.Location.Lat < -90 || *c.Location.Lat > 90 || *c.Location.Lng < -180 || *c.Location.Lng > 180) {
		return fmt.Errorf("location: position out of range")
	}
	if c.Notifications.AlertThreshold < 0 || c.Notifications.AlertThreshold > 100 {
		return fmt.Errorf("invalid alert_threshold %d: must be 0-100", c.Notifications.AlertThreshold)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka: topic is required when brokers are set")
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)
	c.Log.Level = cmp.Or(c.Log.Level, DefaultLogLevel)
	c.Log.Format = cmp.Or(c.Log.Format, DefaultLogFormat)
	c.Web.StationName = cmp.Or(c.Web.StationName, DefaultStationName)
	c.Audio.FFTSize = cmp.Or(c.Audio.FFTSize, DefaultFFTSize)
	c.Audio.TickIntervalMs = cmp.Or(c.Audio.TickIntervalMs, DefaultTickIntervalMs)
	c.Storage.Driver = cmp.Or(c.Storage.Driver, DefaultStorageDriver)
	if c.Storage.Driver == DriverSQLite {
		c.Storage.Path = cmp.Or(c.Storage.Path, DefaultStoragePath)
	}
	if c.Location.CenterLat == 0 && c.Location.CenterLng == 0 {
		c.Location.CenterLat = DefaultCenterLat
		c.Location.CenterLng = DefaultCenterLng
	}
	c.Mapbox.TimeoutMs = cmp.Or(c.Mapbox.TimeoutMs, DefaultMapboxTimeoutMs)
	c.Mapbox.CacheSize = cmp.Or(c.Mapbox.CacheSize, DefaultMapboxCacheSize)
	c.Archive.Prefix = cmp.Or(c.Archive.Prefix, DefaultArchivePrefix)
	c.Kafka.Topic = cmp.Or(c.Kafka.Topic, DefaultKafkaTopic)
	c.Notifications.AlertThreshold = cmp.Or(c.Notifications.AlertThreshold, DefaultAlertThreshold)
	if c.Kafka.Brokers == nil {
		c.Kafka.Brokers = []string{}
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	FFmpegPath string
	WebPort    int

	// Logging
	LogLevel  string
	LogFormat string

	// Web
	StationName string

	// Audio
	AudioInput   string
	FFTSize      int
	TickInterval time.Duration

	// Storage
	StorageDriver string
	StoragePath   string

	// Location
	StationLat     *float64
	StationLng     *float64
	StationAddress string
	CenterLat      float64
	CenterLng      float64

	// Mapbox
	MapboxToken     string
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Archive
	ArchiveEndpoint        string
	ArchiveRegion          string
	ArchiveBucket          string
	ArchivePrefix          string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string

	// Notifications
	AlertThreshold    int
	WebhookURL        string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		FFmpegPath: c.System.FFmpegPath,
		WebPort:    c.System.Port,

		LogLevel:  c.Log.Level,
		LogFormat: c.Log.Format,

		StationName: c.Web.StationName,

		AudioInput:   c.Audio.Input,
		FFTSize:      c.Audio.FFTSize,
		TickInterval: time.Duration(c.Audio.TickIntervalMs) * time.Millisecond,

		StorageDriver: c.Storage.Driver,
		StoragePath:   c.Storage.Path,

		StationLat:     clonePtr(c.Location.Lat),
		StationLng:     clonePtr(c.Location.Lng),
		StationAddress: c.Location.Address,
		CenterLat:      c.Location.CenterLat,
		CenterLng:      c.Location.CenterLng,

		MapboxToken:     c.Mapbox.Token,
		MapboxTimeout:   time.Duration(c.Mapbox.TimeoutMs) * time.Millisecond,
		MapboxCacheSize: c.Mapbox.CacheSize,

		ArchiveEndpoint:        c.Archive.Endpoint,
		ArchiveRegion:          c.Archive.Region,
		ArchiveBucket:          c.Archive.Bucket,
		ArchivePrefix:          c.Archive.Prefix,
		ArchiveAccessKeyID:     c.Archive.AccessKeyID,
		ArchiveSecretAccessKey: c.Archive.SecretAccessKey,

		KafkaBrokers: slices.Clone(c.Kafka.Brokers),
		KafkaTopic:   c.Kafka.Topic,

		AlertThreshold:    c.Notifications.AlertThreshold,
		WebhookURL:        c.Notifications.Webhook.URL,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// HasStationPosition reports whether a fixed station position is configured.
func (s *Snapshot) HasStationPosition() bool {
	return s.StationLat != nil && s.StationLng != nil
}

// HasGeocoding reports whether the station address can be geocoded.
func (s *Snapshot) HasGeocoding() bool {
	return s.MapboxToken != "" && s.StationAddress != ""
}

// HasArchive reports whether the S3 archive is configured.
func (s *Snapshot) HasArchive() bool {
	return s.ArchiveBucket != "" && s.ArchiveAccessKeyID != "" && s.ArchiveSecretAccessKey != ""
}

// HasKafka reports whether insert events are published to Kafka.
func (s *Snapshot) HasKafka() bool {
	return len(s.KafkaBrokers) > 0
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

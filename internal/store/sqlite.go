package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// SQLite is a Store backed by a local SQLite database file.
type SQLite struct {
	*Hub
	db    *sql.DB
	clock clockwork.Clock

	// insertMu orders commits with their published events.
	insertMu sync.Mutex
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, clock clockwork.Clock, metrics *observability.Metrics) (*SQLite, error) {
	// WAL + busy timeout to avoid "database is locked".
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SQLite{Hub: NewHub(metrics), db: db, clock: clock}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS environmental_reports(
	  id          TEXT    PRIMARY KEY,
	  type        TEXT    NOT NULL CHECK (type <> ''),
	  level       INTEGER NOT NULL CHECK (level BETWEEN 0 AND 100),
	  lat         REAL    NOT NULL CHECK (lat BETWEEN -90 AND 90),
	  lng         REAL    NOT NULL CHECK (lng BETWEEN -180 AND 180),
	  description TEXT,
	  timestamp   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON environmental_reports(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Insert persists o and publishes it after the commit.
func (s *SQLite) Insert(ctx context.Context, o types.Observation) (types.Observation, error) {
	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	o.ID = uuid.NewString()
	o.RecordedAt = s.clock.Now().UTC()

	var description sql.NullString
	if o.Description != "" {
		description = sql.NullString{String: o.Description, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO environmental_reports(id, type, level, lat, lng, description, timestamp) VALUES(?,?,?,?,?,?,?)`,
		o.ID, string(o.Category), o.Level, o.Lat, o.Lng, description, o.RecordedAt.UnixMicro())
	if err != nil {
		s.metrics.ReportsInserted.WithLabelValues("error").Inc()
		return types.Observation{}, networkError("insert report", err)
	}
	s.metrics.ReportsInserted.WithLabelValues("success").Inc()

	s.Publish(o)
	return o, nil
}

// SelectAll returns all observations, newest first.
func (s *SQLite) SelectAll(ctx context.Context) ([]types.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, level, lat, lng, description, timestamp FROM environmental_reports ORDER BY timestamp DESC, rowid DESC`)
	if err != nil {
		return nil, networkError("select reports", err)
	}
	defer rows.Close()

	out := []types.Observation{}
	for rows.Next() {
		var (
			o           types.Observation
			category    string
			description sql.NullString
			micros      int64
		)
		if err := rows.Scan(&o.ID, &category, &o.Level, &o.Lat, &o.Lng, &description, &micros); err != nil {
			return nil, networkError("scan report", err)
		}
		o.Category = types.Category(category)
		o.Description = description.String
		o.RecordedAt = time.UnixMicro(micros).UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, networkError("select reports", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close ends all subscriptions and closes the database.
func (s *SQLite) Close() error {
	s.Hub.Close()
	return s.db.Close()
}

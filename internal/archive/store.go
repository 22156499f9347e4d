package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sokhanlabs/negar-core/internal/config"
	"github.com/sokhanlabs/negar-core/internal/protocol"
)

// Store keeps recognized transcript segments in SQLite so a session can be
// reviewed after the fact. Retention mode "ephemeral" turns the archive into
// a no-op for deployments that must not persist clinical text.
type Store struct {
	db    *sql.DB
	cfg   config.ArchiveConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the archive according to config.
func Open(ctx context.Context, cfg config.ArchiveConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("archive vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("archive prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    text TEXT NOT NULL,
    backend TEXT NOT NULL,
    confidence REAL,
    tier TEXT NOT NULL,
    seconds REAL NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_segments_session_seq ON segments(session_id, sequence);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginSession ensures a session row exists.
func (s *Store) BeginSession(ctx context.Context, sessionID string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, s.clock().UTC())
	return err
}

// AppendSegment stores one recognized segment.
func (s *Store) AppendSegment(ctx context.Context, seg protocol.TranscriptSegment) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	created := seg.Timestamp
	if created.IsZero() {
		created = s.clock().UTC()
	}
	var confidence any
	if seg.Confidence != nil {
		confidence = *seg.Confidence
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments(session_id, sequence, text, backend, confidence, tier, seconds, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.SessionID, seg.Sequence, seg.Text, seg.Backend, confidence, string(seg.Tier), seg.Seconds, created)
	return err
}

// SessionTranscript retrieves up to limit segments for a session in capture
// order.
func (s *Store) SessionTranscript(ctx context.Context, sessionID string, limit int) ([]protocol.TranscriptSegment, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, sequence, text, backend, confidence, tier, seconds, created_at
		 FROM segments WHERE session_id = ? ORDER BY sequence ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []protocol.TranscriptSegment
	for rows.Next() {
		var seg protocol.TranscriptSegment
		var confidence sql.NullFloat64
		var tier string
		var created string
		if err := rows.Scan(&seg.SessionID, &seg.Sequence, &seg.Text, &seg.Backend, &confidence, &tier, &seg.Seconds, &created); err != nil {
			return nil, err
		}
		if confidence.Valid {
			v := confidence.Float64
			seg.Confidence = &v
		}
		seg.Tier = protocol.ConfidenceTier(tier)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			seg.Timestamp = ts
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Prune applies configured retention (called on startup and can be
// scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM segments WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

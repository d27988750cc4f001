package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"visionedge/internal/config"
	"visionedge/internal/inference"
)

// Store manages the packet journal backed by SQLite.
type Store struct {
	db         *sql.DB
	path       string
	storeFrame bool
	maxEntries int
}

// Entry is one journaled packet.
type Entry struct {
	ID              int64                          `json:"id"`
	SessionID       string                         `json:"session_id,omitempty"`
	PublishedAt     time.Time                      `json:"published_at"`
	FirstSeq        uint64                         `json:"first_seq"`
	LastSeq         uint64                         `json:"last_seq"`
	Detections      []inference.SequencedDetection `json:"detections"`
	FrameSize       int                            `json:"frame_size"`
	FrameCapturedAt time.Time                      `json:"frame_captured_at,omitzero"`
	Frame           []byte                         `json:"frame,omitempty"`
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS packets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL DEFAULT '',
	published_at INTEGER NOT NULL,
	first_seq INTEGER NOT NULL,
	last_seq INTEGER NOT NULL,
	detections TEXT NOT NULL,
	frame_size INTEGER NOT NULL DEFAULT 0,
	frame_captured_at INTEGER NOT NULL DEFAULT 0,
	frame BLOB
);
CREATE INDEX IF NOT EXISTS idx_packets_session ON packets(session_id);
`

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

// Open initializes or connects to the journal database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	dbPath := cfg.JournalPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &Store{
		db:         db,
		path:       dbPath,
		storeFrame: cfg.Journal.StoreFrame,
		maxEntries: cfg.Journal.MaxEntries,
	}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert records pkt and prunes rows beyond the configured maximum.
func (s *Store) Insert(ctx context.Context, pkt inference.Packet) (int64, error) {
	if len(pkt.Detections) == 0 {
		return 0, errors.New("journal: packet has no detections")
	}
	detections, err := json.Marshal(pkt.Detections)
	if err != nil {
		return 0, fmt.Errorf("encode detections: %w", err)
	}
	var frame []byte
	if s.storeFrame && len(pkt.Frame) > 0 {
		frame = pkt.Frame
	}
	var capturedAt int64
	if !pkt.FrameCapturedAt.IsZero() {
		capturedAt = pkt.FrameCapturedAt.UnixNano()
	}

	var id int64
	err = retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`INSERT INTO packets (session_id, published_at, first_seq, last_seq, detections, frame_size, frame_captured_at, frame)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			pkt.SessionID,
			pkt.Timestamp.UnixNano(),
			int64(pkt.Detections[0].Seq),
			int64(pkt.Detections[len(pkt.Detections)-1].Seq),
			string(detections),
			len(pkt.Frame),
			capturedAt,
			frame,
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("insert packet: %w", err)
	}
	if s.maxEntries > 0 {
		if _, err := s.Prune(ctx, s.maxEntries); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Prune keeps the newest keep rows and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`DELETE FROM packets WHERE id NOT IN (SELECT id FROM packets ORDER BY id DESC LIMIT ?)`, keep)
		if execErr != nil {
			return execErr
		}
		removed, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return removed, nil
}

// List returns up to limit entries, newest first. Frame bytes are included
// only when withFrame is set.
func (s *Store) List(ctx context.Context, limit int, withFrame bool) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	frameCol := "NULL"
	if withFrame {
		frameCol = "frame"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, published_at, first_seq, last_seq, detections, frame_size, frame_captured_at, `+frameCol+`
		 FROM packets ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			publishedAt int64
			capturedAt  int64
			firstSeq    int64
			lastSeq     int64
			detections  string
			frame       []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &publishedAt, &firstSeq, &lastSeq, &detections, &e.FrameSize, &capturedAt, &frame); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if err := json.Unmarshal([]byte(detections), &e.Detections); err != nil {
			return nil, fmt.Errorf("decode detections for entry %d: %w", e.ID, err)
		}
		e.PublishedAt = time.Unix(0, publishedAt)
		if capturedAt > 0 {
			e.FrameCapturedAt = time.Unix(0, capturedAt)
		}
		e.FirstSeq = uint64(firstSeq)
		e.LastSeq = uint64(lastSeq)
		e.Frame = frame
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of journaled packets.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}

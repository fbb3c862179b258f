package logdb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kolkov/syncreplay/internal/replay/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - segments table with recording index
const currentSchemaVersion = 1

// SQLStore keeps segments in a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// SQLitePath returns the database path a sqlite store uses under dir.
func SQLitePath(dir string) string {
	return filepath.Join(dir, "segments.db")
}

// OpenSQLStore creates or opens the database at path and applies the
// schema. The connection pool is limited to one connection.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("logdb: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("logdb: connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("logdb: %q: %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("logdb: apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("logdb: get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_segments_recording ON segments(recording)`); err != nil {
			return fmt.Errorf("logdb: migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("logdb: set user_version: %w", err)
	}
	return nil
}

// PutSegment implements Store.
func (s *SQLStore) PutSegment(ctx context.Context, seg Segment) error {
	if err := validKey(seg.Recording, seg.Thread); err != nil {
		return err
	}
	frame, err := encodeFrame(seg.Format, seg.Data)
	if err != nil {
		return err
	}
	hdr, err := parseHeader(frame)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO segments (recording, thread, seq, format, raw_size, crc, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (recording, thread, seq) DO UPDATE SET
			format = excluded.format,
			raw_size = excluded.raw_size,
			crc = excluded.crc,
			data = excluded.data,
			created_at = excluded.created_at`,
		seg.Recording, seg.Thread, seg.Seq, int(seg.Format), hdr.size, int64(hdr.crc),
		frame, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("logdb: insert segment: %w", err)
	}
	return nil
}

// Segment implements Store.
func (s *SQLStore) Segment(ctx context.Context, recording, thread string, seq int) (Segment, error) {
	var frame []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM segments WHERE recording = ? AND thread = ? AND seq = ?`,
		recording, thread, seq).Scan(&frame)
	if errors.Is(err, sql.ErrNoRows) {
		return Segment{}, fmt.Errorf("%w: %s/%s/%d", ErrNotFound, recording, thread, seq)
	}
	if err != nil {
		return Segment{}, fmt.Errorf("logdb: query segment: %w", err)
	}
	f, data, err := decodeFrame(frame)
	if err != nil {
		return Segment{}, fmt.Errorf("%s/%s/%d: %w", recording, thread, seq, err)
	}
	return Segment{Recording: recording, Thread: thread, Seq: seq, Format: f, Data: data}, nil
}

// Segments implements Store.
func (s *SQLStore) Segments(ctx context.Context, recording, thread string) ([]SegmentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, format, raw_size FROM segments
		 WHERE recording = ? AND thread = ? ORDER BY seq`,
		recording, thread)
	if err != nil {
		return nil, fmt.Errorf("logdb: list segments: %w", err)
	}
	defer rows.Close()

	var out []SegmentInfo
	for rows.Next() {
		var (
			info   = SegmentInfo{Thread: thread}
			format int
		)
		if err := rows.Scan(&info.Seq, &format, &info.Size); err != nil {
			return nil, fmt.Errorf("logdb: scan segment: %w", err)
		}
		info.Format = record.Format(format)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Threads implements Store.
func (s *SQLStore) Threads(ctx context.Context, recording string) ([]string, error) {
	return s.queryStrings(ctx,
		`SELECT DISTINCT thread FROM segments WHERE recording = ? ORDER BY thread`, recording)
}

// Recordings implements Store.
func (s *SQLStore) Recordings(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT recording FROM segments ORDER BY recording`)
}

func (s *SQLStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("logdb: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("logdb: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

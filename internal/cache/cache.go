package cache

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/blackmichael/bluesky-modlists/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNilProfile is returned by Put when asked to store a nil profile. A nil
// write would serialize as the literal "null" and silently poison the row.
var ErrNilProfile = errors.New("cache: refusing to store null profile")

// Compile-time interface satisfaction check.
var _ domain.ProfileCache = (*Store)(nil)

// Store is a SQLite-backed DID → profile snapshot store. The writer
// connection is limited to a single connection to avoid "database is locked"
// errors; readers pool up to 4.
type Store struct {
	writer *sql.DB
	reader *sql.DB

	life   time.Duration
	expire bool
	now    func() time.Time
}

// Open opens (creating if needed) the cache file and applies the schema.
// life and expire parameterize the freshness predicate used by SkipFetch.
func Open(path string, life time.Duration, expire bool) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)
	return open(dsn, life, expire)
}

func open(dsn string, life time.Duration, expire bool) (*Store, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if _, err := writer.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			did   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`); err != nil {
		writer.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &Store{
		writer: writer,
		reader: reader,
		life:   life,
		expire: expire,
		now:    time.Now,
	}, nil
}

// Close closes both connections. Returns the first error encountered.
func (s *Store) Close() error {
	var firstErr error
	if err := s.reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}
	if err := s.writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}
	return firstErr
}

// Get returns the cached snapshot for a DID, or nil if none is stored. A row
// whose value is the literal "null" is treated as absent.
func (s *Store) Get(ctx context.Context, did string) (*domain.Profile, error) {
	var value string
	err := s.reader.QueryRowContext(ctx,
		`SELECT value FROM profiles WHERE did = ?`, did,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", did, err)
	}

	if value == "null" {
		return nil, nil
	}

	var p domain.Profile
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", did, err)
	}
	return &p, nil
}

// Put upserts a snapshot. The write stamps CachedAt with the current time.
func (s *Store) Put(ctx context.Context, did string, p *domain.Profile) error {
	if p == nil {
		return ErrNilProfile
	}

	p.CachedAt = s.now().UTC().Format(time.RFC3339)

	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", did, err)
	}
	if string(value) == "null" {
		return ErrNilProfile
	}

	_, err = s.writer.ExecContext(ctx, `
		INSERT INTO profiles (did, value) VALUES (?, ?)
		ON CONFLICT (did) DO UPDATE SET value = excluded.value`,
		did, string(value),
	)
	if err != nil {
		return fmt.Errorf("put profile %s: %w", did, err)
	}
	return nil
}

// Delete removes the row for a DID. Deleting an absent row is not an error.
func (s *Store) Delete(ctx context.Context, did string) error {
	if _, err := s.writer.ExecContext(ctx,
		`DELETE FROM profiles WHERE did = ?`, did,
	); err != nil {
		return fmt.Errorf("delete profile %s: %w", did, err)
	}
	return nil
}

// SkipFetch returns the cached snapshot iff it exists and is fresh,
// otherwise nil.
func (s *Store) SkipFetch(ctx context.Context, did string) (*domain.Profile, error) {
	p, err := s.Get(ctx, did)
	if err != nil || p == nil {
		return nil, err
	}
	if !p.Fresh(s.now(), s.life, s.expire) {
		return nil, nil
	}
	return p, nil
}

// ScanDIDs calls fn for every stored DID until fn returns an error, which is
// propagated.
func (s *Store) ScanDIDs(ctx context.Context, fn func(did string) error) error {
	rows, err := s.reader.QueryContext(ctx, `SELECT did FROM profiles`)
	if err != nil {
		return fmt.Errorf("scan dids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return fmt.Errorf("scan did row: %w", err)
		}
		if err := fn(did); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate dids: %w", err)
	}
	return nil
}

// Len returns the number of cached rows.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.reader.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}

// ImportJSONGz upserts every entry of a gzipped JSON snapshot file, a
// one-shot bootstrap aid. A missing file is not an error; malformed rows are
// logged and skipped.
func (s *Store) ImportJSONGz(ctx context.Context, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open cache import: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gunzip cache import: %w", err)
	}
	defer gz.Close()

	var snapshot map[string]json.RawMessage
	if err := json.NewDecoder(gz).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode cache import: %w", err)
	}

	imported := 0
	for did, raw := range snapshot {
		var p domain.Profile
		if err := json.Unmarshal(raw, &p); err != nil || p.DID == "" {
			logger.Warn("skipping malformed cache import row", "did", did)
			continue
		}
		if err := s.Put(ctx, did, &p); err != nil {
			return fmt.Errorf("import profile %s: %w", did, err)
		}
		imported++
	}

	logger.Info("imported cache snapshot", "path", path, "profiles", imported)
	return nil
}

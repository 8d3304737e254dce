// Package sqlite provides the SQLite-backed permission store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/store"
	"github.com/ppiankov/cmdgate/internal/store/sqlite/migrations"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store persists permissions and audit entries in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := MemoryPath
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// each connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetPermission returns the stored grant for identity.
func (s *Store) GetPermission(ctx context.Context, identity string) (*model.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT identity, level, device_name, granted_at, granted_by, expires_at, notes
		   FROM device_permissions WHERE identity = ?`, identity)
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get permission: %w", err)
	}
	return p, nil
}

// UpsertPermission inserts or supersedes the grant for p.Identity.
func (s *Store) UpsertPermission(ctx context.Context, p model.Permission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidatePermission(p); err != nil {
		return err
	}
	var expires sql.NullInt64
	if p.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: toMillis(*p.ExpiresAt), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO device_permissions (identity, level, device_name, granted_at, granted_by, expires_at, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET
		   level = excluded.level,
		   device_name = excluded.device_name,
		   granted_at = excluded.granted_at,
		   granted_by = excluded.granted_by,
		   expires_at = excluded.expires_at,
		   notes = excluded.notes`,
		p.Identity, int(p.Level), p.DeviceName, toMillis(p.GrantedAt), p.GrantedBy, expires, p.Notes,
	)
	if err != nil {
		return fmt.Errorf("upsert permission: %w", err)
	}
	return nil
}

// ListPermissions returns all grants ordered by identity.
func (s *Store) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT identity, level, device_name, granted_at, granted_by, expires_at, notes
		   FROM device_permissions ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var out []model.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// AppendAudit inserts one audit row.
func (s *Store) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	granted := 0
	if e.Granted {
		granted = 1
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO permission_audit_log (identity, method, required_level, granted, reason, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Identity, e.Method, int(e.RequiredLevel), granted, e.Reason, toMillis(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit rows newest first.
func (s *Store) ListAudit(ctx context.Context, f store.AuditFilter) ([]model.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Identity != "" {
		where = append(where, "identity = ?")
		args = append(args, f.Identity)
	}
	if f.Method != "" {
		where = append(where, "method = ?")
		args = append(args, f.Method)
	}
	if f.Granted != nil {
		g := 0
		if *f.Granted {
			g = 1
		}
		where = append(where, "granted = ?")
		args = append(args, g)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, toMillis(f.Since))
	}

	query := `SELECT id, identity, method, required_level, granted, reason, timestamp FROM permission_audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e       model.AuditEntry
			level   int
			granted int
			ts      int64
		)
		if err := rows.Scan(&e.ID, &e.Identity, &e.Method, &level, &granted, &e.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.RequiredLevel = model.Level(level)
		e.Granted = granted == 1
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (*model.Permission, error) {
	var (
		p       model.Permission
		level   int
		granted int64
		expires sql.NullInt64
	)
	if err := row.Scan(&p.Identity, &level, &p.DeviceName, &granted, &p.GrantedBy, &expires, &p.Notes); err != nil {
		return nil, err
	}
	p.Level = model.Level(level)
	p.GrantedAt = fromMillis(granted)
	if expires.Valid {
		t := fromMillis(expires.Int64)
		p.ExpiresAt = &t
	}
	return &p, nil
}

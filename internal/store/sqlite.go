package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"actlog/internal/activity"
)

//go:embed schema.sql
var schemaSQL string

// sqliteSchemaVersion is bumped whenever schema.sql changes incompatibly.
const sqliteSchemaVersion = 1

const (
	sqliteBusyCode          = 5
	sqliteConstraintCode    = 19
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const activityColumns = `id, actor_id, actor_role, action, resource_type, resource_id, resource_name,
	description, metadata, endpoint, ip_address, user_agent, success, error_message, duration_ms, created_at`

// SQLiteStore persists activity in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

var _ Backend = (*SQLiteStore)(nil)

// OpenSQLite initializes or connects to the activity database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != sqliteSchemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (move %s aside to start fresh)",
			ErrSchemaMismatch, version, sqliteSchemaVersion, s.path)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", sqliteSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// InsertBatch writes records in one transaction. With SkipDuplicates the
// statement is INSERT OR IGNORE keyed on the unique id column.
func (s *SQLiteStore) InsertBatch(ctx context.Context, records []activity.Record, opts InsertOptions) (int64, error) {
	ctx = ensureContext(ctx)
	if s.closed.Load() {
		return 0, unavailable("insert batch", ErrClosed)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := validateRecords(records); err != nil {
		return 0, err
	}

	verb := "INSERT"
	if opts.SkipDuplicates {
		verb = "INSERT OR IGNORE"
	}
	query := verb + " INTO activity_logs (" + activityColumns + ") VALUES (" + makePlaceholders(16) + ")"

	var inserted int64
	err := retryOnBusy(ctx, func() error {
		inserted = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range records {
			res, err := stmt.ExecContext(ctx, recordArgs(rec)...)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += n
			}
		}
		return tx.Commit()
	})
	if err != nil {
		if isSQLiteConstraint(err) {
			return 0, &Error{Kind: KindValidation, Op: "insert batch", Err: fmt.Errorf("%w: %v", ErrDuplicate, err)}
		}
		return 0, unavailable("insert batch", err)
	}
	return inserted, nil
}

// List returns records matching filter in insertion order, or newest first
// when filter.Newest is set.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]activity.Record, error) {
	ctx = ensureContext(ctx)
	if s.closed.Load() {
		return nil, unavailable("list activity", ErrClosed)
	}

	var (
		clauses []string
		args    []any
	)
	if filter.ActorID != "" {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.ResourceType != "" {
		clauses = append(clauses, "resource_type = ?")
		args = append(args, string(filter.ResourceType))
	}
	if filter.Success != nil {
		clauses = append(clauses, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}

	query := "SELECT " + activityColumns + " FROM activity_logs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if filter.Newest {
		query += " ORDER BY seq DESC"
	} else {
		query += " ORDER BY seq ASC"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list activity", err)
	}
	defer rows.Close()

	var records []activity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list activity", err)
	}
	return records, nil
}

// Stats aggregates totals and per-action counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{ByAction: make(map[activity.Action]int64)}
	if s.closed.Load() {
		return stats, unavailable("activity stats", ErrClosed)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(1), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), MAX(created_at)
		 FROM activity_logs GROUP BY action`)
	if err != nil {
		return stats, unavailable("activity stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action   string
			count    int64
			failures int64
			latest   sql.NullString
		)
		if err := rows.Scan(&action, &count, &failures, &latest); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByAction[activity.Action(action)] = count
		stats.Total += count
		stats.Failures += failures
		if latest.Valid {
			if ts, err := parseTimeString(latest.String); err == nil && ts.After(stats.LastRecorded) {
				stats.LastRecorded = ts
			}
		}
	}
	return stats, rows.Err()
}

// CheckHealth returns diagnostic information about the activity database.
func (s *SQLiteStore) CheckHealth(ctx context.Context) (Health, error) {
	ctx = ensureContext(ctx)
	health := Health{Backend: "sqlite", Path: s.path, SchemaVersion: sqliteSchemaVersion}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat activity database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("activity database path %q is a directory", s.path)
	}
	health.Exists = true
	if s.closed.Load() {
		health.Error = ErrClosed.Error()
		return health, ErrClosed
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping activity database: %w", err)
	}
	health.Readable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM activity_logs").Scan(&health.Records); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count activity: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityOK = strings.EqualFold(integrity, "ok")
	return health, nil
}

func recordArgs(rec activity.Record) []any {
	var duration any
	if rec.DurationMs != nil {
		duration = *rec.DurationMs
	}
	return []any{
		rec.ID,
		nullableString(rec.ActorID),
		nullableString(rec.ActorRole),
		string(rec.Action),
		string(rec.ResourceType),
		nullableString(rec.ResourceID),
		nullableString(rec.ResourceName),
		nullableString(rec.Description),
		nullableString(rec.Metadata),
		nullableString(rec.Endpoint),
		nullableString(rec.IPAddress),
		nullableString(rec.UserAgent),
		boolToInt(rec.Success),
		nullableString(rec.ErrorMessage),
		duration,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (activity.Record, error) {
	var (
		rec                                     activity.Record
		action, resource, createdAt             string
		actorID, actorRole, resourceID, resName sql.NullString
		description, metadata, endpoint         sql.NullString
		ip, agent, errorMessage                 sql.NullString
		success                                 int
		duration                                sql.NullInt64
	)
	if err := scanner.Scan(
		&rec.ID, &actorID, &actorRole, &action, &resource, &resourceID, &resName,
		&description, &metadata, &endpoint, &ip, &agent, &success, &errorMessage, &duration, &createdAt,
	); err != nil {
		return activity.Record{}, fmt.Errorf("scan activity: %w", err)
	}
	rec.ActorID = actorID.String
	rec.ActorRole = actorRole.String
	rec.Action = activity.Action(action)
	rec.ResourceType = activity.ResourceType(resource)
	rec.ResourceID = resourceID.String
	rec.ResourceName = resName.String
	rec.Description = description.String
	rec.Metadata = metadata.String
	rec.Endpoint = endpoint.String
	rec.IPAddress = ip.String
	rec.UserAgent = agent.String
	rec.Success = success != 0
	rec.ErrorMessage = errorMessage.String
	if duration.Valid {
		d := duration.Int64
		rec.DurationMs = &d
	}
	if ts, err := parseTimeString(createdAt); err == nil {
		rec.CreatedAt = ts
	}
	return rec, nil
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func sqliteCode(err error) (int, bool) {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code(), true
	}
	return 0, false
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok && code&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isSQLiteConstraint(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok && code&0xff == sqliteConstraintCode {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

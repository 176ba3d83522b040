package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists processed calls and scorecard versions.
type Store interface {
	SaveCall(ctx context.Context, rec types.CallRecord) (int64, error)
	ListCalls(ctx context.Context) ([]types.CallSummary, error)
	GetCall(ctx context.Context, id int64) (types.CallRecord, error)
	HasCall(ctx context.Context, filename string) (bool, error)
	CountCalls(ctx context.Context) (int, error)
	DeleteCall(ctx context.Context, id int64) (bool, error)

	SaveScorecard(ctx context.Context, version string, items []types.ScorecardItem) error
	GetScorecard(ctx context.Context, version string) (types.Scorecard, error)
	LatestScorecard(ctx context.Context) (types.Scorecard, error)

	Close() error
}

type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
	log    *logger.Logger
}

// Open connects to driver/dsn and applies the embedded schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var schemaName string
	switch driver {
	case DriverSQLite:
		schemaName = SQLiteSchemaName
	case DriverPostgres:
		schemaName = PostgresSchemaName
	default:
		return nil, fmt.Errorf("unsupported db driver %q: %w", driver, types.ErrPrecondition)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// one writer; the pipeline is serialized anyway
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver, now: time.Now, log: logger.New().WithComponent("store")}
	if err := s.migrate(ctx, schemaName); err != nil {
		db.Close()
		return nil, err
	}
	s.log.WithField("driver", driver).Info("database ready")
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context, schemaName string) error {
	schema, err := LoadSchema(schemaName)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if s.driver == DriverSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			s.log.WithError(err).Warn("could not enable WAL")
		}
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveCall inserts a call and returns its id. Filenames are unique.
func (s *SQLStore) SaveCall(ctx context.Context, rec types.CallRecord) (int64, error) {
	if strings.TrimSpace(rec.Filename) == "" {
		return 0, fmt.Errorf("call filename is required: %w", types.ErrPrecondition)
	}
	now := s.now().UTC()
	if rec.UploadTime.IsZero() {
		rec.UploadTime = now
	}
	grades := []byte("{}")
	if rec.Grades != nil {
		var err error
		if grades, err = json.Marshal(rec.Grades); err != nil {
			return 0, fmt.Errorf("encode grades: %w", err)
		}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO calls (filename, upload_time, transcript, analysis, grades, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING call_id`),
		rec.Filename,
		formatTime(rec.UploadTime),
		rec.Transcript,
		rec.Analysis,
		string(grades),
		formatTime(now),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("call %q already saved: %w", rec.Filename, types.ErrDuplicate)
		}
		return 0, fmt.Errorf("failed to save call: %w", err)
	}
	s.log.WithField("call_id", id).WithField("filename", rec.Filename).Info("call saved")
	return id, nil
}

// ListCalls returns every call, newest first.
func (s *SQLStore) ListCalls(ctx context.Context) ([]types.CallSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, filename, upload_time, grades, created_at
		FROM calls
		ORDER BY created_at DESC, call_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var out []types.CallSummary
	for rows.Next() {
		var (
			c                   types.CallSummary
			upload, grades, crt string
		)
		if err := rows.Scan(&c.ID, &c.Filename, &upload, &grades, &crt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		c.UploadTime = parseTime(upload)
		c.CreatedAt = parseTime(crt)
		if g := decodeGrades(grades); g != nil {
			c.Graded = true
			c.OverallScore = g.OverallScore
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetCall(ctx context.Context, id int64) (types.CallRecord, error) {
	var (
		rec                 types.CallRecord
		upload, grades, crt string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT call_id, filename, upload_time, transcript, analysis, grades, created_at
		FROM calls WHERE call_id = ?`), id).
		Scan(&rec.ID, &rec.Filename, &upload, &rec.Transcript, &rec.Analysis, &grades, &crt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CallRecord{}, fmt.Errorf("call %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.CallRecord{}, fmt.Errorf("failed to get call %d: %w", id, err)
	}
	rec.UploadTime = parseTime(upload)
	rec.CreatedAt = parseTime(crt)
	rec.Grades = decodeGrades(grades)
	return rec, nil
}

// HasCall reports whether a call with filename is already saved.
func (s *SQLStore) HasCall(ctx context.Context, filename string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM calls WHERE filename = ?`), filename).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up call %q: %w", filename, err)
	}
	return n > 0, nil
}

func (s *SQLStore) CountCalls(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}
	return n, nil
}

// DeleteCall reports whether a row was removed.
func (s *SQLStore) DeleteCall(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM calls WHERE call_id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete call %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected deleting call %d: %w", id, err)
	}
	if n > 0 {
		s.log.WithField("call_id", id).Info("call deleted")
	}
	return n > 0, nil
}

// SaveScorecard stores items under version, replacing any previous content.
func (s *SQLStore) SaveScorecard(ctx context.Context, version string, items []types.ScorecardItem) error {
	if strings.TrimSpace(version) == "" {
		return fmt.Errorf("scorecard version is required: %w", types.ErrPrecondition)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode scorecard: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO scorecards (version, criteria, created_at) VALUES (?, ?, ?)
		ON CONFLICT (version) DO UPDATE SET criteria = excluded.criteria, created_at = excluded.created_at`),
		version, string(data), formatTime(s.now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to save scorecard %s: %w", version, err)
	}
	return nil
}

func (s *SQLStore) GetScorecard(ctx context.Context, version string) (types.Scorecard, error) {
	return s.scanScorecard(s.db.QueryRowContext(ctx, s.rebind(`
		SELECT version, criteria, created_at FROM scorecards WHERE version = ?`), version), version)
}

func (s *SQLStore) LatestScorecard(ctx context.Context) (types.Scorecard, error) {
	return s.scanScorecard(s.db.QueryRowContext(ctx, `
		SELECT version, criteria, created_at FROM scorecards
		ORDER BY created_at DESC LIMIT 1`), "latest")
}

func (s *SQLStore) scanScorecard(row *sql.Row, label string) (types.Scorecard, error) {
	var (
		sc            types.Scorecard
		criteria, crt string
	)
	err := row.Scan(&sc.Version, &criteria, &crt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Scorecard{}, fmt.Errorf("scorecard %s: %w", label, types.ErrNotFound)
	}
	if err != nil {
		return types.Scorecard{}, fmt.Errorf("failed to get scorecard %s: %w", label, err)
	}
	if err := json.Unmarshal([]byte(criteria), &sc.Items); err != nil {
		return types.Scorecard{}, fmt.Errorf("decode scorecard %s: %w", label, err)
	}
	sc.CreatedAt = parseTime(crt)
	return sc, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// decodeGrades returns nil for calls stored without a grading result.
func decodeGrades(s string) *types.GradingResult {
	if s == "" || s == "{}" || s == "null" {
		return nil
	}
	var g types.GradingResult
	if err := json.Unmarshal([]byte(s), &g); err != nil || len(g.Grades) == 0 {
		return nil
	}
	return &g
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:         "localhost",
		Port:         5432,
		Database:     "infergate",
		SSLMode:      "disable",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres config is nil")
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the decision audit table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS decision_audit (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			request_id TEXT,
			client_ip TEXT,
			kind TEXT,
			task_type TEXT,
			stage TEXT,
			model TEXT,
			stream BOOLEAN NOT NULL DEFAULT FALSE,
			provider TEXT NOT NULL,
			fallback TEXT,
			confidence DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			reason TEXT,
			scores JSONB,
			served TEXT,
			fell_back BOOLEAN NOT NULL DEFAULT FALSE,
			latency_ms BIGINT,
			success BOOLEAN,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_decision_audit_timestamp ON decision_audit (timestamp);
		CREATE INDEX IF NOT EXISTS idx_decision_audit_provider ON decision_audit (provider);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PoolStats exposes connection pool statistics for metrics publishing.
func (s *PostgresStore) PoolStats() sql.DBStats {
	return s.db.Stats()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateRecord persists a new decision record.
func (s *PostgresStore) CreateRecord(rec *Record) error {
	if rec.ID == "" {
		rec.ID = generateID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	scoresJSON, _ := json.Marshal(rec.Scores)

	query := `
		INSERT INTO decision_audit (
			id, timestamp, request_id, client_ip, kind, task_type, stage,
			model, stream, provider, fallback, confidence, source, reason,
			scores, served, fell_back, latency_ms, success, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := s.db.ExecContext(context.Background(), query,
		rec.ID, rec.Timestamp, rec.RequestID, rec.ClientIP, rec.Kind, rec.TaskType, rec.Stage,
		rec.Model, rec.Stream, rec.Provider, rec.Fallback, rec.Confidence, rec.Source, rec.Reason,
		string(scoresJSON), rec.Served, rec.FellBack, rec.LatencyMs, rec.Success, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert decision record: %w", err)
	}

	return nil
}

// GetRecord retrieves a single record by ID.
func (s *PostgresStore) GetRecord(id string) (*Record, error) {
	query := `
		SELECT id, timestamp, request_id, client_ip, kind, task_type, stage,
		       model, stream, provider, fallback, confidence, source, reason,
		       scores, served, fell_back, latency_ms, success, error
		FROM decision_audit
		WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRowContext(context.Background(), query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query decision record: %w", err)
	}
	return rec, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var requestID, clientIP, kind, taskType, stage, model sql.NullString
	var fallback, reason, scores, served, errorMsg sql.NullString
	var latencyMs sql.NullInt64
	var success sql.NullBool

	err := row.Scan(
		&rec.ID, &rec.Timestamp, &requestID, &clientIP, &kind, &taskType, &stage,
		&model, &rec.Stream, &rec.Provider, &fallback, &rec.Confidence, &rec.Source, &reason,
		&scores, &served, &rec.FellBack, &latencyMs, &success, &errorMsg,
	)
	if err != nil {
		return nil, err
	}

	rec.RequestID = requestID.String
	rec.ClientIP = clientIP.String
	rec.Kind = kind.String
	rec.TaskType = taskType.String
	rec.Stage = stage.String
	rec.Model = model.String
	rec.Fallback = fallback.String
	rec.Reason = reason.String
	rec.Served = served.String
	rec.Error = errorMsg.String
	rec.LatencyMs = latencyMs.Int64
	if success.Valid {
		rec.Success = &success.Bool
	}

	if scores.Valid && scores.String != "" && scores.String != "null" {
		_ = json.Unmarshal([]byte(scores.String), &rec.Scores)
	}

	return &rec, nil
}

// buildWhere translates a filter into a WHERE clause with numbered args.
func buildWhere(filter Filter) (string, []any) {
	where := "WHERE 1=1"
	args := []any{}
	argIdx := 1

	add := func(clause string, value any) {
		where += fmt.Sprintf(" AND %s = $%d", clause, argIdx)
		args = append(args, value)
		argIdx++
	}

	if !filter.StartTime.IsZero() {
		where += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		where += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}
	if filter.Provider != nil {
		add("provider", *filter.Provider)
	}
	if filter.Source != nil {
		add("source", *filter.Source)
	}
	if filter.TaskType != nil {
		add("task_type", *filter.TaskType)
	}
	if filter.Stage != nil {
		add("stage", *filter.Stage)
	}
	if filter.Model != nil {
		add("model", *filter.Model)
	}
	if filter.FellBack != nil {
		add("fell_back", *filter.FellBack)
	}
	if filter.Success != nil {
		add("success", *filter.Success)
	}

	return where, args
}

// ListRecords returns records matching the filter, newest first.
func (s *PostgresStore) ListRecords(filter Filter) ([]*Record, int64, error) {
	where, args := buildWhere(filter)

	var total int64
	countQuery := "SELECT COUNT(*) FROM decision_audit " + where
	if err := s.db.QueryRowContext(context.Background(), countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count decision records: %w", err)
	}

	query := `
		SELECT id, timestamp, request_id, client_ip, kind, task_type, stage,
		       model, stream, provider, fallback, confidence, source, reason,
		       scores, served, fell_back, latency_ms, success, error
		FROM decision_audit ` + where + " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query decision records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan decision record: %w", err)
		}
		records = append(records, rec)
	}

	return records, total, rows.Err()
}

// GetStats returns aggregated statistics over matching records.
func (s *PostgresStore) GetStats(filter Filter) (*Stats, error) {
	where, args := buildWhere(filter)

	stats := &Stats{
		ProviderCounts: make(map[string]int64),
		SourceCounts:   make(map[string]int64),
	}

	basicQuery := fmt.Sprintf(`
		SELECT
			COUNT(*) as total_decisions,
			COUNT(*) FILTER (WHERE success = true) as success_count,
			COUNT(*) FILTER (WHERE success = false) as failure_count,
			COUNT(*) FILTER (WHERE fell_back = true) as fallback_count,
			COUNT(DISTINCT model) FILTER (WHERE model <> '') as unique_models
		FROM decision_audit %s`, where)

	err := s.db.QueryRowContext(context.Background(), basicQuery, args...).Scan(
		&stats.TotalDecisions, &stats.SuccessCount, &stats.FailureCount,
		&stats.FallbackCount, &stats.UniqueModels,
	)
	if err != nil {
		return nil, fmt.Errorf("query basic stats: %w", err)
	}

	providerQuery := fmt.Sprintf(`
		SELECT provider, COUNT(*) as count
		FROM decision_audit %s
		GROUP BY provider`, where)

	providerRows, err := s.db.QueryContext(context.Background(), providerQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query provider counts: %w", err)
	}
	defer func() { _ = providerRows.Close() }()

	for providerRows.Next() {
		var provider string
		var count int64
		if scanErr := providerRows.Scan(&provider, &count); scanErr != nil {
			return nil, fmt.Errorf("scan provider count: %w", scanErr)
		}
		stats.ProviderCounts[provider] = count
	}
	if err := providerRows.Err(); err != nil {
		return nil, err
	}

	sourceQuery := fmt.Sprintf(`
		SELECT source, COUNT(*) as count
		FROM decision_audit %s
		GROUP BY source`, where)

	sourceRows, err := s.db.QueryContext(context.Background(), sourceQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query source counts: %w", err)
	}
	defer func() { _ = sourceRows.Close() }()

	for sourceRows.Next() {
		var source string
		var count int64
		if scanErr := sourceRows.Scan(&source, &count); scanErr != nil {
			return nil, fmt.Errorf("scan source count: %w", scanErr)
		}
		stats.SourceCounts[source] = count
	}

	return stats, sourceRows.Err()
}

// DeleteRecords deletes records older than the specified time.
func (s *PostgresStore) DeleteRecords(olderThan time.Time) (int64, error) {
	query := `DELETE FROM decision_audit WHERE timestamp < $1`
	result, err := s.db.ExecContext(context.Background(), query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete decision records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return deleted, nil
}

// Ensure PostgresStore implements Store
var _ Store = (*PostgresStore)(nil)

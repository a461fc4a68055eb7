// Package postgres provides durable PostgreSQL storage for audit records.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/toorpia/toorpia-mcp-server/pkg/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryLimit    = 100
	maxQueryLimit        = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// auditColumns lists columns in insert and select order.
var auditColumns = []string{
	"audit_id", "timestamp", "user_id", "tenant", "scopes", "tool",
	"input_hash", "preset_id", "session_id", "output_uri",
	"success", "error_message", "duration_ms",
}

// Store implements audit.Logger backed by PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the store.
type Config struct {
	RetentionDays int
}

// New creates a store over an open database handle.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// Log appends one audit record.
func (s *Store) Log(ctx context.Context, rec audit.Record) error {
	query, args, err := psq.Insert("audit_records").
		Columns(auditColumns...).
		Values(
			rec.AuditID,
			rec.Timestamp,
			rec.User,
			rec.Tenant,
			pq.Array(rec.Scopes),
			rec.Tool,
			rec.InputHash,
			rec.PresetID,
			rec.SessionID,
			rec.OutputURI,
			rec.Success,
			rec.ErrorMessage,
			rec.DurationMS,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// Query returns records matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Record, error) {
	qb := psq.Select(auditColumns...).
		From("audit_records").
		OrderBy("timestamp DESC")

	qb = applyFilter(qb, filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	qb = qb.Limit(uint64(limit))
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]audit.Record, 0, limit)
	for rows.Next() {
		var rec audit.Record
		var scopes pq.StringArray
		if err := rows.Scan(
			&rec.AuditID,
			&rec.Timestamp,
			&rec.User,
			&rec.Tenant,
			&scopes,
			&rec.Tool,
			&rec.InputHash,
			&rec.PresetID,
			&rec.SessionID,
			&rec.OutputURI,
			&rec.Success,
			&rec.ErrorMessage,
			&rec.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		rec.Scopes = scopes
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}
	return records, nil
}

// applyFilter adds filter conditions to a SELECT builder.
func applyFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.User != "" {
		qb = qb.Where(sq.Eq{"user_id": filter.User})
	}
	if filter.Tenant != "" {
		qb = qb.Where(sq.Eq{"tenant": filter.Tenant})
	}
	if filter.Tool != "" {
		qb = qb.Where(sq.Eq{"tool": filter.Tool})
	}
	if filter.SessionID != "" {
		qb = qb.Where(sq.Eq{"session_id": filter.SessionID})
	}
	if filter.Success != nil {
		qb = qb.Where(sq.Eq{"success": *filter.Success})
	}
	return qb
}

// purgeExpired deletes records older than the retention period. Purging
// expired records is the retention policy, not a mutation of live entries.
func (s *Store) purgeExpired(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	query, args, err := psq.Delete("audit_records").
		Where(sq.Lt{"timestamp": cutoff}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building purge: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("purging audit records: %w", err)
	}
	return nil
}

// StartRetentionLoop purges expired records on a recurring timer until
// Close is called.
func (s *Store) StartRetentionLoop(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.purgeExpired(ctx); err != nil {
					slog.Warn("audit: retention purge failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the retention loop. The database handle is owned by the caller.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ audit.Logger = (*Store)(nil)

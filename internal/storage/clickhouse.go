package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/trail-importer/internal/config"
	"github.com/trail-importer/internal/models"
)

// ClickHouseDB wraps the ClickHouse connection used for rejection analytics
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec executes a query without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// RejectionLog appends rejected records to the import_rejections table
type RejectionLog struct {
	db *ClickHouseDB
}

// NewRejectionLog creates a rejection log on db
func NewRejectionLog(db *ClickHouseDB) *RejectionLog {
	return &RejectionLog{db: db}
}

// Write appends events in a single batch. An empty slice is a no-op.
func (l *RejectionLog) Write(ctx context.Context, events []models.RejectionEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := l.db.conn.PrepareBatch(ctx, `INSERT INTO import_rejections (
		job_id, source, source_id, name, reason, message, occurred_at
	)`)
	if err != nil {
		return fmt.Errorf("failed to prepare rejection batch: %w", err)
	}

	for _, ev := range events {
		if err := batch.Append(
			ev.JobID,
			string(ev.Source),
			ev.SourceID,
			ev.Name,
			string(ev.Reason),
			ev.Message,
			ev.OccurredAt,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append rejection: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send rejection batch: %w", err)
	}
	return nil
}

// CountByReason returns rejection totals per reason for one job
func (l *RejectionLog) CountByReason(ctx context.Context, jobID string) (map[string]uint64, error) {
	rows, err := l.db.conn.Query(ctx,
		`SELECT reason, count() FROM import_rejections WHERE job_id = ? GROUP BY reason`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejections: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var (
			reason string
			n      uint64
		)
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("failed to scan rejection count: %w", err)
		}
		counts[reason] = n
	}
	return counts, rows.Err()
}

package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Config configures the archive database connection.
type Config struct {
	// Driver selects the database: sqlite or postgres.
	Driver string

	// DSN is the connection string; for sqlite, a file path or
	// ":memory:".
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds every statement issued by the store.
	QueryTimeout time.Duration
}

// DefaultConfig returns the sqlite defaults.
func DefaultConfig() *Config {
	return &Config{
		Driver:          "sqlite",
		DSN:             "archive.db",
		MaxOpenConns:    1, // sqlite serializes writers
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		QueryTimeout:    30 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDriver, c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("archive driver %s requires a dsn", c.Driver)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("archive query timeout must be positive, have %v", c.QueryTimeout)
	}
	return nil
}

// Store implements Archiver over database/sql. The (account, operation)
// primary key makes Append idempotent: replayed rows replace their
// earlier version.
type Store struct {
	db  *sql.DB
	cfg *Config
	log *zap.Logger

	insertStmt string
	selectStmt string
}

const (
	schemaStmt = `CREATE TABLE IF NOT EXISTS operations (
		account_id   BIGINT NOT NULL,
		operation_id BIGINT NOT NULL,
		type         VARCHAR(32) NOT NULL,
		status       VARCHAR(16) NOT NULL,
		amount       BIGINT NOT NULL,
		currency     VARCHAR(16) NOT NULL,
		date_time    BIGINT NOT NULL,
		data         TEXT,
		PRIMARY KEY (account_id, operation_id)
	)`

	insertSQLite = `INSERT INTO operations
		(account_id, operation_id, type, status, amount, currency, date_time, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, operation_id) DO UPDATE SET
		type = excluded.type, status = excluded.status,
		amount = excluded.amount, currency = excluded.currency,
		date_time = excluded.date_time, data = excluded.data`

	insertPostgres = `INSERT INTO operations
		(account_id, operation_id, type, status, amount, currency, date_time, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, operation_id) DO UPDATE SET
		type = EXCLUDED.type, status = EXCLUDED.status,
		amount = EXCLUDED.amount, currency = EXCLUDED.currency,
		date_time = EXCLUDED.date_time, data = EXCLUDED.data`

	selectSQLite = `SELECT account_id, operation_id, type, status, amount, currency, date_time, data
		FROM operations WHERE account_id = ?
		ORDER BY date_time DESC, operation_id DESC LIMIT ?`

	selectPostgres = `SELECT account_id, operation_id, type, status, amount, currency, date_time, data
		FROM operations WHERE account_id = $1
		ORDER BY date_time DESC, operation_id DESC LIMIT $2`
)

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_operations_account_time ON operations (account_id, date_time)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_time ON operations (date_time)`,
}

// Open connects to the archive database and creates the schema.
func Open(ctx context.Context, cfg *Config, log *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log}
	switch cfg.Driver {
	case "postgres":
		s.insertStmt = insertPostgres
		s.selectStmt = selectPostgres
	default:
		s.insertStmt = insertSQLite
		s.selectStmt = selectSQLite
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	log.Info("operations archive opened", zap.String("driver", cfg.Driver))
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaStmt); err != nil {
		return err
	}
	for _, stmt := range schemaIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append persists a batch of records inside one transaction.
func (s *Store) Append(ctx context.Context, records []Record) error {
	if s.db == nil {
		return ErrClosed
	}
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.insertStmt)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.AccountID, rec.OperationID, rec.Type, rec.Status,
			rec.Amount, rec.Currency, rec.DateTime.UTC().UnixNano(), rec.Data)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert archive record %d/%d: %w",
				rec.AccountID, rec.OperationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive batch: %w", err)
	}
	return nil
}

// AccountOperations returns the newest records for one account, most
// recent first.
func (s *Store) AccountOperations(ctx context.Context, accountID int64, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.selectStmt, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var nanos int64
		var data sql.NullString
		err := rows.Scan(&rec.AccountID, &rec.OperationID, &rec.Type,
			&rec.Status, &rec.Amount, &rec.Currency, &nanos, &data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive record: %w", err)
		}
		rec.DateTime = time.Unix(0, nanos).UTC()
		rec.Data = data.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archive rows: %w", err)
	}
	return records, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

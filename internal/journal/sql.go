package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQL keeps the journal in a MySQL or Postgres table.
type SQL struct {
	DB     *sql.DB
	driver string

	once sync.Once
	err  error
}

func NewSQL(db *sql.DB, driver string) *SQL {
	return &SQL{DB: db, driver: driver}
}

// Open connects to dsn with driver ("mysql" or "pgx").
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	if driver != "mysql" && driver != "pgx" {
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQL(db, driver), nil
}

func (s *SQL) Close() error { return s.DB.Close() }

func (s *SQL) ensureSchema(ctx context.Context) error {
	s.once.Do(func() {
		ddl := `
CREATE TABLE IF NOT EXISTS iap_notifications (
    notification_id VARCHAR(255) NOT NULL PRIMARY KEY,
    source VARCHAR(32) NOT NULL,
    notification_type VARCHAR(64) DEFAULT '',
    transaction_id VARCHAR(255) DEFAULT '',
    original_transaction_id VARCHAR(255) DEFAULT '',
    product_id VARCHAR(255) DEFAULT '',
    environment VARCHAR(32) DEFAULT '',
    raw_payload LONGTEXT,
    received_at TIMESTAMP NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`
		if s.driver == "pgx" {
			ddl = strings.Replace(ddl, "LONGTEXT", "TEXT", 1)
			ddl = strings.Replace(ddl, " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", "", 1)
		}
		if _, s.err = s.DB.ExecContext(ctx, ddl); s.err != nil {
			return
		}
		_, s.err = s.DB.ExecContext(ctx, s.bind(`CREATE INDEX idx_iap_notifications_original ON iap_notifications (original_transaction_id)`))
		if s.err != nil && isDuplicateIndex(s.err) {
			s.err = nil
		}
	})
	return s.err
}

func isDuplicateIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key name") || strings.Contains(msg, "already exists")
}

// bind rewrites ? placeholders for Postgres.
func (s *SQL) bind(q string) string {
	if s.driver != "pgx" {
		return q
	}
	for i := 1; strings.Contains(q, "?"); i++ {
		q = strings.Replace(q, "?", fmt.Sprintf("$%d", i), 1)
	}
	return q
}

// Record inserts e. Duplicates are ignored and reported as not new.
func (s *SQL) Record(ctx context.Context, e Entry) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	if e.NotificationID == "" {
		return false, errors.New("journal: notification id is required")
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	q := `
INSERT INTO iap_notifications (notification_id, source, notification_type, transaction_id, original_transaction_id, product_id, environment, raw_payload, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE notification_id = notification_id
`
	if s.driver == "pgx" {
		q = strings.Replace(q, "ON DUPLICATE KEY UPDATE notification_id = notification_id", "ON CONFLICT (notification_id) DO NOTHING", 1)
	}
	res, err := s.DB.ExecContext(ctx, s.bind(q),
		e.NotificationID, e.Source, e.Type, e.TransactionID, e.OriginalID, e.ProductID, e.Environment, e.Raw, e.ReceivedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQL) Latest(ctx context.Context, originalID string) (Entry, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Entry{}, err
	}
	row := s.DB.QueryRowContext(ctx, s.bind(`
SELECT notification_id, source, notification_type, transaction_id, original_transaction_id, product_id, environment, raw_payload, received_at
FROM iap_notifications WHERE original_transaction_id = ? ORDER BY received_at DESC LIMIT 1`), originalID)

	var e Entry
	if err := row.Scan(&e.NotificationID, &e.Source, &e.Type, &e.TransactionID, &e.OriginalID, &e.ProductID, &e.Environment, &e.Raw, &e.ReceivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

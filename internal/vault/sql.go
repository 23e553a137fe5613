package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type SQLConfig struct {
	Driver string `yaml:"driver" env:"IAP_SQL_DRIVER"`
	DSN    string `yaml:"dsn" env:"IAP_SQL_DSN"`
	Table  string `yaml:"table" env:"IAP_SQL_TABLE"`
}

// SQL stores items in a single key/blob table. Driver is either "mysql" or
// "pgx"; the table is created on first use.
type SQL struct {
	DB     *sql.DB
	driver string
	table  string

	once sync.Once
	err  error
}

func NewSQL(db *sql.DB, driver, table string) (*SQL, error) {
	if driver != "mysql" && driver != "pgx" {
		return nil, fmt.Errorf("vault: unsupported sql driver %q", driver)
	}
	if table == "" {
		table = "entitlement_vault"
	}
	return &SQL{DB: db, driver: driver, table: table}, nil
}

// OpenSQL opens the database and checks the connection.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQL, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxIdleConns(5)
	s, err := NewSQL(db, cfg.Driver, cfg.Table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) ensureSchema(ctx context.Context) error {
	s.once.Do(func() {
		var ddl string
		if s.driver == "mysql" {
			ddl = `
CREATE TABLE IF NOT EXISTS ` + s.table + ` (
    item_key VARCHAR(255) NOT NULL,
    data LONGBLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    PRIMARY KEY (item_key)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`
		} else {
			ddl = `
CREATE TABLE IF NOT EXISTS ` + s.table + ` (
    item_key TEXT PRIMARY KEY,
    data BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
		}
		_, s.err = s.DB.ExecContext(ctx, ddl)
	})
	return s.err
}

func (s *SQL) Load(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var data []byte
	err := s.DB.QueryRowContext(ctx, s.bind(`SELECT data FROM `+s.table+` WHERE item_key = ?`), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql load %s: %w", key, err)
	}
	return data, nil
}

func (s *SQL) Save(ctx context.Context, key string, data []byte) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	var q string
	if s.driver == "mysql" {
		q = `
INSERT INTO ` + s.table + ` (item_key, data) VALUES (?, ?)
ON DUPLICATE KEY UPDATE data = VALUES(data)
`
	} else {
		q = `
INSERT INTO ` + s.table + ` (item_key, data) VALUES ($1, $2)
ON CONFLICT (item_key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`
	}
	if _, err := s.DB.ExecContext(ctx, q, key, data); err != nil {
		return fmt.Errorf("sql save %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, s.bind(`DELETE FROM `+s.table+` WHERE item_key = ?`), key); err != nil {
		return fmt.Errorf("sql delete %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Close() error { return s.DB.Close() }

// bind rewrites the single placeholder for postgres.
func (s *SQL) bind(q string) string {
	if s.driver == "pgx" {
		return strings.Replace(q, "?", "$1", 1)
	}
	return q
}

// Package mysql implements a MySQL result storage backend.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/replyq/replyq/storage"
)

// Schema contains the MySQL schema for the result storage.
//
//go:embed schema.sql
var Schema string

// MySQLStorage implements a storage.Store using MySQL.
type MySQLStorage struct {
	db     *sql.DB
	signer *storage.RefSigner
}

type config struct {
	driver string
	dsn    string
	db     *sql.DB
	secret []byte
}

// Option allows configuring a MySQLStorage.
type Option func(*config)

// WithDSN sets the storage MySQL data source name.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithDriver sets a custom MySQL driver for the storage.
//
// Default driver is "mysql".
// Value is ignored if WithDB is used.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithDB sets a custom MySQL *sql.DB to the storage.
//
// If set, driver passed via WithDriver is ignored.
func WithDB(db *sql.DB) Option {
	return func(c *config) {
		c.db = db
	}
}

// WithRefSecret sets the secret used to sign scoped read references.
func WithRefSecret(secret []byte) Option {
	return func(c *config) {
		c.secret = secret
	}
}

// New creates and returns a new MySQLStorage.
func New(opts ...Option) (*MySQLStorage, error) {
	cfg := &config{driver: "mysql"}
	for _, opt := range opts {
		opt(cfg)
	}
	var err error
	if cfg.db == nil {
		cfg.db, err = sql.Open(cfg.driver, cfg.dsn)
		if err != nil {
			return nil, err
		}
	}
	if err = cfg.db.Ping(); err != nil {
		return nil, err
	}
	return &MySQLStorage{db: cfg.db, signer: storage.NewRefSigner(cfg.secret)}, nil
}

// Exists reports whether an artifact has been written for id.
func (s *MySQLStorage) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, storage.ErrMissingID
	}
	var one int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM operation_results WHERE operation_id = ?;`,
		id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Write persists the artifact under id in MySQL.
// The upsert makes same-key writes idempotent.
func (s *MySQLStorage) Write(ctx context.Context, id string, artifact []byte, kind storage.Kind) error {
	if id == "" {
		return storage.ErrMissingID
	}
	_, err := s.db.ExecContext(
		ctx, `
INSERT INTO operation_results
    (operation_id, artifact, kind)
VALUES
    (?, ?, ?)
ON DUPLICATE KEY
UPDATE
    artifact = VALUES(artifact),
    kind = VALUES(kind);`,
		id,
		artifact,
		int(kind),
	)
	if err != nil {
		return fmt.Errorf("writing result for %s: %w", id, err)
	}
	return nil
}

// Read returns the artifact and its kind for id from MySQL.
func (s *MySQLStorage) Read(ctx context.Context, id string) ([]byte, storage.Kind, error) {
	if id == "" {
		return nil, 0, storage.ErrMissingID
	}
	var artifact []byte
	var rawKind int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT artifact, kind FROM operation_results WHERE operation_id = ?;`,
		id,
	).Scan(&artifact, &rawKind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	} else if err != nil {
		return nil, 0, err
	}
	kind := storage.Kind(rawKind)
	if kind != storage.Success && kind != storage.Failure {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrInvalidKind, id)
	}
	return artifact, kind, nil
}

// ScopedReadReference issues a signed expiring read reference for id.
func (s *MySQLStorage) ScopedReadReference(ctx context.Context, id string, ttl time.Duration) (string, error) {
	found, err := s.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return s.signer.Issue(id, ttl), nil
}

// ReadScoped verifies ref and reads the artifact it grants access to.
func (s *MySQLStorage) ReadScoped(ctx context.Context, ref string) ([]byte, storage.Kind, error) {
	id, err := s.signer.Verify(ref)
	if err != nil {
		return nil, 0, err
	}
	return s.Read(ctx, id)
}

package mysql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/VadimVDM/VisAPI-sub006/store"
)

// Ensure Store implements the records contract at compile time.
var _ store.Records = (*Store)(nil)

// Store is a MySQL implementation of store.Records using gorm.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New opens a MySQL connection from a DSN such as
// "user:pass@tcp(localhost:3306)/visapi?parseTime=true".
func New(dsn string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("visapi/mysql: open: %w", err)
	}
	return NewFromDB(db, opts...), nil
}

// NewFromDB wraps an existing gorm handle. It should be opened with
// TranslateError so duplicate keys map onto gorm.ErrDuplicatedKey.
func NewFromDB(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or alters the order and message tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&orderModel{}, &messageModel{}); err != nil {
		return fmt.Errorf("visapi/mysql: migrate: %w", err)
	}
	s.logger.Info("mysql schema migrated")
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("visapi/mysql: handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("visapi/mysql: handle: %w", err)
	}
	return sqlDB.Close()
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

func isNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }

func isDuplicateKey(err error) bool { return errors.Is(err, gorm.ErrDuplicatedKey) }

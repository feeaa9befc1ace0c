package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides manual-SQL data access for uploads, customers and report queries.
// Repositories that need associations use Gorm on the same pool.
type Store struct {
	DB     *DB
	Tokens *TokenCodec
	log    *logrus.Logger
}

// Option configures Store behavior.
type Option func(*Store)

// WithDataKey enables AES-GCM encoding of stored Notion tokens.
func WithDataKey(key string) Option {
	return func(s *Store) {
		codec, err := NewTokenCodec(key)
		if err == nil {
			s.Tokens = codec
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

func New(db *DB, opts ...Option) *Store {
	s := &Store{DB: db, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	if s.Tokens == nil {
		s.Tokens, _ = NewTokenCodec("")
	}
	return s
}

func (s *Store) ensureDB() (*sqlx.DB, error) {
	if s == nil || s.DB == nil || s.DB.DB == nil {
		return nil, fmt.Errorf("nil db")
	}
	return s.DB.DB, nil
}

// Gorm opens a gorm session over the store's connection pool.
func (s *Store) Gorm() (*gorm.DB, error) {
	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if s.DB.IsPostgres() {
		return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), cfg)
	}
	return gorm.Open(&sqlite.Dialector{DriverName: DriverSQLite, Conn: db.DB}, cfg)
}

package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DebasishTripathy13/CA/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	DB *gorm.DB

	Decisions *DecisionRepository
	Requests  *RequestRepository
	Audit     *AuditRepository
}

// NewStore opens Postgres. With no DSN the store is returned in no-db mode
// (DB == nil) and callers fall back to in-memory persistence.
func NewStore(cfg config.Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PostgresDSN == "" {
		log.Warn("postgres_dsn_unset", "mode", "no-db")
		return &Store{}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return Open(gdb), nil
}

// Open wraps an existing connection.
func Open(gdb *gorm.DB) *Store {
	return &Store{
		DB:        gdb,
		Decisions: NewDecisionRepository(gdb),
		Requests:  NewRequestRepository(gdb),
		Audit:     NewAuditRepository(gdb),
	}
}

func (s *Store) Enabled() bool {
	return s != nil && s.DB != nil
}

func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return errDBUnavailable
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DebasishTripathy13/CA/internal/config"
	"github.com/DebasishTripathy13/CA/internal/domain"
	"github.com/DebasishTripathy13/CA/internal/infra/adcs"
	"github.com/DebasishTripathy13/CA/internal/infra/db"
	httpinfra "github.com/DebasishTripathy13/CA/internal/infra/http"
	"github.com/DebasishTripathy13/CA/internal/infra/localca"
	"github.com/DebasishTripathy13/CA/internal/infra/memstore"
	"github.com/DebasishTripathy13/CA/internal/infra/metrics"
	"github.com/DebasishTripathy13/CA/internal/infra/pki"
	"github.com/DebasishTripathy13/CA/internal/infra/policyopa"
	"github.com/DebasishTripathy13/CA/internal/infra/ratelimit"
	"github.com/DebasishTripathy13/CA/internal/infra/s3store"
	"github.com/DebasishTripathy13/CA/internal/usecase"
)

type repositories struct {
	decisions usecase.DecisionRepository
	requests  usecase.RequestRepository
	audit     usecase.AuditRepository
	database  httpinfra.Pinger
}

func serve(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.NewStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if store.Enabled() && cfg.AutoMigrate {
		applied, err := store.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations_applied", "count", len(applied), "names", applied)
	}
	repos := selectRepositories(store)

	storage, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	ca, err := newCA(cfg)
	if err != nil {
		return err
	}
	policy, err := policyopa.NewEngine(ctx, cfg.RequestPolicyPath)
	if err != nil {
		return fmt.Errorf("load request policy: %w", err)
	}
	logger.Info("request_policy_loaded", "hash", policy.PolicyHash(), "path", cfg.RequestPolicyPath)

	limiter, err := newRateLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	reg := metrics.New()

	audit := usecase.NewAuditEmitter(repos.audit, nil)
	decisions := usecase.NewDecisionService(repos.decisions, audit, logger)
	decisions.Metrics = reg
	certs := usecase.NewCertificateService(usecase.CertificateDeps{
		Requests:   repos.requests,
		Decisions:  repos.decisions,
		Audit:      audit,
		Storage:    storage,
		CA:         ca,
		Keys:       pki.Generator{},
		CSRs:       pki.CSRValidator{},
		Policy:     policy,
		Metrics:    reg,
		Logger:     logger,
		PresignTTL: cfg.PresignTTL(),
	})

	srv := httpinfra.NewServerWithDeps(cfg, httpinfra.ServerDeps{
		Decisions:    decisions,
		Certificates: certs,
		Audit:        audit,
		CA:           ca,
		Metrics:      reg,
		Database:     repos.database,
		RateLimiter:  limiter,
		Logger:       logger,
	})
	logger.Info("server_starting",
		"addr", cfg.HTTPAddr,
		"storage", cfg.StorageBackend,
		"ca", cfg.CABackend,
		"db", store.Enabled(),
	)
	return srv.Run(ctx)
}

func migrate(cfg config.Config, logger *slog.Logger) error {
	store, err := db.NewStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if !store.Enabled() {
		return errors.New("POSTGRES_DSN is required to migrate")
	}
	applied, err := store.Migrate(context.Background())
	if err != nil {
		return err
	}
	logger.Info("migrations_applied", "count", len(applied), "names", applied)
	return nil
}

// selectRepositories falls back to the in-memory store in no-db mode.
func selectRepositories(store *db.Store) repositories {
	if store.Enabled() {
		return repositories{
			decisions: store.Decisions,
			requests:  store.Requests,
			audit:     store.Audit,
			database:  store,
		}
	}
	mem := memstore.New()
	return repositories{decisions: mem, requests: mem, audit: mem}
}

func newStorage(ctx context.Context, cfg config.Config) (domain.Storage, error) {
	if cfg.StorageBackend == config.StorageS3 {
		return s3store.New(ctx, s3store.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	}
	return memstore.NewBlobStore(), nil
}

func newCA(cfg config.Config) (domain.CertificateAuthority, error) {
	if cfg.CABackend == config.CAADCS {
		return adcs.New(adcs.Config{
			Host:     cfg.ADCSHost,
			CAName:   cfg.ADCSCAName,
			Username: cfg.ADCSUsername,
			Password: cfg.ADCSPassword,
			Template: cfg.ADCSTemplate,
			Timeout:  cfg.ADCSTimeout(),
		})
	}
	return localca.New(localca.Config{
		CertFile:   cfg.LocalCACertFile,
		KeyFile:    cfg.LocalCAKeyFile,
		Validity:   cfg.LocalCAValidity(),
		CommonName: "certassist local CA",
	})
}

func newRateLimiter(ctx context.Context, cfg config.Config) (domain.RateLimiter, error) {
	if cfg.RateLimitRequests <= 0 {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{MaxKeys: cfg.RateLimitMaxKeys}), nil
	}
	limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limiter: %w", err)
	}
	if err := limiter.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis rate limiter: %w", err)
	}
	return limiter, nil
}

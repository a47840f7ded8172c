// Package testdb creates throwaway Postgres databases for integration tests.
package testdb

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// NewDatabase creates an empty database on the server named by
// POSTGRES_DSN_TEST and returns its DSN. The database is dropped when the
// test finishes. Tests are skipped when the variable is unset.
func NewDatabase(t *testing.T) string {
	t.Helper()
	baseDSN := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if baseDSN == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	adminDSN := os.Getenv("POSTGRES_ADMIN_DSN_TEST")
	if adminDSN == "" {
		adminDSN = withDatabase(baseDSN, "postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adminConn, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}

	dbName := "certassist_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := adminConn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize()); err != nil {
		_ = adminConn.Close(ctx)
		t.Fatalf("create database: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = dropDatabase(ctx, adminConn, dbName)
		_ = adminConn.Close(ctx)
	})
	return withDatabase(baseDSN, dbName)
}

func withDatabase(dsn string, dbName string) string {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	parsed.Path = "/" + dbName
	return parsed.String()
}

func dropDatabase(ctx context.Context, conn *pgx.Conn, name string) error {
	_, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()+" WITH (FORCE)")
	return err
}

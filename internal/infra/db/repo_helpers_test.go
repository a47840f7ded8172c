package db

import (
	"errors"
	"testing"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"
)

func TestMigrationNames_Ordered(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("migration names: %v", err)
	}
	if len(names) < 2 || names[0] != "0001_init.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("migrations out of order: %v", names)
		}
	}
}

func TestWrapDB_PreservesDomainErrors(t *testing.T) {
	if err := wrapDB("op", domain.ErrConflict); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict to pass through, got %v", err)
	}
	err := wrapDB("op", errors.New("connection reset"))
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected driver error tagged internal, got %v", err)
	}
	if wrapDB("op", nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestRequestModel_NullableColumns(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	model, err := requestModelFromDomain(domain.CertificateRequest{
		ID:        "id",
		UserID:    "alice",
		Status:    domain.StatusPending,
		CAType:    domain.CATypePublic,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if model.DecisionID != nil || model.CertLocation != nil || model.ForcePublicReason != nil ||
		model.CASubmissionRef != nil || model.CertSerial != nil {
		t.Fatal("expected empty optional fields stored as NULL")
	}
	if string(model.SANEntries) != "[]" {
		t.Fatalf("expected empty json array, got %s", model.SANEntries)
	}
	if model.CreatedAt.Nanosecond()%1000 != 0 {
		t.Fatal("expected microsecond precision")
	}
	back, err := requestFromModel(model)
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if back.DecisionID != "" || len(back.SANEntries) != 0 || back.ExpiresAt != nil {
		t.Fatalf("unexpected round trip %+v", back)
	}
}

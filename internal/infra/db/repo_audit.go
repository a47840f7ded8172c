package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes a standalone entry. Entries that accompany a state change are
// written by the owning repository inside its transaction instead.
func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return wrapDB("append audit", insertAudit(r.db.WithContext(ctx), entry))
}

func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).Model(&AuditEntryModel{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.RequestID != "" {
		if _, err := uuid.Parse(filter.RequestID); err != nil {
			return []domain.AuditEntry{}, nil
		}
		q = q.Where("request_id = ?", filter.RequestID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var models []AuditEntryModel
	if err := q.Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, wrapDB("list audit", err)
	}
	out := make([]domain.AuditEntry, 0, len(models))
	for _, model := range models {
		entry, err := auditEntryFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func insertAudit(tx *gorm.DB, entry domain.AuditEntry) error {
	if entry.Action == "" {
		return fmt.Errorf("%w: audit action is required", domain.ErrInternal)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Result == "" {
		entry.Result = domain.AuditResultSuccess
	}
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := marshalJSON(details)
	if err != nil {
		return err
	}
	model := AuditEntryModel{
		ID:        entry.ID,
		UserID:    stringPtrIfNotEmpty(entry.UserID),
		RequestID: stringPtrIfNotEmpty(entry.RequestID),
		Action:    string(entry.Action),
		Result:    string(entry.Result),
		Details:   detailsJSON,
		IPAddress: stringPtrIfNotEmpty(entry.IPAddress),
		CreatedAt: utc(entry.CreatedAt),
	}
	return tx.Create(&model).Error
}

func auditEntryFromModel(model AuditEntryModel) (domain.AuditEntry, error) {
	details := map[string]any{}
	if len(model.Details) > 0 {
		if err := json.Unmarshal(model.Details, &details); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("%w: decode audit details: %v", domain.ErrInternal, err)
		}
	}
	return domain.AuditEntry{
		ID:        model.ID,
		UserID:    stringValue(model.UserID),
		RequestID: stringValue(model.RequestID),
		Action:    domain.AuditAction(model.Action),
		Result:    domain.AuditResult(model.Result),
		Details:   details,
		IPAddress: stringValue(model.IPAddress),
		CreatedAt: model.CreatedAt.UTC(),
	}, nil
}

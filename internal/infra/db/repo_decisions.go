package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DecisionRepository struct {
	db *gorm.DB
}

func NewDecisionRepository(db *gorm.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

func (r *DecisionRepository) CreateDecision(ctx context.Context, rec domain.DecisionRecord, audit domain.AuditEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	responses, err := marshalJSON(rec.Responses.StringKeys())
	if err != nil {
		return err
	}
	model := DecisionRecordModel{
		ID:             rec.ID,
		UserID:         rec.UserID,
		Responses:      responses,
		Recommendation: string(rec.Recommendation),
		MatchedRule:    rec.MatchedRule,
		CreatedAt:      utc(rec.CreatedAt),
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return insertAudit(tx, audit)
	})
	return wrapDB("create decision", err)
}

func (r *DecisionRepository) GetDecision(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: decision %s", domain.ErrNotFound, id)
	}
	var model DecisionRecordModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: decision %s", domain.ErrNotFound, id)
		}
		return nil, wrapDB("get decision", err)
	}
	var raw map[string]bool
	if err := json.Unmarshal(model.Responses, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode responses: %v", domain.ErrInternal, err)
	}
	return &domain.DecisionRecord{
		ID:             model.ID,
		UserID:         model.UserID,
		Responses:      domain.ParseAnswerSet(raw),
		Recommendation: domain.Recommendation(model.Recommendation),
		MatchedRule:    model.MatchedRule,
		CreatedAt:      model.CreatedAt.UTC(),
	}, nil
}

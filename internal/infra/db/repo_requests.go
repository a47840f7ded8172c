package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) CreateRequest(ctx context.Context, req domain.CertificateRequest, approval domain.Approval, audit domain.AuditEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if approval.RequestID != req.ID {
		return fmt.Errorf("%w: approval does not reference request", domain.ErrInternal)
	}
	model, err := requestModelFromDomain(req)
	if err != nil {
		return err
	}
	approvalModel := ApprovalModel{
		ID:         approval.ID,
		RequestID:  approval.RequestID,
		ApproverID: stringPtrIfNotEmpty(approval.ApproverID),
		Status:     string(approval.Status),
		Comments:   approval.Comments,
		ApprovedAt: utcPtr(approval.ApprovedAt),
		CreatedAt:  utc(approval.CreatedAt),
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Create(&approvalModel).Error; err != nil {
			return err
		}
		return insertAudit(tx, audit)
	})
	return wrapDB("create request", err)
}

func (r *RequestRepository) GetRequest(ctx context.Context, id string) (*domain.CertificateRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	model, err := findRequest(r.db.WithContext(ctx), id, false)
	if err != nil {
		return nil, err
	}
	req, err := requestFromModel(model)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepository) GetApproval(ctx context.Context, requestID string) (*domain.Approval, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	model, err := findApproval(r.db.WithContext(ctx), requestID, false)
	if err != nil {
		return nil, err
	}
	approval := approvalFromModel(model)
	return &approval, nil
}

func (r *RequestRepository) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.CertificateRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).Model(&CertificateRequestModel{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	var models []CertificateRequestModel
	if err := q.Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, wrapDB("list requests", err)
	}
	out := make([]domain.CertificateRequest, 0, len(models))
	for _, model := range models {
		req, err := requestFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// ApplyTransition locks the request row, re-checks the lifecycle against the
// committed status and writes the request, approval, revocation and audit
// rows in one transaction. The status predicate on the UPDATE keeps the move
// conditional even without the row lock.
func (r *RequestRepository) ApplyTransition(ctx context.Context, t domain.Transition) (domain.CertificateRequest, error) {
	if r.db == nil {
		return domain.CertificateRequest{}, errDBUnavailable
	}
	var out domain.CertificateRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := findRequest(tx, t.RequestID, true)
		if err != nil {
			return err
		}
		from := domain.RequestStatus(current.Status)
		to, err := domain.NextStatus(from, t.Event)
		if err != nil {
			return err
		}

		if t.Approval != nil {
			approval, err := findApproval(tx, t.RequestID, true)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: approval record missing for request %s", domain.ErrInternal, t.RequestID)
				}
				return err
			}
			if approval.Status != string(domain.ApprovalPending) {
				return fmt.Errorf("%w: approval already %s", domain.ErrConflict, approval.Status)
			}
			res := tx.Model(&ApprovalModel{}).
				Where("id = ? AND status = ?", approval.ID, string(domain.ApprovalPending)).
				Updates(map[string]any{
					"approver_id": stringPtrIfNotEmpty(t.Approval.ApproverID),
					"status":      string(t.Approval.Status),
					"comments":    t.Approval.Comments,
					"approved_at": utcPtr(t.Approval.ApprovedAt),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: approval changed concurrently", domain.ErrConflict)
			}
		}

		updates := map[string]any{
			"status":     string(to),
			"updated_at": utc(t.At),
		}
		if t.CertLocation != "" {
			updates["cert_location"] = t.CertLocation
		}
		if t.CertSerial != "" {
			updates["cert_serial"] = t.CertSerial
		}
		if t.ExpiresAt != nil {
			updates["expires_at"] = utcPtr(t.ExpiresAt)
		}
		res := tx.Model(&CertificateRequestModel{}).
			Where("id = ? AND status = ?", t.RequestID, string(from)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: request %s left %s concurrently", domain.ErrConflict, t.RequestID, from)
		}

		if t.Revocation != nil {
			rev := RevocationModel{
				ID:         t.Revocation.ID,
				RequestID:  t.Revocation.RequestID,
				UserID:     stringPtrIfNotEmpty(t.Revocation.UserID),
				Reason:     t.Revocation.Reason,
				RevokedAt:  utc(t.Revocation.RevokedAt),
				CRLUpdated: t.Revocation.CRLUpdated,
			}
			if err := tx.Create(&rev).Error; err != nil {
				return err
			}
		}
		if err := insertAudit(tx, t.Audit); err != nil {
			return err
		}

		updated, err := findRequest(tx, t.RequestID, false)
		if err != nil {
			return err
		}
		out, err = requestFromModel(updated)
		return err
	})
	if err != nil {
		return domain.CertificateRequest{}, wrapDB("apply transition", err)
	}
	return out, nil
}

// RecordSubmission stores the CA reference and its audit entry together.
func (r *RequestRepository) RecordSubmission(ctx context.Context, requestID, reference string, audit domain.AuditEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findRequest(tx, requestID, true); err != nil {
			return err
		}
		if reference != "" {
			if err := tx.Model(&CertificateRequestModel{}).
				Where("id = ?", requestID).
				Update("ca_submission_ref", reference).Error; err != nil {
				return err
			}
		}
		return insertAudit(tx, audit)
	})
	return wrapDB("record submission", err)
}

func (r *RequestRepository) MarkCRLUpdated(ctx context.Context, revocationID string, audit domain.AuditEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RevocationModel{}).
			Where("id = ?", revocationID).
			Update("crl_updated", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: revocation %s", domain.ErrNotFound, revocationID)
		}
		return insertAudit(tx, audit)
	})
	return wrapDB("mark crl updated", err)
}

// Revocations lists revocation rows for a request, oldest first.
func (r *RequestRepository) Revocations(ctx context.Context, requestID string) ([]domain.Revocation, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RevocationModel
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("revoked_at ASC").
		Find(&models).Error; err != nil {
		return nil, wrapDB("list revocations", err)
	}
	out := make([]domain.Revocation, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Revocation{
			ID:         m.ID,
			RequestID:  m.RequestID,
			UserID:     stringValue(m.UserID),
			Reason:     m.Reason,
			RevokedAt:  m.RevokedAt.UTC(),
			CRLUpdated: m.CRLUpdated,
		})
	}
	return out, nil
}

func findRequest(tx *gorm.DB, id string, lock bool) (CertificateRequestModel, error) {
	if _, err := uuid.Parse(id); err != nil {
		return CertificateRequestModel{}, fmt.Errorf("%w: request %s", domain.ErrNotFound, id)
	}
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model CertificateRequestModel
	if err := q.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return CertificateRequestModel{}, fmt.Errorf("%w: request %s", domain.ErrNotFound, id)
		}
		return CertificateRequestModel{}, err
	}
	return model, nil
}

func findApproval(tx *gorm.DB, requestID string, lock bool) (ApprovalModel, error) {
	if _, err := uuid.Parse(requestID); err != nil {
		return ApprovalModel{}, fmt.Errorf("%w: approval for request %s", domain.ErrNotFound, requestID)
	}
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model ApprovalModel
	if err := q.Where("request_id = ?", requestID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ApprovalModel{}, fmt.Errorf("%w: approval for request %s", domain.ErrNotFound, requestID)
		}
		return ApprovalModel{}, err
	}
	return model, nil
}

func requestModelFromDomain(req domain.CertificateRequest) (CertificateRequestModel, error) {
	sans := req.SANEntries
	if sans == nil {
		sans = []string{}
	}
	sanJSON, err := marshalJSON(sans)
	if err != nil {
		return CertificateRequestModel{}, err
	}
	return CertificateRequestModel{
		ID:                req.ID,
		UserID:            req.UserID,
		DecisionID:        stringPtrIfNotEmpty(req.DecisionID),
		CommonName:        req.CommonName,
		SANEntries:        sanJSON,
		CSRContent:        req.CSRContent,
		CSRUploaded:       req.CSRUploaded,
		CAType:            string(req.CAType),
		ForcePublicReason: stringPtrIfNotEmpty(req.ForcePublicReason),
		Status:            string(req.Status),
		CertLocation:      stringPtrIfNotEmpty(req.CertLocation),
		KeyLocation:       stringPtrIfNotEmpty(req.KeyLocation),
		CASubmissionRef:   stringPtrIfNotEmpty(req.CASubmissionRef),
		CertSerial:        stringPtrIfNotEmpty(req.CertSerial),
		CreatedAt:         utc(req.CreatedAt),
		UpdatedAt:         utc(req.UpdatedAt),
		ExpiresAt:         utcPtr(req.ExpiresAt),
	}, nil
}

func requestFromModel(model CertificateRequestModel) (domain.CertificateRequest, error) {
	var sans []string
	if len(model.SANEntries) > 0 {
		if err := json.Unmarshal(model.SANEntries, &sans); err != nil {
			return domain.CertificateRequest{}, fmt.Errorf("%w: decode san_entries: %v", domain.ErrInternal, err)
		}
	}
	var expires *time.Time
	if model.ExpiresAt != nil {
		v := model.ExpiresAt.UTC()
		expires = &v
	}
	return domain.CertificateRequest{
		ID:                model.ID,
		UserID:            model.UserID,
		DecisionID:        stringValue(model.DecisionID),
		CommonName:        model.CommonName,
		SANEntries:        sans,
		CSRContent:        model.CSRContent,
		CSRUploaded:       model.CSRUploaded,
		CAType:            domain.CAType(model.CAType),
		ForcePublicReason: stringValue(model.ForcePublicReason),
		Status:            domain.RequestStatus(model.Status),
		CertLocation:      stringValue(model.CertLocation),
		KeyLocation:       stringValue(model.KeyLocation),
		CASubmissionRef:   stringValue(model.CASubmissionRef),
		CertSerial:        stringValue(model.CertSerial),
		CreatedAt:         model.CreatedAt.UTC(),
		UpdatedAt:         model.UpdatedAt.UTC(),
		ExpiresAt:         expires,
	}, nil
}

func approvalFromModel(model ApprovalModel) domain.Approval {
	var approvedAt *time.Time
	if model.ApprovedAt != nil {
		v := model.ApprovedAt.UTC()
		approvedAt = &v
	}
	return domain.Approval{
		ID:         model.ID,
		RequestID:  model.RequestID,
		ApproverID: stringValue(model.ApproverID),
		Status:     domain.ApprovalStatus(model.Status),
		Comments:   model.Comments,
		ApprovedAt: approvedAt,
		CreatedAt:  model.CreatedAt.UTC(),
	}
}

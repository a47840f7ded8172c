package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/DebasishTripathy13/CA/internal/domain"
)

// Store keeps decisions, requests, approvals, revocations and audit entries
// in memory. A single mutex gives every multi-row write the same
// all-or-nothing behaviour as a database transaction.
type Store struct {
	mu          sync.Mutex
	decisions   map[string]domain.DecisionRecord
	requests    map[string]domain.CertificateRequest
	approvals   map[string]domain.Approval // keyed by request id
	revocations map[string]domain.Revocation
	audit       []domain.AuditEntry
}

func New() *Store {
	return &Store{
		decisions:   make(map[string]domain.DecisionRecord),
		requests:    make(map[string]domain.CertificateRequest),
		approvals:   make(map[string]domain.Approval),
		revocations: make(map[string]domain.Revocation),
	}
}

func (s *Store) CreateDecision(_ context.Context, rec domain.DecisionRecord, audit domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[rec.ID]; ok {
		return fmt.Errorf("%w: decision %s exists", domain.ErrConflict, rec.ID)
	}
	rec.Responses = copyAnswers(rec.Responses)
	s.decisions[rec.ID] = rec
	s.audit = append(s.audit, copyAudit(audit))
	return nil
}

func (s *Store) GetDecision(_ context.Context, id string) (*domain.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.decisions[id]
	if !ok {
		return nil, fmt.Errorf("%w: decision %s", domain.ErrNotFound, id)
	}
	rec.Responses = copyAnswers(rec.Responses)
	return &rec, nil
}

func (s *Store) CreateRequest(_ context.Context, req domain.CertificateRequest, approval domain.Approval, audit domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return fmt.Errorf("%w: request %s exists", domain.ErrConflict, req.ID)
	}
	if approval.RequestID != req.ID {
		return fmt.Errorf("%w: approval does not reference request", domain.ErrInternal)
	}
	s.requests[req.ID] = copyRequest(req)
	s.approvals[req.ID] = approval
	s.audit = append(s.audit, copyAudit(audit))
	return nil
}

func (s *Store) GetRequest(_ context.Context, id string) (*domain.CertificateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: request %s", domain.ErrNotFound, id)
	}
	out := copyRequest(req)
	return &out, nil
}

func (s *Store) GetApproval(_ context.Context, requestID string) (*domain.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: approval for request %s", domain.ErrNotFound, requestID)
	}
	return &approval, nil
}

func (s *Store) ListRequests(_ context.Context, filter domain.RequestFilter) ([]domain.CertificateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CertificateRequest, 0)
	for _, req := range s.requests {
		if filter.UserID != "" && req.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, copyRequest(req))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ApplyTransition(_ context.Context, t domain.Transition) (domain.CertificateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[t.RequestID]
	if !ok {
		return domain.CertificateRequest{}, fmt.Errorf("%w: request %s", domain.ErrNotFound, t.RequestID)
	}
	to, err := domain.NextStatus(req.Status, t.Event)
	if err != nil {
		return domain.CertificateRequest{}, err
	}

	var approval domain.Approval
	if t.Approval != nil {
		approval, ok = s.approvals[req.ID]
		if !ok {
			return domain.CertificateRequest{}, fmt.Errorf("%w: approval record missing for request %s", domain.ErrInternal, req.ID)
		}
		if approval.Status != domain.ApprovalPending {
			return domain.CertificateRequest{}, fmt.Errorf("%w: approval already %s", domain.ErrConflict, approval.Status)
		}
		approval.ApproverID = t.Approval.ApproverID
		approval.Status = t.Approval.Status
		approval.Comments = t.Approval.Comments
		approval.ApprovedAt = t.Approval.ApprovedAt
	}
	if t.Revocation != nil {
		if _, exists := s.revocations[t.Revocation.ID]; exists {
			return domain.CertificateRequest{}, fmt.Errorf("%w: revocation %s exists", domain.ErrConflict, t.Revocation.ID)
		}
	}

	req.Status = to
	req.UpdatedAt = t.At
	if t.CertLocation != "" {
		req.CertLocation = t.CertLocation
	}
	if t.CertSerial != "" {
		req.CertSerial = t.CertSerial
	}
	if t.ExpiresAt != nil {
		expires := *t.ExpiresAt
		req.ExpiresAt = &expires
	}
	s.requests[req.ID] = req
	if t.Approval != nil {
		s.approvals[req.ID] = approval
	}
	if t.Revocation != nil {
		s.revocations[t.Revocation.ID] = *t.Revocation
	}
	s.audit = append(s.audit, copyAudit(t.Audit))
	return copyRequest(req), nil
}

func (s *Store) RecordSubmission(_ context.Context, requestID, reference string, audit domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: request %s", domain.ErrNotFound, requestID)
	}
	if reference != "" {
		req.CASubmissionRef = reference
		s.requests[requestID] = req
	}
	s.audit = append(s.audit, copyAudit(audit))
	return nil
}

func (s *Store) MarkCRLUpdated(_ context.Context, revocationID string, audit domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.revocations[revocationID]
	if !ok {
		return fmt.Errorf("%w: revocation %s", domain.ErrNotFound, revocationID)
	}
	rev.CRLUpdated = true
	s.revocations[revocationID] = rev
	s.audit = append(s.audit, copyAudit(audit))
	return nil
}

// Revocations lists revocation records for a request.
func (s *Store) Revocations(requestID string) []domain.Revocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Revocation
	for _, rev := range s.revocations {
		if rev.RequestID == requestID {
			out = append(out, rev)
		}
	}
	return out
}

func (s *Store) Append(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, copyAudit(entry))
	return nil
}

func (s *Store) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0)
	for _, entry := range s.audit {
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.RequestID != "" && entry.RequestID != filter.RequestID {
			continue
		}
		out = append(out, copyAudit(entry))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func copyRequest(in domain.CertificateRequest) domain.CertificateRequest {
	out := in
	if in.SANEntries != nil {
		out.SANEntries = append([]string(nil), in.SANEntries...)
	}
	if in.ExpiresAt != nil {
		expires := *in.ExpiresAt
		out.ExpiresAt = &expires
	}
	return out
}

func copyAnswers(in domain.AnswerSet) domain.AnswerSet {
	out := make(domain.AnswerSet, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyAudit(in domain.AuditEntry) domain.AuditEntry {
	out := in
	out.Details = make(map[string]any, len(in.Details))
	for k, v := range in.Details {
		out.Details[k] = v
	}
	return out
}

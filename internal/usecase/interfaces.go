package usecase

import (
	"context"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"
)

type Clock func() time.Time

type DecisionRepository interface {
	// CreateDecision persists the record and its audit entry atomically.
	CreateDecision(ctx context.Context, rec domain.DecisionRecord, audit domain.AuditEntry) error
	GetDecision(ctx context.Context, id string) (*domain.DecisionRecord, error)
}

type RequestRepository interface {
	// CreateRequest commits the request, its pending approval and the audit
	// entry as one unit.
	CreateRequest(ctx context.Context, req domain.CertificateRequest, approval domain.Approval, audit domain.AuditEntry) error
	GetRequest(ctx context.Context, id string) (*domain.CertificateRequest, error)
	GetApproval(ctx context.Context, requestID string) (*domain.Approval, error)
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.CertificateRequest, error)
	// ApplyTransition moves the request only if its status still equals the
	// event's source status. A lost race reports domain.ErrConflict.
	ApplyTransition(ctx context.Context, t domain.Transition) (domain.CertificateRequest, error)
	// RecordSubmission keeps the CA's reference for a submitted request.
	RecordSubmission(ctx context.Context, requestID, reference string, audit domain.AuditEntry) error
	MarkCRLUpdated(ctx context.Context, revocationID string, audit domain.AuditEntry) error
}

type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
}

type KeyGenerator interface {
	GenerateKeyAndCSR(commonName string, sans []string) (keyPEM []byte, csrPEM []byte, err error)
}

type CSRValidator interface {
	ValidateCSR(csrPEM []byte, commonName string) error
}

type Metrics interface {
	ObserveDecision(rec domain.Recommendation)
	ObserveTransition(event domain.LifecycleEvent, result string)
	ObserveCollaborator(name, op string, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDecision(domain.Recommendation)           {}
func (noopMetrics) ObserveTransition(domain.LifecycleEvent, string) {}
func (noopMetrics) ObserveCollaborator(string, string, error)       {}

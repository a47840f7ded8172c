package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/google/uuid"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// AuditEmitter builds audit entries. Entries that describe a state change
// are handed to the repository alongside the change so both commit together;
// Emit is only for entries with no accompanying mutation.
type AuditEmitter struct {
	Repo  AuditRepository
	Clock Clock
}

func NewAuditEmitter(repo AuditRepository, clock Clock) *AuditEmitter {
	return &AuditEmitter{Repo: repo, Clock: clock}
}

// Actor carries who performed an operation and from where.
type Actor struct {
	UserID    string
	IPAddress string
}

func (e *AuditEmitter) Build(action domain.AuditAction, actor Actor, requestID string, details map[string]any) domain.AuditEntry {
	if details == nil {
		details = map[string]any{}
	}
	return domain.AuditEntry{
		ID:        uuid.NewString(),
		UserID:    actor.UserID,
		RequestID: requestID,
		Action:    action,
		Result:    domain.AuditResultSuccess,
		Details:   details,
		IPAddress: actor.IPAddress,
		CreatedAt: e.now().UTC(),
	}
}

func (e *AuditEmitter) EmitFailure(ctx context.Context, action domain.AuditAction, actor Actor, requestID string, details map[string]any, cause error) error {
	if e == nil || e.Repo == nil {
		return errors.New("audit repository required")
	}
	entry := e.Build(action, actor, requestID, details)
	entry.Result = domain.AuditResultFailure
	if cause != nil {
		entry.Details["error"] = cause.Error()
	}
	if err := e.Repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (e *AuditEmitter) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	if e == nil || e.Repo == nil {
		return nil, errors.New("audit repository required")
	}
	if filter.UserID == "" && filter.RequestID == "" {
		return nil, fmt.Errorf("%w: user_id or request_id is required", domain.ErrInvalidArgument)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultAuditLimit
	case filter.Limit > maxAuditLimit:
		filter.Limit = maxAuditLimit
	}
	return e.Repo.List(ctx, filter)
}

func (e *AuditEmitter) now() time.Time {
	if e != nil && e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

package domain

import (
	"fmt"
	"time"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
	StatusIssued   RequestStatus = "ISSUED"
	StatusError    RequestStatus = "ERROR"
	StatusRevoked  RequestStatus = "REVOKED"
)

type LifecycleEvent string

const (
	EventApprove LifecycleEvent = "approve"
	EventReject  LifecycleEvent = "reject"
	EventIssue   LifecycleEvent = "issue"
	EventFail    LifecycleEvent = "fail"
	EventRevoke  LifecycleEvent = "revoke"
)

type transitionKey struct {
	from  RequestStatus
	event LifecycleEvent
}

// transitions is the only place legal lifecycle moves are defined.
var transitions = map[transitionKey]RequestStatus{
	{StatusPending, EventApprove}: StatusApproved,
	{StatusPending, EventReject}:  StatusRejected,
	{StatusApproved, EventIssue}:  StatusIssued,
	{StatusApproved, EventFail}:   StatusError,
	{StatusIssued, EventRevoke}:   StatusRevoked,
}

// NextStatus returns the target of event applied in status from, or
// ErrConflict when the lifecycle does not allow it.
func NextStatus(from RequestStatus, event LifecycleEvent) (RequestStatus, error) {
	to, ok := transitions[transitionKey{from: from, event: event}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s request in status %s", ErrConflict, event, from)
	}
	return to, nil
}

// SourceStatus is the single status from which event is legal.
func SourceStatus(event LifecycleEvent) (RequestStatus, bool) {
	for key := range transitions {
		if key.event == event {
			return key.from, true
		}
	}
	return "", false
}

func ParseRequestStatus(v string) (RequestStatus, bool) {
	switch s := RequestStatus(v); s {
	case StatusPending, StatusApproved, StatusRejected, StatusIssued, StatusError, StatusRevoked:
		return s, true
	}
	return "", false
}

func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusRevoked
}

type CAType string

const (
	CATypePublic   CAType = "PUBLIC"
	CATypeInternal CAType = "INTERNAL"
)

func ParseCAType(v string) (CAType, bool) {
	switch t := CAType(v); t {
	case CATypePublic, CATypeInternal:
		return t, true
	}
	return "", false
}

type CertificateRequest struct {
	ID                string
	UserID            string
	DecisionID        string
	CommonName        string
	SANEntries        []string
	CSRContent        string
	CSRUploaded       bool
	CAType            CAType
	ForcePublicReason string
	Status            RequestStatus
	CertLocation      string
	KeyLocation       string
	CASubmissionRef   string
	CertSerial        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ExpiresAt         *time.Time
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

type Approval struct {
	ID         string
	RequestID  string
	ApproverID string
	Status     ApprovalStatus
	Comments   string
	ApprovedAt *time.Time
	CreatedAt  time.Time
}

type Revocation struct {
	ID         string
	RequestID  string
	UserID     string
	Reason     string
	RevokedAt  time.Time
	CRLUpdated bool
}

type RequestFilter struct {
	UserID string
	Status RequestStatus
}

// Transition describes one conditional lifecycle move and everything that
// must commit with it.
type Transition struct {
	RequestID string
	Event     LifecycleEvent
	At        time.Time

	// Approval is applied to the paired approval record for approve/reject.
	Approval *ApprovalUpdate
	// Issuance fields are applied for the issue event.
	CertLocation string
	CertSerial   string
	ExpiresAt    *time.Time
	// Revocation is inserted for the revoke event.
	Revocation *Revocation

	Audit AuditEntry
}

type ApprovalUpdate struct {
	ApproverID string
	Status     ApprovalStatus
	Comments   string
	ApprovedAt *time.Time
}

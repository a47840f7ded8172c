package domain

import "time"

type AuditAction string

const (
	AuditDecisionEvaluation AuditAction = "DECISION_EVALUATION"
	AuditRequestCreated     AuditAction = "REQUEST_CREATED"
	AuditRequestApproved    AuditAction = "REQUEST_APPROVED"
	AuditRequestRejected    AuditAction = "REQUEST_REJECTED"
	AuditCASubmission       AuditAction = "CA_SUBMISSION"
	AuditCertificateIssued  AuditAction = "CERTIFICATE_ISSUED"
	AuditIssuanceFailed     AuditAction = "ISSUANCE_FAILED"
	AuditCertificateRevoked AuditAction = "CERTIFICATE_REVOKED"
	AuditRevocationFailed   AuditAction = "REVOCATION_FAILED"
	AuditCRLUpdated         AuditAction = "CRL_UPDATED"
)

type AuditResult string

const (
	AuditResultSuccess AuditResult = "SUCCESS"
	AuditResultFailure AuditResult = "FAILURE"
)

type AuditEntry struct {
	ID        string
	UserID    string
	RequestID string
	Action    AuditAction
	Result    AuditResult
	Details   map[string]any
	IPAddress string
	CreatedAt time.Time
}

type AuditFilter struct {
	UserID    string
	RequestID string
	Limit     int
}

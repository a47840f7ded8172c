package domain

import (
	"context"
	"time"
)

type BlobKind string

const (
	BlobCertificate BlobKind = "cert"
	BlobPrivateKey  BlobKind = "key"
)

// IssuedCertificateBlob names the object for one issued certificate. The
// serial keeps every issuance report in its own object.
func IssuedCertificateBlob(serialHex string) BlobKind {
	return BlobKind(string(BlobCertificate) + "-" + serialHex)
}

// Storage persists certificate and key material and hands out time-limited
// download links. Missing objects report ErrNotFound; every other failure
// wraps ErrCollaborator.
type Storage interface {
	Put(ctx context.Context, content []byte, requestID string, kind BlobKind) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
	PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, location string) error
}

type SubmitStatus string

const (
	SubmitSuccess SubmitStatus = "SUCCESS"
	SubmitError   SubmitStatus = "ERROR"
)

// SubmitOutcome.Reference is the CA's own id for the submission. It is kept
// on the request so status lookups survive a restart.
type SubmitOutcome struct {
	Status    SubmitStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	Reference string       `json:"reference,omitempty"`
}

type IssuanceStatus string

const (
	IssuancePending IssuanceStatus = "PENDING"
	IssuanceIssued  IssuanceStatus = "ISSUED"
	IssuanceError   IssuanceStatus = "ERROR"
)

type StatusOutcome struct {
	Status         IssuanceStatus
	CertificatePEM []byte
	Detail         string
}

// CertificateAuthority is the black-box signing service. Calls may fail or
// time out; callers must not assume success.
type CertificateAuthority interface {
	Submit(ctx context.Context, req CertificateRequest) (SubmitOutcome, error)
	RetrieveStatus(ctx context.Context, req CertificateRequest) (StatusOutcome, error)
	Revoke(ctx context.Context, req CertificateRequest, reason string) (bool, error)
	RefreshRevocationList(ctx context.Context) (bool, error)
}

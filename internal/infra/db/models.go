package db

import "time"

type DecisionRecordModel struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	UserID         string    `gorm:"index;not null"`
	Responses      []byte    `gorm:"type:jsonb;not null"`
	Recommendation string    `gorm:"not null"`
	MatchedRule    string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (DecisionRecordModel) TableName() string { return "decision_records" }

type CertificateRequestModel struct {
	ID                string  `gorm:"type:uuid;primaryKey"`
	UserID            string  `gorm:"index;not null"`
	DecisionID        *string `gorm:"type:uuid"`
	CommonName        string  `gorm:"not null"`
	SANEntries        []byte  `gorm:"column:san_entries;type:jsonb;not null"`
	CSRContent        string  `gorm:"column:csr_content;not null"`
	CSRUploaded       bool    `gorm:"column:csr_uploaded;not null"`
	CAType            string  `gorm:"column:ca_type;not null"`
	ForcePublicReason *string
	Status            string `gorm:"index;not null"`
	CertLocation      *string
	KeyLocation       *string
	CASubmissionRef   *string `gorm:"column:ca_submission_ref"`
	CertSerial        *string `gorm:"column:cert_serial"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
	ExpiresAt         *time.Time
}

func (CertificateRequestModel) TableName() string { return "certificate_requests" }

type ApprovalModel struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	RequestID  string  `gorm:"type:uuid;uniqueIndex;not null"`
	ApproverID *string `gorm:"column:approver_id"`
	Status     string  `gorm:"not null"`
	Comments   string  `gorm:"not null"`
	ApprovedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
}

func (ApprovalModel) TableName() string { return "approvals" }

type RevocationModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	RequestID  string    `gorm:"type:uuid;index;not null"`
	UserID     *string   `gorm:"column:user_id"`
	Reason     string    `gorm:"not null"`
	RevokedAt  time.Time `gorm:"not null"`
	CRLUpdated bool      `gorm:"column:crl_updated;not null"`
}

func (RevocationModel) TableName() string { return "revocations" }

type AuditEntryModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	UserID    *string   `gorm:"column:user_id"`
	RequestID *string   `gorm:"type:uuid"`
	Action    string    `gorm:"not null"`
	Result    string    `gorm:"not null"`
	Details   []byte    `gorm:"type:jsonb;not null"`
	IPAddress *string   `gorm:"column:ip_address"`
	CreatedAt time.Time `gorm:"not null"`
}

func (AuditEntryModel) TableName() string { return "audit_entries" }

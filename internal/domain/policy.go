package domain

import "context"

// AdmissionInput is what the request admission policy sees.
type AdmissionInput struct {
	UserID            string         `json:"user_id"`
	CommonName        string         `json:"common_name"`
	SANEntries        []string       `json:"san_entries"`
	CAType            string         `json:"ca_type"`
	ForcePublicReason string         `json:"force_public_reason"`
	CSRUploaded       bool           `json:"csr_uploaded"`
	Recommendation    Recommendation `json:"recommendation,omitempty"`
}

type PolicyViolation struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type AdmissionResult struct {
	Allow    bool              `json:"allow"`
	Deny     []PolicyViolation `json:"deny,omitempty"`
	Warnings []PolicyViolation `json:"warn,omitempty"`
}

type AdmissionPolicy interface {
	Evaluate(ctx context.Context, input AdmissionInput) (AdmissionResult, error)
}

package usecase

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/google/uuid"
)

const DefaultPresignTTL = time.Hour

type CertificateService struct {
	Requests  RequestRepository
	Decisions DecisionRepository
	Audit     *AuditEmitter
	Storage   domain.Storage
	CA        domain.CertificateAuthority
	Keys      KeyGenerator
	CSRs      CSRValidator
	Policy    domain.AdmissionPolicy
	Metrics   Metrics
	Logger    *slog.Logger
	Clock     Clock

	PresignTTL time.Duration
}

type CertificateDeps struct {
	Requests  RequestRepository
	Decisions DecisionRepository
	Audit     *AuditEmitter
	Storage   domain.Storage
	CA        domain.CertificateAuthority
	Keys      KeyGenerator
	CSRs      CSRValidator
	Policy    domain.AdmissionPolicy
	Metrics   Metrics
	Logger    *slog.Logger
	Clock     Clock

	PresignTTL time.Duration
}

func NewCertificateService(deps CertificateDeps) *CertificateService {
	s := &CertificateService{
		Requests:   deps.Requests,
		Decisions:  deps.Decisions,
		Audit:      deps.Audit,
		Storage:    deps.Storage,
		CA:         deps.CA,
		Keys:       deps.Keys,
		CSRs:       deps.CSRs,
		Policy:     deps.Policy,
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
		Clock:      deps.Clock,
		PresignTTL: deps.PresignTTL,
	}
	if s.Audit == nil {
		s.Audit = NewAuditEmitter(nil, deps.Clock)
	}
	if s.Metrics == nil {
		s.Metrics = noopMetrics{}
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.PresignTTL <= 0 {
		s.PresignTTL = DefaultPresignTTL
	}
	return s
}

type CreateRequestInput struct {
	UserID            string
	DecisionID        string
	CommonName        string
	SANEntries        []string
	CSRContent        string
	CSRUploaded       bool
	CAType            string
	ForcePublicReason string
	Actor             Actor
}

type CreateRequestOutput struct {
	Request  domain.CertificateRequest
	Approval domain.Approval
	Warnings []domain.PolicyViolation
}

func (s *CertificateService) Create(ctx context.Context, in CreateRequestInput) (CreateRequestOutput, error) {
	if s == nil || s.Requests == nil {
		return CreateRequestOutput{}, errors.New("request repository required")
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return CreateRequestOutput{}, fmt.Errorf("%w: user_id is required", domain.ErrInvalidArgument)
	}
	commonName := strings.TrimSpace(in.CommonName)
	if commonName == "" {
		return CreateRequestOutput{}, fmt.Errorf("%w: common_name is required", domain.ErrInvalidArgument)
	}
	caType, ok := domain.ParseCAType(strings.ToUpper(strings.TrimSpace(in.CAType)))
	if !ok {
		return CreateRequestOutput{}, fmt.Errorf("%w: ca_type must be PUBLIC or INTERNAL", domain.ErrInvalidArgument)
	}
	sans := normalizeSANs(in.SANEntries)

	var recommendation domain.Recommendation
	decisionID := strings.TrimSpace(in.DecisionID)
	if decisionID != "" && s.Decisions != nil {
		decision, err := s.Decisions.GetDecision(ctx, decisionID)
		if err != nil {
			return CreateRequestOutput{}, fmt.Errorf("load decision: %w", err)
		}
		if decision.UserID != userID {
			return CreateRequestOutput{}, fmt.Errorf("%w: decision belongs to another user", domain.ErrInvalidArgument)
		}
		recommendation = decision.Recommendation
	}

	csr := strings.TrimSpace(in.CSRContent)
	uploaded := csr != ""
	if uploaded && s.CSRs != nil {
		if err := s.CSRs.ValidateCSR([]byte(csr), commonName); err != nil {
			return CreateRequestOutput{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
	}

	var warnings []domain.PolicyViolation
	if s.Policy != nil {
		result, err := s.Policy.Evaluate(ctx, domain.AdmissionInput{
			UserID:            userID,
			CommonName:        commonName,
			SANEntries:        sans,
			CAType:            string(caType),
			ForcePublicReason: strings.TrimSpace(in.ForcePublicReason),
			CSRUploaded:       uploaded,
			Recommendation:    recommendation,
		})
		if err != nil {
			return CreateRequestOutput{}, fmt.Errorf("evaluate admission policy: %w", err)
		}
		if !result.Allow {
			return CreateRequestOutput{}, fmt.Errorf("%w: %s", domain.ErrPolicyDenied, violationCodes(result.Deny))
		}
		warnings = result.Warnings
	}

	now := s.Clock().UTC()
	req := domain.CertificateRequest{
		ID:                uuid.NewString(),
		UserID:            userID,
		DecisionID:        decisionID,
		CommonName:        commonName,
		SANEntries:        sans,
		CSRContent:        csr,
		CSRUploaded:       uploaded,
		CAType:            caType,
		ForcePublicReason: strings.TrimSpace(in.ForcePublicReason),
		Status:            domain.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if !uploaded {
		if s.Keys == nil || s.Storage == nil {
			return CreateRequestOutput{}, fmt.Errorf("%w: csr_content is required", domain.ErrInvalidArgument)
		}
		keyPEM, csrPEM, err := s.Keys.GenerateKeyAndCSR(commonName, sans)
		if err != nil {
			return CreateRequestOutput{}, fmt.Errorf("generate key and csr: %w", err)
		}
		location, err := s.Storage.Put(ctx, keyPEM, req.ID, domain.BlobPrivateKey)
		s.Metrics.ObserveCollaborator("storage", "put", err)
		if err != nil {
			return CreateRequestOutput{}, collaboratorError("store private key", err)
		}
		req.CSRContent = string(csrPEM)
		req.KeyLocation = location
	}

	approval := domain.Approval{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Status:    domain.ApprovalPending,
		CreatedAt: now,
	}
	details := map[string]any{
		"user_id":             userID,
		"decision_id":         decisionID,
		"common_name":         commonName,
		"san_entries":         sans,
		"csr_uploaded":        uploaded,
		"csr_sha256":          sha256Hex([]byte(req.CSRContent)),
		"ca_type":             string(caType),
		"force_public_reason": req.ForcePublicReason,
	}
	if uploaded {
		details["csr_content"] = csr
	}
	if len(warnings) > 0 {
		details["policy_warnings"] = violationCodes(warnings)
	}
	entry := s.Audit.Build(domain.AuditRequestCreated, withUser(in.Actor, userID), req.ID, details)

	if err := s.Requests.CreateRequest(ctx, req, approval, entry); err != nil {
		if req.KeyLocation != "" {
			if delErr := s.Storage.Delete(ctx, req.KeyLocation); delErr != nil {
				s.Logger.WarnContext(ctx, "orphaned_key_cleanup_failed", "request_id", req.ID, "err", delErr)
			}
		}
		return CreateRequestOutput{}, fmt.Errorf("create request: %w", err)
	}
	s.Logger.InfoContext(ctx, "request_created",
		"request_id", req.ID,
		"user_id", userID,
		"ca_type", caType,
		"csr_uploaded", uploaded,
	)
	return CreateRequestOutput{Request: req, Approval: approval, Warnings: warnings}, nil
}

type ReviewInput struct {
	RequestID  string
	ApproverID string
	Comments   string
	Actor      Actor
}

type ApproveOutput struct {
	Request    domain.CertificateRequest
	Submission *domain.SubmitOutcome
}

// Approve moves a PENDING request to APPROVED. INTERNAL requests are then
// submitted to the CA; the submission outcome is reported but never changes
// the request status.
func (s *CertificateService) Approve(ctx context.Context, in ReviewInput) (ApproveOutput, error) {
	req, err := s.review(ctx, in, domain.EventApprove)
	if err != nil {
		return ApproveOutput{}, err
	}
	out := ApproveOutput{Request: req}
	if req.CAType != domain.CATypeInternal {
		return out, nil
	}
	out.Submission = s.submit(ctx, req)
	s.recordSubmission(ctx, req, *out.Submission, in.Actor)
	return out, nil
}

func (s *CertificateService) Reject(ctx context.Context, in ReviewInput) (domain.CertificateRequest, error) {
	return s.review(ctx, in, domain.EventReject)
}

func (s *CertificateService) review(ctx context.Context, in ReviewInput, event domain.LifecycleEvent) (domain.CertificateRequest, error) {
	req, err := s.load(ctx, in.RequestID)
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	approval, err := s.Requests.GetApproval(ctx, req.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.Logger.ErrorContext(ctx, "approval_record_missing", "request_id", req.ID)
			return domain.CertificateRequest{}, fmt.Errorf("%w: approval record missing for request %s", domain.ErrInternal, req.ID)
		}
		return domain.CertificateRequest{}, fmt.Errorf("load approval: %w", err)
	}
	if _, err := domain.NextStatus(req.Status, event); err != nil {
		s.Metrics.ObserveTransition(event, "conflict")
		return domain.CertificateRequest{}, err
	}
	if approval.Status != domain.ApprovalPending {
		s.Metrics.ObserveTransition(event, "conflict")
		return domain.CertificateRequest{}, fmt.Errorf("%w: approval already %s", domain.ErrConflict, approval.Status)
	}

	now := s.Clock().UTC()
	approverID := strings.TrimSpace(in.ApproverID)
	update := &domain.ApprovalUpdate{ApproverID: approverID, Comments: in.Comments}
	action := domain.AuditRequestApproved
	if event == domain.EventApprove {
		update.Status = domain.ApprovalApproved
		update.ApprovedAt = &now
	} else {
		update.Status = domain.ApprovalRejected
		if strings.TrimSpace(update.Comments) == "" {
			update.Comments = "Request rejected"
		}
		action = domain.AuditRequestRejected
	}
	entry := s.Audit.Build(action, withUser(in.Actor, approverID), req.ID, map[string]any{
		"approver_id": approverID,
		"comments":    in.Comments,
		"from_status": string(req.Status),
	})
	updated, err := s.Requests.ApplyTransition(ctx, domain.Transition{
		RequestID: req.ID,
		Event:     event,
		At:        now,
		Approval:  update,
		Audit:     entry,
	})
	if err != nil {
		s.Metrics.ObserveTransition(event, transitionResult(err))
		return domain.CertificateRequest{}, err
	}
	s.Metrics.ObserveTransition(event, "ok")
	s.Logger.InfoContext(ctx, "request_reviewed",
		"request_id", req.ID,
		"approver_id", approverID,
		"status", updated.Status,
	)
	return updated, nil
}

func (s *CertificateService) submit(ctx context.Context, req domain.CertificateRequest) *domain.SubmitOutcome {
	if s.CA == nil {
		return &domain.SubmitOutcome{Status: domain.SubmitError, Detail: "no certificate authority configured"}
	}
	outcome, err := s.CA.Submit(ctx, req)
	s.Metrics.ObserveCollaborator("ca", "submit", err)
	if err != nil {
		s.Logger.WarnContext(ctx, "ca_submit_failed", "request_id", req.ID, "err", err)
		return &domain.SubmitOutcome{Status: domain.SubmitError, Detail: err.Error()}
	}
	s.Logger.InfoContext(ctx, "ca_submit", "request_id", req.ID, "status", outcome.Status, "detail", outcome.Detail)
	return &outcome
}

// recordSubmission stores the CA reference on the request. Failures are only
// logged since the request is already APPROVED.
func (s *CertificateService) recordSubmission(ctx context.Context, req domain.CertificateRequest, outcome domain.SubmitOutcome, actor Actor) {
	entry := s.Audit.Build(domain.AuditCASubmission, actor, req.ID, map[string]any{
		"status":    string(outcome.Status),
		"detail":    outcome.Detail,
		"reference": outcome.Reference,
	})
	if outcome.Status != domain.SubmitSuccess {
		entry.Result = domain.AuditResultFailure
	}
	if err := s.Requests.RecordSubmission(ctx, req.ID, outcome.Reference, entry); err != nil {
		s.Logger.WarnContext(ctx, "ca_submission_not_recorded", "request_id", req.ID, "err", err)
	}
}

type IssuanceInput struct {
	RequestID      string
	CertificatePEM []byte
	Actor          Actor
}

// RecordIssuance stores an issued certificate and moves APPROVED to ISSUED.
func (s *CertificateService) RecordIssuance(ctx context.Context, in IssuanceInput) (domain.CertificateRequest, error) {
	req, err := s.load(ctx, in.RequestID)
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	if _, err := domain.NextStatus(req.Status, domain.EventIssue); err != nil {
		return domain.CertificateRequest{}, err
	}
	cert, err := parseCertificatePEM(in.CertificatePEM)
	if err != nil {
		return domain.CertificateRequest{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if s.Storage == nil {
		return domain.CertificateRequest{}, fmt.Errorf("%w: storage not configured", domain.ErrCollaborator)
	}
	serial := cert.SerialNumber.Text(16)
	location, err := s.Storage.Put(ctx, in.CertificatePEM, req.ID, domain.IssuedCertificateBlob(serial))
	s.Metrics.ObserveCollaborator("storage", "put", err)
	if err != nil {
		return domain.CertificateRequest{}, collaboratorError("store certificate", err)
	}
	expires := cert.NotAfter.UTC()
	entry := s.Audit.Build(domain.AuditCertificateIssued, in.Actor, req.ID, map[string]any{
		"serial":        serial,
		"not_after":     expires.Format(time.RFC3339),
		"cert_location": location,
	})
	updated, err := s.Requests.ApplyTransition(ctx, domain.Transition{
		RequestID:    req.ID,
		Event:        domain.EventIssue,
		At:           s.Clock().UTC(),
		CertLocation: location,
		CertSerial:   serial,
		ExpiresAt:    &expires,
		Audit:        entry,
	})
	s.Metrics.ObserveTransition(domain.EventIssue, transitionResult(err))
	if err != nil {
		s.discardCertificate(ctx, req.ID, location, err)
		return domain.CertificateRequest{}, err
	}
	s.Logger.InfoContext(ctx, "certificate_issued", "request_id", req.ID, "expires_at", expires)
	return updated, nil
}

// discardCertificate removes an upload whose transition failed. After a lost
// race the winner may have recorded the same key, so the stored location is
// checked before deleting.
func (s *CertificateService) discardCertificate(ctx context.Context, requestID, location string, cause error) {
	if errors.Is(cause, domain.ErrConflict) {
		current, err := s.Requests.GetRequest(ctx, requestID)
		if err != nil || current.CertLocation == location {
			return
		}
	}
	if err := s.Storage.Delete(ctx, location); err != nil {
		s.Logger.WarnContext(ctx, "orphaned_cert_cleanup_failed", "request_id", requestID, "err", err)
	}
}

type FailureInput struct {
	RequestID string
	Detail    string
	Actor     Actor
}

func (s *CertificateService) RecordFailure(ctx context.Context, in FailureInput) (domain.CertificateRequest, error) {
	req, err := s.load(ctx, in.RequestID)
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	if _, err := domain.NextStatus(req.Status, domain.EventFail); err != nil {
		return domain.CertificateRequest{}, err
	}
	entry := s.Audit.Build(domain.AuditIssuanceFailed, in.Actor, req.ID, map[string]any{
		"detail": in.Detail,
	})
	updated, err := s.Requests.ApplyTransition(ctx, domain.Transition{
		RequestID: req.ID,
		Event:     domain.EventFail,
		At:        s.Clock().UTC(),
		Audit:     entry,
	})
	s.Metrics.ObserveTransition(domain.EventFail, transitionResult(err))
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	s.Logger.WarnContext(ctx, "issuance_failed", "request_id", req.ID, "detail", in.Detail)
	return updated, nil
}

// SyncIssuance asks the CA once for the outcome of an APPROVED request and
// records it. A still-pending CA answer leaves the request untouched.
func (s *CertificateService) SyncIssuance(ctx context.Context, requestID string, actor Actor) (domain.CertificateRequest, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return domain.CertificateRequest{}, err
	}
	if req.Status != domain.StatusApproved {
		return domain.CertificateRequest{}, fmt.Errorf("%w: request is %s, not APPROVED", domain.ErrConflict, req.Status)
	}
	if s.CA == nil {
		return domain.CertificateRequest{}, fmt.Errorf("%w: no certificate authority configured", domain.ErrCollaborator)
	}
	outcome, err := s.CA.RetrieveStatus(ctx, *req)
	s.Metrics.ObserveCollaborator("ca", "retrieve_status", err)
	if err != nil {
		return domain.CertificateRequest{}, collaboratorError("retrieve issuance status", err)
	}
	switch outcome.Status {
	case domain.IssuanceIssued:
		return s.RecordIssuance(ctx, IssuanceInput{RequestID: req.ID, CertificatePEM: outcome.CertificatePEM, Actor: actor})
	case domain.IssuanceError:
		return s.RecordFailure(ctx, FailureInput{RequestID: req.ID, Detail: outcome.Detail, Actor: actor})
	default:
		return *req, nil
	}
}

type DownloadOutput struct {
	URL       string
	ExpiresIn time.Duration
}

// Download never mutates the request.
func (s *CertificateService) Download(ctx context.Context, requestID string, kind domain.BlobKind) (DownloadOutput, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return DownloadOutput{}, err
	}
	if req.Status != domain.StatusIssued {
		return DownloadOutput{}, fmt.Errorf("%w: certificate not issued yet", domain.ErrConflict)
	}
	var location string
	switch kind {
	case "", domain.BlobCertificate:
		location = req.CertLocation
	case domain.BlobPrivateKey:
		location = req.KeyLocation
	default:
		return DownloadOutput{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidArgument, kind)
	}
	if location == "" {
		return DownloadOutput{}, fmt.Errorf("%w: no %s stored for request", domain.ErrNotFound, kindOrDefault(kind))
	}
	if s.Storage == nil {
		return DownloadOutput{}, fmt.Errorf("%w: storage not configured", domain.ErrCollaborator)
	}
	url, err := s.Storage.PresignedURL(ctx, location, s.PresignTTL)
	s.Metrics.ObserveCollaborator("storage", "presign", err)
	if err != nil {
		return DownloadOutput{}, collaboratorError("presign download", err)
	}
	return DownloadOutput{URL: url, ExpiresIn: s.PresignTTL}, nil
}

type RevokeInput struct {
	RequestID string
	Reason    string
	Actor     Actor
}

type RevokeOutput struct {
	Request    domain.CertificateRequest
	Revocation domain.Revocation
}

// Revoke only transitions once the CA confirms. A CA failure leaves the
// request ISSUED and records a failure entry.
func (s *CertificateService) Revoke(ctx context.Context, in RevokeInput) (RevokeOutput, error) {
	req, err := s.load(ctx, in.RequestID)
	if err != nil {
		return RevokeOutput{}, err
	}
	if _, err := domain.NextStatus(req.Status, domain.EventRevoke); err != nil {
		s.Metrics.ObserveTransition(domain.EventRevoke, "conflict")
		return RevokeOutput{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	details := map[string]any{"reason": reason}

	var caErr error
	if s.CA == nil {
		caErr = errors.New("no certificate authority configured")
	} else {
		ok, err := s.CA.Revoke(ctx, *req, reason)
		s.Metrics.ObserveCollaborator("ca", "revoke", err)
		switch {
		case err != nil:
			caErr = err
		case !ok:
			caErr = errors.New("certificate authority declined revocation")
		}
	}
	if caErr != nil {
		s.Logger.WarnContext(ctx, "revocation_failed", "request_id", req.ID, "err", caErr)
		if auditErr := s.Audit.EmitFailure(ctx, domain.AuditRevocationFailed, in.Actor, req.ID, details, caErr); auditErr != nil {
			s.Logger.ErrorContext(ctx, "audit_append_failed", "request_id", req.ID, "err", auditErr)
		}
		s.Metrics.ObserveTransition(domain.EventRevoke, "collaborator_failure")
		return RevokeOutput{}, collaboratorError("revoke certificate", caErr)
	}

	now := s.Clock().UTC()
	rev := domain.Revocation{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		UserID:    in.Actor.UserID,
		Reason:    reason,
		RevokedAt: now,
	}
	details["revocation_id"] = rev.ID
	entry := s.Audit.Build(domain.AuditCertificateRevoked, in.Actor, req.ID, details)
	updated, err := s.Requests.ApplyTransition(ctx, domain.Transition{
		RequestID:  req.ID,
		Event:      domain.EventRevoke,
		At:         now,
		Revocation: &rev,
		Audit:      entry,
	})
	s.Metrics.ObserveTransition(domain.EventRevoke, transitionResult(err))
	if err != nil {
		s.Logger.ErrorContext(ctx, "revocation_not_recorded", "request_id", req.ID, "err", err)
		return RevokeOutput{}, err
	}

	if s.refreshCRL(ctx) {
		crlEntry := s.Audit.Build(domain.AuditCRLUpdated, in.Actor, req.ID, map[string]any{
			"revocation_id": rev.ID,
		})
		if err := s.Requests.MarkCRLUpdated(ctx, rev.ID, crlEntry); err != nil {
			s.Logger.WarnContext(ctx, "crl_flag_update_failed", "revocation_id", rev.ID, "err", err)
		} else {
			rev.CRLUpdated = true
		}
	}
	s.Logger.InfoContext(ctx, "certificate_revoked", "request_id", req.ID, "crl_updated", rev.CRLUpdated)
	return RevokeOutput{Request: updated, Revocation: rev}, nil
}

// RefreshRevocationList asks the CA to republish its CRL.
func (s *CertificateService) RefreshRevocationList(ctx context.Context) error {
	if s.CA == nil {
		return fmt.Errorf("%w: no certificate authority configured", domain.ErrCollaborator)
	}
	ok, err := s.CA.RefreshRevocationList(ctx)
	s.Metrics.ObserveCollaborator("ca", "refresh_crl", err)
	if err != nil {
		return collaboratorError("refresh revocation list", err)
	}
	if !ok {
		return fmt.Errorf("%w: certificate authority did not refresh its revocation list", domain.ErrCollaborator)
	}
	return nil
}

func (s *CertificateService) refreshCRL(ctx context.Context) bool {
	if err := s.RefreshRevocationList(ctx); err != nil {
		s.Logger.WarnContext(ctx, "crl_refresh_failed", "err", err)
		return false
	}
	return true
}

func (s *CertificateService) List(ctx context.Context, userID string) ([]domain.CertificateRequest, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidArgument)
	}
	return s.Requests.ListRequests(ctx, domain.RequestFilter{UserID: userID})
}

type RequestView struct {
	Request  domain.CertificateRequest
	Approval *domain.Approval
}

func (s *CertificateService) Get(ctx context.Context, requestID string) (RequestView, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return RequestView{}, err
	}
	approval, err := s.Requests.GetApproval(ctx, req.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return RequestView{}, err
	}
	return RequestView{Request: *req, Approval: approval}, nil
}

func (s *CertificateService) load(ctx context.Context, requestID string) (*domain.CertificateRequest, error) {
	if s == nil || s.Requests == nil {
		return nil, errors.New("request repository required")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrInvalidArgument)
	}
	req, err := s.Requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func collaboratorError(op string, err error) error {
	if errors.Is(err, domain.ErrCollaborator) || errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrCollaborator, op, err)
}

func transitionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func withUser(actor Actor, userID string) Actor {
	if userID != "" {
		actor.UserID = userID
	}
	return actor
}

func normalizeSANs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, san := range in {
		san = strings.TrimSpace(san)
		if san == "" {
			continue
		}
		if _, ok := seen[san]; ok {
			continue
		}
		seen[san] = struct{}{}
		out = append(out, san)
	}
	return out
}

func violationCodes(v []domain.PolicyViolation) string {
	codes := make([]string, 0, len(v))
	for _, item := range v {
		codes = append(codes, item.Code)
	}
	sort.Strings(codes)
	return strings.Join(codes, ",")
}

func parseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("certificate must be a PEM CERTIFICATE block")
	}
	return x509.ParseCertificate(block.Bytes)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func kindOrDefault(kind domain.BlobKind) domain.BlobKind {
	if kind == "" {
		return domain.BlobCertificate
	}
	return kind
}

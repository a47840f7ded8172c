package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"
	"github.com/DebasishTripathy13/CA/internal/usecase"

	"github.com/gin-gonic/gin"
)

type questionsResponse struct {
	Questions []domain.Question `json:"questions"`
}

type evaluateRequest struct {
	UserID    string          `json:"user_id"`
	Responses map[string]bool `json:"responses"`
}

type evaluateResponse struct {
	DecisionID     string `json:"decision_id"`
	Recommendation string `json:"recommendation"`
	Message        string `json:"message"`
	MatchedRule    string `json:"matched_rule"`
}

type decisionResponse struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Responses      map[string]bool `json:"responses"`
	Recommendation string          `json:"recommendation"`
	MatchedRule    string          `json:"matched_rule,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

type createRequestBody struct {
	UserID            string   `json:"user_id"`
	DecisionID        string   `json:"decision_id"`
	CommonName        string   `json:"common_name"`
	SANEntries        []string `json:"san_entries"`
	CSRContent        string   `json:"csr_content"`
	CAType            string   `json:"ca_type"`
	ForcePublicReason string   `json:"force_public_reason"`
}

type createRequestResponse struct {
	RequestID      string                   `json:"request_id"`
	Status         string                   `json:"status"`
	Message        string                   `json:"message"`
	PolicyWarnings []domain.PolicyViolation `json:"policy_warnings,omitempty"`
}

type reviewBody struct {
	ApproverID string `json:"approver_id"`
	Comments   string `json:"comments"`
}

type approveResponse struct {
	Message      string                `json:"message"`
	Status       string                `json:"status"`
	CASubmission *domain.SubmitOutcome `json:"ca_submission,omitempty"`
}

type revokeBody struct {
	Reason string `json:"reason"`
	UserID string `json:"user_id"`
}

type revokeResponse struct {
	Message      string `json:"message"`
	RevocationID string `json:"revocation_id"`
	CRLUpdated   bool   `json:"crl_updated"`
}

type issuanceBody struct {
	Status      string `json:"status"`
	Certificate string `json:"certificate"`
	Detail      string `json:"detail"`
}

type requestSummary struct {
	ID         string  `json:"id"`
	CommonName string  `json:"common_name"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	ExpiresAt  *string `json:"expires_at"`
}

type approvalResponse struct {
	ID         string  `json:"id"`
	ApproverID string  `json:"approver_id,omitempty"`
	Status     string  `json:"status"`
	Comments   string  `json:"comments,omitempty"`
	ApprovedAt *string `json:"approved_at,omitempty"`
}

type requestDetail struct {
	requestSummary
	UserID            string            `json:"user_id"`
	DecisionID        string            `json:"decision_id,omitempty"`
	SANEntries        []string          `json:"san_entries"`
	CSRUploaded       bool              `json:"csr_uploaded"`
	CAType            string            `json:"ca_type"`
	ForcePublicReason string            `json:"force_public_reason,omitempty"`
	CertLocation      string            `json:"cert_location,omitempty"`
	CertSerial        string            `json:"cert_serial,omitempty"`
	CASubmissionRef   string            `json:"ca_submission_ref,omitempty"`
	UpdatedAt         string            `json:"updated_at"`
	Approval          *approvalResponse `json:"approval,omitempty"`
}

type auditResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Action    string         `json:"action"`
	Result    string         `json:"result"`
	Details   map[string]any `json:"details"`
	IPAddress string         `json:"ip_address,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func (s *Server) handleQuestions(c *gin.Context) {
	c.JSON(http.StatusOK, questionsResponse{Questions: domain.Questions()})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	if s.decisions == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "decision service not configured")
		return
	}
	var body evaluateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if len(body.Responses) == 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "responses are required")
		return
	}
	out, err := s.decisions.Evaluate(c.Request.Context(), usecase.EvaluateInput{
		UserID:    body.UserID,
		Responses: domain.ParseAnswerSet(body.Responses),
		Actor:     s.actor(c, body.UserID),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, evaluateResponse{
		DecisionID:     out.Decision.ID,
		Recommendation: string(out.Decision.Recommendation),
		Message:        out.Message,
		MatchedRule:    out.Decision.MatchedRule,
	})
}

// handleReset exists for client compatibility. Decisions are immutable, so
// there is nothing to clear server side.
func (s *Server) handleReset(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Questionnaire reset"})
}

func (s *Server) handleGetDecision(c *gin.Context) {
	if s.decisions == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "decision service not configured")
		return
	}
	rec, err := s.decisions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, decisionResponse{
		ID:             rec.ID,
		UserID:         rec.UserID,
		Responses:      rec.Responses.StringKeys(),
		Recommendation: string(rec.Recommendation),
		MatchedRule:    rec.MatchedRule,
		CreatedAt:      formatTime(rec.CreatedAt),
	})
}

func (s *Server) handleCreateRequest(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	out, err := s.certs.Create(c.Request.Context(), usecase.CreateRequestInput{
		UserID:            body.UserID,
		DecisionID:        body.DecisionID,
		CommonName:        body.CommonName,
		SANEntries:        body.SANEntries,
		CSRContent:        body.CSRContent,
		CAType:            body.CAType,
		ForcePublicReason: body.ForcePublicReason,
		Actor:             s.actor(c, body.UserID),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, createRequestResponse{
		RequestID:      out.Request.ID,
		Status:         string(out.Request.Status),
		Message:        "Certificate request submitted successfully",
		PolicyWarnings: out.Warnings,
	})
}

func (s *Server) handleApprove(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	body, ok := bindReview(c)
	if !ok {
		return
	}
	out, err := s.certs.Approve(c.Request.Context(), usecase.ReviewInput{
		RequestID:  c.Param("id"),
		ApproverID: body.ApproverID,
		Comments:   body.Comments,
		Actor:      s.actor(c, body.ApproverID),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, approveResponse{
		Message:      "Request approved successfully",
		Status:       string(out.Request.Status),
		CASubmission: out.Submission,
	})
}

func (s *Server) handleReject(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	body, ok := bindReview(c)
	if !ok {
		return
	}
	req, err := s.certs.Reject(c.Request.Context(), usecase.ReviewInput{
		RequestID:  c.Param("id"),
		ApproverID: body.ApproverID,
		Comments:   body.Comments,
		Actor:      s.actor(c, body.ApproverID),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Request rejected", "status": string(req.Status)})
}

func (s *Server) handleDownload(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	kind := domain.BlobKind(strings.ToLower(strings.TrimSpace(c.DefaultQuery("kind", string(domain.BlobCertificate)))))
	out, err := s.certs.Download(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"download_url": out.URL,
		"expires_in":   int(out.ExpiresIn / time.Second),
	})
}

func (s *Server) handleRevoke(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	var body revokeBody
	if err := bindOptionalJSON(c, &body); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	out, err := s.certs.Revoke(c.Request.Context(), usecase.RevokeInput{
		RequestID: c.Param("id"),
		Reason:    body.Reason,
		Actor:     s.actor(c, body.UserID),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, revokeResponse{
		Message:      "Certificate revoked successfully",
		RevocationID: out.Revocation.ID,
		CRLUpdated:   out.Revocation.CRLUpdated,
	})
}

func (s *Server) handleList(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	reqs, err := s.certs.List(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]requestSummary, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, buildSummary(req))
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

func (s *Server) handleGetRequest(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	view, err := s.certs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, buildDetail(view))
}

func (s *Server) handleIssuance(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	var body issuanceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	actor := s.actor(c, "")
	var (
		req domain.CertificateRequest
		err error
	)
	switch domain.IssuanceStatus(strings.ToUpper(strings.TrimSpace(body.Status))) {
	case domain.IssuanceIssued:
		req, err = s.certs.RecordIssuance(c.Request.Context(), usecase.IssuanceInput{
			RequestID:      c.Param("id"),
			CertificatePEM: []byte(body.Certificate),
			Actor:          actor,
		})
	case domain.IssuanceError:
		req, err = s.certs.RecordFailure(c.Request.Context(), usecase.FailureInput{
			RequestID: c.Param("id"),
			Detail:    body.Detail,
			Actor:     actor,
		})
	default:
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "status must be ISSUED or ERROR")
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": req.ID, "status": string(req.Status)})
}

func (s *Server) handleSync(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	req, err := s.certs.SyncIssuance(c.Request.Context(), c.Param("id"), s.actor(c, ""))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": req.ID, "status": string(req.Status)})
}

func (s *Server) handleRefreshCRL(c *gin.Context) {
	if !s.requireCerts(c) {
		return
	}
	if err := s.certs.RefreshRevocationList(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Revocation list refreshed"})
}

type crlPublisher interface {
	CRL() []byte
}

func (s *Server) handleCRL(c *gin.Context) {
	publisher, ok := s.ca.(crlPublisher)
	if !ok {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "certificate authority does not publish a revocation list")
		return
	}
	der := publisher.CRL()
	if len(der) == 0 {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "revocation list not generated yet")
		return
	}
	c.Data(http.StatusOK, "application/pkix-crl", der)
}

func (s *Server) handleListAudit(c *gin.Context) {
	if s.audit == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "audit trail not configured")
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	entries, err := s.audit.List(c.Request.Context(), domain.AuditFilter{
		UserID:    c.Query("user_id"),
		RequestID: c.Query("request_id"),
		Limit:     limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			ID:        e.ID,
			UserID:    e.UserID,
			RequestID: e.RequestID,
			Action:    string(e.Action),
			Result:    string(e.Result),
			Details:   e.Details,
			IPAddress: e.IPAddress,
			CreatedAt: formatTime(e.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func (s *Server) requireCerts(c *gin.Context) bool {
	if s.certs == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "certificate service not configured")
		return false
	}
	return true
}

// fail logs server-side failures before mapping the error to a response.
func (s *Server) fail(c *gin.Context, err error) {
	writeError(c, err)
	if status := c.Writer.Status(); status >= 500 {
		s.logger.ErrorContext(c.Request.Context(), "request_failed",
			"p", c.Request.URL.Path,
			"status", status,
			"err", err,
		)
	}
}

func (s *Server) actor(c *gin.Context, userID string) usecase.Actor {
	return usecase.Actor{UserID: strings.TrimSpace(userID), IPAddress: c.ClientIP()}
}

func bindReview(c *gin.Context) (reviewBody, bool) {
	var body reviewBody
	if err := bindOptionalJSON(c, &body); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return body, false
	}
	return body, true
}

// bindOptionalJSON treats an empty body as an empty object, whether or not
// the client sent a Content-Length.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func buildSummary(req domain.CertificateRequest) requestSummary {
	out := requestSummary{
		ID:         req.ID,
		CommonName: req.CommonName,
		Status:     string(req.Status),
		CreatedAt:  formatTime(req.CreatedAt),
	}
	if req.ExpiresAt != nil {
		v := formatTime(*req.ExpiresAt)
		out.ExpiresAt = &v
	}
	return out
}

func buildDetail(view usecase.RequestView) requestDetail {
	req := view.Request
	sans := req.SANEntries
	if sans == nil {
		sans = []string{}
	}
	out := requestDetail{
		requestSummary:    buildSummary(req),
		UserID:            req.UserID,
		DecisionID:        req.DecisionID,
		SANEntries:        sans,
		CSRUploaded:       req.CSRUploaded,
		CAType:            string(req.CAType),
		ForcePublicReason: req.ForcePublicReason,
		CertLocation:      req.CertLocation,
		CertSerial:        req.CertSerial,
		CASubmissionRef:   req.CASubmissionRef,
		UpdatedAt:         formatTime(req.UpdatedAt),
	}
	if a := view.Approval; a != nil {
		approval := &approvalResponse{
			ID:         a.ID,
			ApproverID: a.ApproverID,
			Status:     string(a.Status),
			Comments:   a.Comments,
		}
		if a.ApprovedAt != nil {
			v := formatTime(*a.ApprovedAt)
			approval.ApprovedAt = &v
		}
		out.Approval = approval
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

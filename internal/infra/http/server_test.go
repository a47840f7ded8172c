package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/DebasishTripathy13/CA/internal/config"
	"github.com/DebasishTripathy13/CA/internal/domain"
	"github.com/DebasishTripathy13/CA/internal/infra/localca"
	"github.com/DebasishTripathy13/CA/internal/infra/memstore"
	"github.com/DebasishTripathy13/CA/internal/infra/metrics"
	"github.com/DebasishTripathy13/CA/internal/infra/pki"
	"github.com/DebasishTripathy13/CA/internal/infra/policyopa"
	"github.com/DebasishTripathy13/CA/internal/infra/ratelimit"
	"github.com/DebasishTripathy13/CA/internal/usecase"

	"github.com/gin-gonic/gin"
)

type testEnv struct {
	server *Server
	store  *memstore.Store
	blobs  *memstore.BlobStore
}

type envOption func(*config.Config, *ServerDeps, *usecase.CertificateDeps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	store := memstore.New()
	blobs := memstore.NewBlobStore()
	ca, err := localca.New(localca.Config{})
	if err != nil {
		t.Fatalf("local ca: %v", err)
	}
	policy, err := policyopa.NewEngine(context.Background(), "")
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}
	reg := metrics.New()
	audit := usecase.NewAuditEmitter(store, nil)

	cfg := config.Config{HTTPAddr: ":0", RateLimitWindowSeconds: 60}
	certDeps := usecase.CertificateDeps{
		Requests:  store,
		Decisions: store,
		Audit:     audit,
		Storage:   blobs,
		CA:        ca,
		Keys:      pki.Generator{},
		CSRs:      pki.CSRValidator{},
		Policy:    policy,
		Metrics:   reg,
		Logger:    logger,
	}
	deps := ServerDeps{
		Audit:   audit,
		CA:      ca,
		Metrics: reg,
		Logger:  logger,
	}
	for _, opt := range opts {
		opt(&cfg, &deps, &certDeps)
	}
	decisions := usecase.NewDecisionService(store, audit, logger)
	decisions.Metrics = reg
	deps.Decisions = decisions
	deps.Certificates = usecase.NewCertificateService(certDeps)
	return &testEnv{server: NewServerWithDeps(cfg, deps), store: store, blobs: blobs}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.serve(req)
}

// doChunkedEmpty sends an empty body without a Content-Length, as chunked
// clients do.
func (e *testEnv) doChunkedEmpty(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Content-Type", "application/json")
	req.Body = io.NopCloser(strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	return e.serve(req)
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = "192.0.2.10:4321"
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e *testEnv) createRequest(t *testing.T, caType string) string {
	t.Helper()
	name, san := "svc.corp", "api.corp"
	if caType == "PUBLIC" {
		name, san = "www.example.com", "api.example.com"
	}
	rec := e.do(t, http.MethodPost, "/api/certificates/request", map[string]any{
		"user_id":     "alice",
		"common_name": name,
		"san_entries": []string{san},
		"ca_type":     caType,
	})
	expectStatus(t, rec, http.StatusCreated)
	body := decode(t, rec)
	if body["status"] != "PENDING" || body["message"] != "Certificate request submitted successfully" {
		t.Fatalf("unexpected create response %v", body)
	}
	return body["request_id"].(string)
}

func (e *testEnv) auditActions(t *testing.T, requestID string) []string {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/audit?request_id="+requestID, nil)
	expectStatus(t, rec, http.StatusOK)
	var actions []string
	for _, entry := range decode(t, rec)["entries"].([]any) {
		actions = append(actions, entry.(map[string]any)["action"].(string))
	}
	return actions
}

func TestQuestionsAndHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/decision/questions", nil)
	expectStatus(t, rec, http.StatusOK)
	var qs questionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &qs); err != nil {
		t.Fatalf("decode questions: %v", err)
	}
	if len(qs.Questions) != domain.QuestionCount || qs.Questions[0].ID != 1 {
		t.Fatalf("unexpected questions %+v", qs.Questions)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/health", nil), http.StatusOK)
	rec = env.do(t, http.MethodGet, "/healthz", nil)
	if mode := decode(t, rec)["mode"]; mode != "no-db" {
		t.Fatalf("expected no-db mode, got %v", mode)
	}

	rec = env.do(t, http.MethodGet, "/nope", nil)
	expectStatus(t, rec, http.StatusNotFound)
	if code := decode(t, rec)["code"]; code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND code, got %v", code)
	}
}

func TestEvaluate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/decision/evaluate", map[string]any{
		"user_id":   "alice",
		"responses": map[string]bool{"1": true, "2": true, "3": true},
	})
	expectStatus(t, rec, http.StatusOK)
	body := decode(t, rec)
	if body["recommendation"] != "PUBLIC_CA" || body["decision_id"] == "" || body["message"] == "" {
		t.Fatalf("unexpected evaluation %v", body)
	}

	got := env.do(t, http.MethodGet, "/api/decision/"+body["decision_id"].(string), nil)
	expectStatus(t, got, http.StatusOK)
	if user := decode(t, got)["user_id"]; user != "alice" {
		t.Fatalf("expected alice, got %v", user)
	}

	entries, err := env.store.List(context.Background(), domain.AuditFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != domain.AuditDecisionEvaluation || entries[0].IPAddress != "192.0.2.10" {
		t.Fatalf("unexpected audit %+v", entries)
	}

	for name, payload := range map[string]any{
		"missing user":      map[string]any{"responses": map[string]bool{"1": true}},
		"missing responses": map[string]any{"user_id": "alice"},
		"empty responses":   map[string]any{"user_id": "alice", "responses": map[string]bool{}},
	} {
		if rec := env.do(t, http.MethodPost, "/api/decision/evaluate", payload); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/decision/reset", nil), http.StatusOK)
}

func TestEvaluate_UnrecognisedKeysFallBack(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/decision/evaluate", map[string]any{
		"user_id":   "alice",
		"responses": map[string]bool{"foo": true},
	})
	expectStatus(t, rec, http.StatusOK)
	body := decode(t, rec)
	if body["recommendation"] != "PUBLIC_WITH_JUSTIFICATION" {
		t.Fatalf("expected fallback recommendation, got %v", body)
	}
	if body["matched_rule"] != usecase.RuleFallback {
		t.Fatalf("expected fallback rule, got %v", body["matched_rule"])
	}
}

func TestInternalLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.createRequest(t, "INTERNAL")

	expectStatus(t, env.do(t, http.MethodGet, "/api/certificates/download/"+id, nil), http.StatusConflict)

	rec := env.do(t, http.MethodPost, "/api/certificates/approve/"+id, map[string]any{"approver_id": "bob", "comments": "ok"})
	expectStatus(t, rec, http.StatusOK)
	body := decode(t, rec)
	if body["message"] != "Request approved successfully" {
		t.Fatalf("unexpected approve message %v", body["message"])
	}
	if status := body["ca_submission"].(map[string]any)["status"]; status != "SUCCESS" {
		t.Fatalf("expected successful submission, got %v", status)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/certificates/reject/"+id, nil), http.StatusConflict)

	rec = env.do(t, http.MethodPost, "/api/certificates/sync/"+id, nil)
	expectStatus(t, rec, http.StatusOK)
	if status := decode(t, rec)["status"]; status != "ISSUED" {
		t.Fatalf("expected ISSUED, got %v", status)
	}

	rec = env.do(t, http.MethodGet, "/api/certificates/download/"+id, nil)
	expectStatus(t, rec, http.StatusOK)
	body = decode(t, rec)
	if !strings.Contains(body["download_url"].(string), id) || body["expires_in"] != float64(3600) {
		t.Fatalf("unexpected download %v", body)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/certificates/download/"+id+"?kind=key", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/certificates/download/"+id+"?kind=chain", nil), http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/certificates/revoke/"+id, map[string]any{"reason": "keyCompromise", "user_id": "alice"})
	expectStatus(t, rec, http.StatusOK)
	body = decode(t, rec)
	if body["message"] != "Certificate revoked successfully" || body["crl_updated"] != true {
		t.Fatalf("unexpected revoke response %v", body)
	}

	rec = env.do(t, http.MethodGet, "/api/certificates/crl", nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "application/pkix-crl" {
		t.Fatalf("unexpected crl content type %q", ct)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/certificates/revoke/"+id, map[string]any{"reason": "again"}), http.StatusConflict)

	rec = env.do(t, http.MethodGet, "/api/certificates/requests/"+id, nil)
	expectStatus(t, rec, http.StatusOK)
	detail := decode(t, rec)
	if detail["status"] != "REVOKED" || detail["approval"].(map[string]any)["status"] != "APPROVED" {
		t.Fatalf("unexpected detail %v", detail)
	}
	if serial, _ := detail["cert_serial"].(string); serial == "" || detail["ca_submission_ref"] != serial {
		t.Fatalf("expected serial and submission reference in detail, got %v", detail)
	}

	want := []string{"REQUEST_CREATED", "REQUEST_APPROVED", "CA_SUBMISSION", "CERTIFICATE_ISSUED", "CERTIFICATE_REVOKED", "CRL_UPDATED"}
	if got := env.auditActions(t, id); !slices.Equal(got, want) {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
}

func TestReviewAndRevoke_EmptyChunkedBody(t *testing.T) {
	env := newTestEnv(t)
	id := env.createRequest(t, "INTERNAL")

	rec := env.doChunkedEmpty(http.MethodPost, "/api/certificates/approve/"+id)
	expectStatus(t, rec, http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/api/certificates/sync/"+id, nil), http.StatusOK)

	rec = env.doChunkedEmpty(http.MethodPost, "/api/certificates/revoke/"+id)
	expectStatus(t, rec, http.StatusOK)
	if status := decode(t, rec)["status"]; status != "REVOKED" {
		t.Fatalf("expected REVOKED, got %v", status)
	}

	other := env.createRequest(t, "PUBLIC")
	expectStatus(t, env.doChunkedEmpty(http.MethodPost, "/api/certificates/reject/"+other), http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/api/certificates/approve/"+env.createRequest(t, "PUBLIC"), strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	expectStatus(t, env.serve(req), http.StatusBadRequest)
}

func TestRejectDefaultsComment(t *testing.T) {
	env := newTestEnv(t)
	id := env.createRequest(t, "PUBLIC")

	rec := env.do(t, http.MethodPost, "/api/certificates/reject/"+id, map[string]any{"approver_id": "bob"})
	expectStatus(t, rec, http.StatusOK)
	if msg := decode(t, rec)["message"]; msg != "Request rejected" {
		t.Fatalf("unexpected message %v", msg)
	}

	approval, err := env.store.GetApproval(context.Background(), id)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if approval.Status != domain.ApprovalRejected || approval.Comments != "Request rejected" {
		t.Fatalf("unexpected approval %+v", approval)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/certificates/approve/"+id, nil), http.StatusConflict)
}

func TestCreateRequest_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/certificates/request", map[string]any{
		"user_id": "alice", "common_name": "svc.corp", "ca_type": "BOGUS",
	})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/certificates/request", map[string]any{
		"user_id": "alice", "common_name": "db.internal", "ca_type": "PUBLIC",
	})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	if code := decode(t, rec)["code"]; code != "POLICY_DENIED" {
		t.Fatalf("expected POLICY_DENIED, got %v", code)
	}

	rec = env.do(t, http.MethodPost, "/api/certificates/request", map[string]any{
		"user_id": "alice", "common_name": "svc.corp", "ca_type": "INTERNAL", "csr_content": "garbage",
	})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/certificates/request", map[string]any{
		"user_id": "alice", "common_name": "svc.corp", "ca_type": "INTERNAL", "decision_id": "missing",
	})
	expectStatus(t, rec, http.StatusNotFound)

	reqs, err := env.store.ListRequests(context.Background(), domain.RequestFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("failed creates left %d requests behind", len(reqs))
	}
}

func TestList(t *testing.T) {
	env := newTestEnv(t)
	first := env.createRequest(t, "INTERNAL")
	second := env.createRequest(t, "PUBLIC")

	expectStatus(t, env.do(t, http.MethodGet, "/api/certificates/list", nil), http.StatusBadRequest)

	rec := env.do(t, http.MethodGet, "/api/certificates/list?user_id=alice", nil)
	expectStatus(t, rec, http.StatusOK)
	items := decode(t, rec)["requests"].([]any)
	var ids []string
	for _, item := range items {
		ids = append(ids, item.(map[string]any)["id"].(string))
	}
	slices.Sort(ids)
	want := []string{first, second}
	slices.Sort(want)
	if !slices.Equal(ids, want) {
		t.Fatalf("listed ids = %v, want %v", ids, want)
	}

	rec = env.do(t, http.MethodGet, "/api/certificates/list?user_id=nobody", nil)
	expectStatus(t, rec, http.StatusOK)
	if items, _ := decode(t, rec)["requests"].([]any); len(items) != 0 {
		t.Fatalf("expected no requests, got %v", items)
	}
}

type failingCA struct {
	localCA domain.CertificateAuthority
}

func (f failingCA) Submit(ctx context.Context, req domain.CertificateRequest) (domain.SubmitOutcome, error) {
	return f.localCA.Submit(ctx, req)
}

func (f failingCA) RetrieveStatus(ctx context.Context, req domain.CertificateRequest) (domain.StatusOutcome, error) {
	return f.localCA.RetrieveStatus(ctx, req)
}

func (failingCA) Revoke(context.Context, domain.CertificateRequest, string) (bool, error) {
	return false, errors.New("ca unreachable")
}

func (failingCA) RefreshRevocationList(context.Context) (bool, error) {
	return false, errors.New("ca unreachable")
}

func TestRevoke_CollaboratorFailureKeepsIssued(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *ServerDeps, certs *usecase.CertificateDeps) {
		certs.CA = failingCA{localCA: certs.CA}
		deps.CA = certs.CA
	})
	id := env.createRequest(t, "INTERNAL")
	expectStatus(t, env.do(t, http.MethodPost, "/api/certificates/approve/"+id, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/api/certificates/sync/"+id, nil), http.StatusOK)

	rec := env.do(t, http.MethodPost, "/api/certificates/revoke/"+id, map[string]any{"reason": "superseded"})
	expectStatus(t, rec, http.StatusBadGateway)
	if code := decode(t, rec)["code"]; code != "COLLABORATOR_FAILURE" {
		t.Fatalf("expected COLLABORATOR_FAILURE, got %v", code)
	}

	req, err := env.store.GetRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if req.Status != domain.StatusIssued {
		t.Fatalf("expected ISSUED, got %s", req.Status)
	}

	entries, err := env.store.List(context.Background(), domain.AuditFilter{RequestID: id})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Action != domain.AuditRevocationFailed || last.Result != domain.AuditResultFailure {
		t.Fatalf("unexpected last audit entry %+v", last)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/certificates/crl", nil), http.StatusNotFound)
}

func TestIssuanceCallback(t *testing.T) {
	env := newTestEnv(t)
	id := env.createRequest(t, "PUBLIC")

	rec := env.do(t, http.MethodPost, "/api/certificates/issuance/"+id, map[string]any{"status": "ERROR", "detail": "x"})
	expectStatus(t, rec, http.StatusConflict)

	expectStatus(t, env.do(t, http.MethodPost, "/api/certificates/approve/"+id, nil), http.StatusOK)
	rec = env.do(t, http.MethodPost, "/api/certificates/issuance/"+id, map[string]any{"status": "MAYBE"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/certificates/issuance/"+id, map[string]any{"status": "ISSUED", "certificate": "not pem"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/api/certificates/issuance/"+id, map[string]any{"status": "ERROR", "detail": "ca said no"})
	expectStatus(t, rec, http.StatusOK)
	if status := decode(t, rec)["status"]; status != "ERROR" {
		t.Fatalf("expected ERROR, got %v", status)
	}
}

func TestAuditListRequiresFilter(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodGet, "/api/audit", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/api/audit?user_id=alice&limit=x", nil), http.StatusBadRequest)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, deps *ServerDeps, _ *usecase.CertificateDeps) {
		cfg.RateLimitRequests = 2
		deps.RateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{})
	})
	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/api/decision/questions", nil)
		expectStatus(t, rec, http.StatusOK)
		if limit := rec.Header().Get("RateLimit-Limit"); limit != "2" {
			t.Fatalf("expected RateLimit-Limit 2, got %q", limit)
		}
	}
	rec := env.do(t, http.MethodGet, "/api/decision/questions", nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if code := decode(t, rec)["code"]; code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %v", code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// ops endpoints are not limited
	expectStatus(t, env.do(t, http.MethodGet, "/health", nil), http.StatusOK)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{}, errors.New("redis down")
}

func TestRateLimit_FailClosed(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, deps *ServerDeps, _ *usecase.CertificateDeps) {
		cfg.RateLimitRequests = 5
		cfg.RateLimitFailClosed = true
		deps.RateLimiter = brokenLimiter{}
	})
	rec := env.do(t, http.MethodGet, "/api/decision/questions", nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if code := decode(t, rec)["code"]; code != "RATE_LIMIT_UNAVAILABLE" {
		t.Fatalf("expected RATE_LIMIT_UNAVAILABLE, got %v", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/decision/questions", nil)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, rec, http.StatusOK)
	want := `certassist_http_requests_total{method="GET",route="/api/decision/questions",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics output missing %s", want)
	}
}

type pingErr struct{}

func (pingErr) Ping(context.Context) error { return errors.New("down") }

func TestHealthz_DatabaseDown(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *ServerDeps, _ *usecase.CertificateDeps) {
		deps.Database = pingErr{}
	})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	expectStatus(t, rec, http.StatusServiceUnavailable)
	if mode := decode(t, rec)["mode"]; mode != "db" {
		t.Fatalf("expected db mode, got %v", mode)
	}
}

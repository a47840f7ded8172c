package memstore

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedRequest(t *testing.T, s *Store, id string) domain.CertificateRequest {
	t.Helper()
	req := domain.CertificateRequest{
		ID:         id,
		UserID:     "alice",
		CommonName: "svc.corp.example",
		SANEntries: []string{"alt.corp.example"},
		CAType:     domain.CATypeInternal,
		Status:     domain.StatusPending,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	approval := domain.Approval{ID: "appr-" + id, RequestID: id, Status: domain.ApprovalPending, CreatedAt: testNow}
	audit := domain.AuditEntry{ID: "audit-" + id, UserID: "alice", RequestID: id, Action: domain.AuditRequestCreated}
	if err := s.CreateRequest(context.Background(), req, approval, audit); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func reviewTransition(id string, event domain.LifecycleEvent) domain.Transition {
	status := domain.ApprovalApproved
	action := domain.AuditRequestApproved
	if event == domain.EventReject {
		status = domain.ApprovalRejected
		action = domain.AuditRequestRejected
	}
	return domain.Transition{
		RequestID: id,
		Event:     event,
		At:        testNow.Add(time.Minute),
		Approval:  &domain.ApprovalUpdate{Status: status, ApproverID: "carol"},
		Audit:     domain.AuditEntry{ID: "audit-" + string(event), RequestID: id, Action: action},
	}
}

func auditActions(t *testing.T, s *Store, requestID string) []domain.AuditAction {
	t.Helper()
	entries, err := s.List(context.Background(), domain.AuditFilter{RequestID: requestID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	actions := make([]domain.AuditAction, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func TestStore_CreateRequestRejectsMismatchedApproval(t *testing.T) {
	s := New()
	err := s.CreateRequest(context.Background(),
		domain.CertificateRequest{ID: "r1"},
		domain.Approval{ID: "a1", RequestID: "other"},
		domain.AuditEntry{ID: "e1"})
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}

	if _, err := s.GetRequest(context.Background(), "r1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if actions := auditActions(t, s, ""); len(actions) != 0 {
		t.Fatalf("expected no audit entries, got %v", actions)
	}
}

func TestStore_ApplyTransition(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, "r1")

	updated, err := s.ApplyTransition(ctx, reviewTransition("r1", domain.EventApprove))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if updated.Status != domain.StatusApproved || !updated.UpdatedAt.Equal(testNow.Add(time.Minute)) {
		t.Fatalf("unexpected request after approve: %+v", updated)
	}

	approval, err := s.GetApproval(ctx, "r1")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if approval.Status != domain.ApprovalApproved || approval.ApproverID != "carol" {
		t.Fatalf("unexpected approval %+v", approval)
	}

	if _, err := s.ApplyTransition(ctx, reviewTransition("r1", domain.EventReject)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	expires := testNow.Add(24 * time.Hour)
	issued, err := s.ApplyTransition(ctx, domain.Transition{
		RequestID:    "r1",
		Event:        domain.EventIssue,
		At:           testNow.Add(2 * time.Minute),
		CertLocation: "certificates/r1/cert-1f.pem",
		CertSerial:   "1f",
		ExpiresAt:    &expires,
		Audit:        domain.AuditEntry{ID: "audit-issue", RequestID: "r1", Action: domain.AuditCertificateIssued},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Status != domain.StatusIssued || issued.ExpiresAt == nil || !issued.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected request after issue: %+v", issued)
	}
	if issued.CertSerial != "1f" || issued.CertLocation != "certificates/r1/cert-1f.pem" {
		t.Fatalf("certificate fields not stored: %+v", issued)
	}

	rev := domain.Revocation{ID: "rev-1", RequestID: "r1", Reason: "superseded", RevokedAt: testNow}
	revoked, err := s.ApplyTransition(ctx, domain.Transition{
		RequestID:  "r1",
		Event:      domain.EventRevoke,
		At:         testNow.Add(3 * time.Minute),
		Revocation: &rev,
		Audit:      domain.AuditEntry{ID: "audit-revoke", RequestID: "r1", Action: domain.AuditCertificateRevoked},
	})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != domain.StatusRevoked {
		t.Fatalf("expected REVOKED, got %s", revoked.Status)
	}

	crlEntry := domain.AuditEntry{ID: "audit-crl", RequestID: "r1", Action: domain.AuditCRLUpdated}
	if err := s.MarkCRLUpdated(ctx, "rev-1", crlEntry); err != nil {
		t.Fatalf("mark crl updated: %v", err)
	}
	revs := s.Revocations("r1")
	if len(revs) != 1 || !revs[0].CRLUpdated {
		t.Fatalf("unexpected revocations %+v", revs)
	}
	if err := s.MarkCRLUpdated(ctx, "missing", crlEntry); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	want := []domain.AuditAction{
		domain.AuditRequestCreated,
		domain.AuditRequestApproved,
		domain.AuditCertificateIssued,
		domain.AuditCertificateRevoked,
		domain.AuditCRLUpdated,
	}
	if got := auditActions(t, s, "r1"); !slices.Equal(got, want) {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
}

func TestStore_RecordSubmission(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, "r1")

	entry := domain.AuditEntry{ID: "audit-submit", RequestID: "r1", Action: domain.AuditCASubmission}
	if err := s.RecordSubmission(ctx, "r1", "42", entry); err != nil {
		t.Fatalf("record submission: %v", err)
	}
	req, err := s.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if req.CASubmissionRef != "42" {
		t.Fatalf("expected reference 42, got %q", req.CASubmissionRef)
	}
	if got := auditActions(t, s, "r1"); !slices.Equal(got, []domain.AuditAction{domain.AuditRequestCreated, domain.AuditCASubmission}) {
		t.Fatalf("unexpected audit actions %v", got)
	}
	if err := s.RecordSubmission(ctx, "missing", "1", entry); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStore_MissingApprovalLeavesRequestUntouched(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, "r1")
	s.mu.Lock()
	delete(s.approvals, "r1")
	s.mu.Unlock()

	if _, err := s.ApplyTransition(ctx, reviewTransition("r1", domain.EventApprove)); !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}

	req, err := s.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if req.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", req.Status)
	}
	if got := auditActions(t, s, "r1"); len(got) != 1 {
		t.Fatalf("expected only the creation entry, got %v", got)
	}
}

func TestStore_ConcurrentReviewSingleWinner(t *testing.T) {
	s := New()
	seedRequest(t, s, "r1")

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		event := domain.EventApprove
		if i%2 == 1 {
			event = domain.EventReject
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyTransition(context.Background(), reviewTransition("r1", event))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if got := auditActions(t, s, "r1"); len(got) != 2 {
		t.Fatalf("expected two audit entries, got %v", got)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, "r1")

	req, err := s.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	req.SANEntries[0] = "tampered"
	req.Status = domain.StatusRevoked

	again, err := s.GetRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if again.SANEntries[0] != "alt.corp.example" || again.Status != domain.StatusPending {
		t.Fatalf("stored request mutated through copy: %+v", again)
	}

	rec := domain.DecisionRecord{ID: "d1", UserID: "alice", Responses: domain.AnswerSet{1: true}}
	if err := s.CreateDecision(ctx, rec, domain.AuditEntry{ID: "e-d1", UserID: "alice"}); err != nil {
		t.Fatalf("create decision: %v", err)
	}
	got, err := s.GetDecision(ctx, "d1")
	if err != nil {
		t.Fatalf("get decision: %v", err)
	}
	got.Responses[1] = false
	got, _ = s.GetDecision(ctx, "d1")
	if !got.Responses[1] {
		t.Fatal("stored decision mutated through copy")
	}
	if err := s.CreateDecision(ctx, domain.DecisionRecord{ID: "d1"}, domain.AuditEntry{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on duplicate decision, got %v", err)
	}

	if err := s.Append(ctx, domain.AuditEntry{ID: "x", UserID: "bob", Details: map[string]any{"k": "v"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, _ := s.List(ctx, domain.AuditFilter{UserID: "bob"})
	entries[0].Details["k"] = "changed"
	entries, _ = s.List(ctx, domain.AuditFilter{UserID: "bob"})
	if entries[0].Details["k"] != "v" {
		t.Fatal("stored audit details mutated through copy")
	}
}

func TestStore_ListRequestsAndAuditLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, "b")
	seedRequest(t, s, "a")

	list, err := s.ListRequests(ctx, domain.RequestFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" {
		t.Fatalf("unexpected order %+v", list)
	}

	list, err = s.ListRequests(ctx, domain.RequestFilter{UserID: "alice", Status: domain.StatusIssued})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no issued requests, got %d", len(list))
	}

	entries, err := s.List(ctx, domain.AuditFilter{UserID: "alice", Limit: 1})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].RequestID != "b" {
		t.Fatalf("unexpected limited audit %+v", entries)
	}
}

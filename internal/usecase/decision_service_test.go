package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/DebasishTripathy13/CA/internal/domain"
	"github.com/DebasishTripathy13/CA/internal/infra/memstore"
)

type failingDecisionRepo struct{}

func (failingDecisionRepo) CreateDecision(context.Context, domain.DecisionRecord, domain.AuditEntry) error {
	return errors.New("insert failed")
}

func (failingDecisionRepo) GetDecision(context.Context, string) (*domain.DecisionRecord, error) {
	return nil, domain.ErrNotFound
}

func TestDecisionService_EvaluatePersistsRecordAndAudit(t *testing.T) {
	store := memstore.New()
	svc := NewDecisionService(store, NewAuditEmitter(store, fixedClock), nil)
	svc.Clock = fixedClock

	out, err := svc.Evaluate(context.Background(), EvaluateInput{
		UserID:    " alice ",
		Responses: domain.AnswerSet{7: true, 42: true},
		Actor:     Actor{IPAddress: "10.0.0.9"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Decision.Recommendation != domain.RecommendInternalCA {
		t.Fatalf("expected INTERNAL_CA, got %s", out.Decision.Recommendation)
	}
	if out.Message != domain.RecommendationMessage(domain.RecommendInternalCA) {
		t.Fatalf("unexpected message %q", out.Message)
	}
	if _, ok := out.Decision.Responses[42]; ok {
		t.Fatal("unknown question ids should not be stored")
	}

	stored, err := store.GetDecision(context.Background(), out.Decision.ID)
	if err != nil {
		t.Fatalf("get decision: %v", err)
	}
	if stored.UserID != "alice" || stored.MatchedRule != out.Decision.MatchedRule {
		t.Fatalf("unexpected stored record %+v", stored)
	}
	entries, _ := store.List(context.Background(), domain.AuditFilter{UserID: "alice"})
	if len(entries) != 1 || entries[0].Action != domain.AuditDecisionEvaluation {
		t.Fatalf("expected one DECISION_EVALUATION entry, got %+v", entries)
	}
	if entries[0].IPAddress != "10.0.0.9" || entries[0].Details["decision_id"] != out.Decision.ID {
		t.Fatalf("unexpected audit entry %+v", entries[0])
	}
}

func TestDecisionService_ReevaluationCreatesNewRecord(t *testing.T) {
	store := memstore.New()
	svc := NewDecisionService(store, NewAuditEmitter(store, nil), nil)
	in := EvaluateInput{UserID: "alice", Responses: domain.AnswerSet{5: true}}
	first, err := svc.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	second, err := svc.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("evaluate again: %v", err)
	}
	if first.Decision.ID == second.Decision.ID {
		t.Fatal("expected a new decision record per evaluation")
	}
}

func TestDecisionService_Validation(t *testing.T) {
	store := memstore.New()
	svc := NewDecisionService(store, NewAuditEmitter(store, nil), nil)
	if _, err := svc.Evaluate(context.Background(), EvaluateInput{Responses: domain.AnswerSet{1: true}}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing user, got %v", err)
	}
	if _, err := svc.Evaluate(context.Background(), EvaluateInput{UserID: "alice"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing responses, got %v", err)
	}
	if _, err := svc.Get(context.Background(), ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty id, got %v", err)
	}
	entries, _ := store.List(context.Background(), domain.AuditFilter{UserID: "alice"})
	if len(entries) != 0 {
		t.Fatal("rejected input must not be audited")
	}
}

func TestDecisionService_UnrecognisedAnswersFallBack(t *testing.T) {
	store := memstore.New()
	svc := NewDecisionService(store, NewAuditEmitter(store, nil), nil)
	out, err := svc.Evaluate(context.Background(), EvaluateInput{
		UserID:    "alice",
		Responses: domain.ParseAnswerSet(map[string]bool{"foo": true}),
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Decision.Recommendation != domain.RecommendPublicWithJustification || out.Decision.MatchedRule != RuleFallback {
		t.Fatalf("unexpected decision %+v", out.Decision)
	}
}

func TestDecisionService_StoreFailure(t *testing.T) {
	svc := NewDecisionService(failingDecisionRepo{}, NewAuditEmitter(nil, nil), nil)
	if _, err := svc.Evaluate(context.Background(), EvaluateInput{UserID: "alice", Responses: domain.AnswerSet{1: true}}); err == nil {
		t.Fatal("expected store failure to surface")
	}
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/google/uuid"
)

type DecisionService struct {
	Engine    *DecisionEngine
	Decisions DecisionRepository
	Audit     *AuditEmitter
	Metrics   Metrics
	Logger    *slog.Logger
	Clock     Clock
}

func NewDecisionService(decisions DecisionRepository, audit *AuditEmitter, logger *slog.Logger) *DecisionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionService{
		Engine:    NewDecisionEngine(),
		Decisions: decisions,
		Audit:     audit,
		Metrics:   noopMetrics{},
		Logger:    logger,
		Clock:     time.Now,
	}
}

type EvaluateInput struct {
	UserID    string
	Responses domain.AnswerSet
	Actor     Actor
}

type EvaluateOutput struct {
	Decision domain.DecisionRecord
	Message  string
}

// Evaluate runs the questionnaire rules and stores an immutable decision
// record. Re-evaluating always creates a new record.
func (s *DecisionService) Evaluate(ctx context.Context, in EvaluateInput) (EvaluateOutput, error) {
	if s == nil || s.Decisions == nil {
		return EvaluateOutput{}, errors.New("decision repository required")
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return EvaluateOutput{}, fmt.Errorf("%w: user_id is required", domain.ErrInvalidArgument)
	}
	// Unknown question ids parse to an empty set, which still evaluates.
	if in.Responses == nil {
		return EvaluateOutput{}, fmt.Errorf("%w: responses are required", domain.ErrInvalidArgument)
	}

	result := s.Engine.Evaluate(in.Responses)
	rec := domain.DecisionRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		Responses:      in.Responses.Known(),
		Recommendation: result.Recommendation,
		MatchedRule:    result.MatchedRule,
		CreatedAt:      s.now().UTC(),
	}
	actor := in.Actor
	actor.UserID = userID
	entry := s.Audit.Build(domain.AuditDecisionEvaluation, actor, "", map[string]any{
		"decision_id":    rec.ID,
		"responses":      rec.Responses.StringKeys(),
		"recommendation": string(rec.Recommendation),
		"matched_rule":   rec.MatchedRule,
		"engine_version": result.EngineVersion,
	})
	if err := s.Decisions.CreateDecision(ctx, rec, entry); err != nil {
		return EvaluateOutput{}, fmt.Errorf("store decision: %w", err)
	}
	s.metrics().ObserveDecision(rec.Recommendation)
	s.Logger.InfoContext(ctx, "decision_evaluated",
		"decision_id", rec.ID,
		"user_id", userID,
		"recommendation", rec.Recommendation,
		"rule", rec.MatchedRule,
	)
	return EvaluateOutput{
		Decision: rec,
		Message:  domain.RecommendationMessage(rec.Recommendation),
	}, nil
}

func (s *DecisionService) Get(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: decision id is required", domain.ErrInvalidArgument)
	}
	return s.Decisions.GetDecision(ctx, id)
}

func (s *DecisionService) metrics() Metrics {
	if s.Metrics == nil {
		return noopMetrics{}
	}
	return s.Metrics
}

func (s *DecisionService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

package usecase

import "github.com/DebasishTripathy13/CA/internal/domain"

const DecisionEngineVersion = "decision.v1"

// DecisionRule is one guard of the questionnaire evaluator.
type DecisionRule struct {
	Name   string
	Match  func(domain.AnswerSet) bool
	Result domain.Recommendation
}

type DecisionResult struct {
	EngineVersion  string
	Recommendation domain.Recommendation
	MatchedRule    string
	YesCount       int
}

const RuleFallback = "fallback_public_with_justification"

// DecisionRules are evaluated top to bottom and the first match wins.
// Reordering them changes outcomes for overlapping answer sets.
var DecisionRules = []DecisionRule{
	{
		Name: "public_facing_external_trusted",
		Match: func(a domain.AnswerSet) bool {
			return a.Yes(1) && a.Yes(2) && a.Yes(3)
		},
		Result: domain.RecommendPublicCA,
	},
	{
		Name: "compliance_or_audit_mandate",
		Match: func(a domain.AnswerSet) bool {
			return a.Yes(4) || a.Yes(10)
		},
		Result: domain.RecommendPublicCA,
	},
	{
		Name: "distributed_to_clients",
		Match: func(a domain.AnswerSet) bool {
			return a.Yes(5)
		},
		Result: domain.RecommendPublicCA,
	},
	{
		Name: "internal_pki_minimal_public_needs",
		Match: func(a domain.AnswerSet) bool {
			return a.Yes(7) && a.YesCount() <= 3
		},
		Result: domain.RecommendInternalCA,
	},
}

type DecisionEngine struct {
	Rules []DecisionRule
}

func NewDecisionEngine() *DecisionEngine {
	return &DecisionEngine{Rules: DecisionRules}
}

// Evaluate is pure: unknown question ids are ignored and missing ones read
// as false.
func (e *DecisionEngine) Evaluate(answers domain.AnswerSet) DecisionResult {
	rules := DecisionRules
	if e != nil && e.Rules != nil {
		rules = e.Rules
	}
	known := answers.Known()
	result := DecisionResult{
		EngineVersion:  DecisionEngineVersion,
		Recommendation: domain.RecommendPublicWithJustification,
		MatchedRule:    RuleFallback,
		YesCount:       known.YesCount(),
	}
	for _, rule := range rules {
		if rule.Match(known) {
			result.Recommendation = rule.Result
			result.MatchedRule = rule.Name
			return result
		}
	}
	return result
}

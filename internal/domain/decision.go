package domain

import (
	"strconv"
	"strings"
	"time"
)

type Recommendation string

const (
	RecommendPublicCA                Recommendation = "PUBLIC_CA"
	RecommendInternalCA              Recommendation = "INTERNAL_CA"
	RecommendPublicWithJustification Recommendation = "PUBLIC_WITH_JUSTIFICATION"
)

const QuestionCount = 10

// AnswerSet maps question ids (1..QuestionCount) to the user's answer.
// Missing ids are read as false.
type AnswerSet map[int]bool

func (a AnswerSet) Yes(id int) bool {
	if a == nil {
		return false
	}
	return a[id]
}

// YesCount counts true answers among the known questions only.
func (a AnswerSet) YesCount() int {
	n := 0
	for id := 1; id <= QuestionCount; id++ {
		if a.Yes(id) {
			n++
		}
	}
	return n
}

// Known drops ids outside the questionnaire.
func (a AnswerSet) Known() AnswerSet {
	out := make(AnswerSet, len(a))
	for id, v := range a {
		if id >= 1 && id <= QuestionCount {
			out[id] = v
		}
	}
	return out
}

// ParseAnswerSet converts a JSON-style object keyed by question id strings.
// Keys that are not integers are ignored.
func ParseAnswerSet(raw map[string]bool) AnswerSet {
	out := make(AnswerSet, len(raw))
	for key, v := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}

// StringKeys renders the answer set in its wire/storage form.
func (a AnswerSet) StringKeys() map[string]bool {
	out := make(map[string]bool, len(a))
	for id, v := range a {
		out[strconv.Itoa(id)] = v
	}
	return out
}

type Question struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

var questions = []Question{
	{ID: 1, Text: "Will the service be reachable from the public internet?"},
	{ID: 2, Text: "Will external (third-party) customers or partners use this service?"},
	{ID: 3, Text: "Does the service require certificates trusted by browsers/OS by default?"},
	{ID: 4, Text: "Is an EV/OV certificate required for compliance or branding?"},
	{ID: 5, Text: "Will the cert be embedded in mobile apps or distributed to clients?"},
	{ID: 6, Text: "Is the environment multi-tenant?"},
	{ID: 7, Text: "Is there a corporate/internal PKI already in place?"},
	{ID: 8, Text: "Do you need wildcard or many SAN entries across public domains?"},
	{ID: 9, Text: "Is automated public CA issuance/renewal (ACME or API) required?"},
	{ID: 10, Text: "Are there regulations that mandate independent public CA audit?"},
}

// Questions returns a copy of the fixed, ordered questionnaire.
func Questions() []Question {
	out := make([]Question, len(questions))
	copy(out, questions)
	return out
}

func RecommendationMessage(r Recommendation) string {
	switch r {
	case RecommendPublicCA:
		return "We recommend using a Public CA for your certificate needs."
	case RecommendInternalCA:
		return "We recommend using your Internal CA for this certificate."
	case RecommendPublicWithJustification:
		return "You may use a Public CA with proper justification."
	default:
		return "Unable to determine recommendation"
	}
}

type DecisionRecord struct {
	ID             string
	UserID         string
	Responses      AnswerSet
	Recommendation Recommendation
	MatchedRule    string
	CreatedAt      time.Time
}

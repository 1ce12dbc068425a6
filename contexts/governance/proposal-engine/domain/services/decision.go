package services

import (
	"strings"
	"time"

	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
)

// GovernanceModel is the decision rule applied to a frozen supply baseline.
type GovernanceModel string

const (
	ModelSimpleMajority GovernanceModel = "simple_majority"
	ModelSupermajority  GovernanceModel = "supermajority"
	ModelConsensus      GovernanceModel = "consensus"
)

// ParseModel normalizes a model name, rejecting anything undeclared.
func ParseModel(raw string) (GovernanceModel, error) {
	switch GovernanceModel(strings.ToLower(strings.TrimSpace(raw))) {
	case ModelSimpleMajority:
		return ModelSimpleMajority, nil
	case ModelSupermajority:
		return ModelSupermajority, nil
	case ModelConsensus:
		return ModelConsensus, nil
	default:
		return "", domainerrors.ErrUnsupportedModel
	}
}

// Decision is derived state: computing one never mutates anything.
type Decision struct {
	Model       GovernanceModel
	Affirmative int64
	Baseline    int64
	Passed      bool
	ComputedAt  time.Time
}

// Decide applies the governance model with integer arithmetic only.
// Simple majority requires strictly more than baseline/2, so ties fail.
// Supermajority compares against the floored threshold (baseline*2)/3.
// Consensus requires every baseline unit affirmative.
func Decide(model GovernanceModel, affirmative int64, baseline int64, now time.Time) (Decision, error) {
	decision := Decision{
		Model:       model,
		Affirmative: affirmative,
		Baseline:    baseline,
		ComputedAt:  now.UTC(),
	}
	if baseline <= 0 {
		return Decision{}, domainerrors.ErrInvalidBaseline
	}
	switch model {
	case ModelSimpleMajority:
		decision.Passed = affirmative > baseline/2
	case ModelSupermajority:
		decision.Passed = affirmative >= (baseline*2)/3
	case ModelConsensus:
		decision.Passed = affirmative == baseline
	default:
		return Decision{}, domainerrors.ErrUnsupportedModel
	}
	return decision, nil
}

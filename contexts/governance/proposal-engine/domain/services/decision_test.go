package services

import (
	"errors"
	"testing"
	"time"

	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
)

func TestParseModel(t *testing.T) {
	cases := []struct {
		raw  string
		want GovernanceModel
	}{
		{"simple_majority", ModelSimpleMajority},
		{"SUPERMAJORITY", ModelSupermajority},
		{"  consensus  ", ModelConsensus},
	}
	for _, tc := range cases {
		got, err := ParseModel(tc.raw)
		if err != nil {
			t.Fatalf("ParseModel(%q) failed: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseModel(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}

	for _, raw := range []string{"", "plurality", "majority"} {
		if _, err := ParseModel(raw); !errors.Is(err, domainerrors.ErrUnsupportedModel) {
			t.Fatalf("ParseModel(%q) expected ErrUnsupportedModel, got %v", raw, err)
		}
	}
}

func TestDecideThresholds(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name        string
		model       GovernanceModel
		affirmative int64
		baseline    int64
		passed      bool
	}{
		{"majority above half", ModelSimpleMajority, 51, 100, true},
		{"majority exact half fails", ModelSimpleMajority, 50, 100, false},
		{"majority odd baseline floor", ModelSimpleMajority, 50, 99, true},
		{"majority million supply boundary passes", ModelSimpleMajority, 500001, 1000000, true},
		{"majority million supply boundary fails", ModelSimpleMajority, 500000, 1000000, false},
		{"supermajority at floored two thirds", ModelSupermajority, 66, 100, true},
		{"supermajority below threshold", ModelSupermajority, 65, 100, false},
		{"supermajority small baseline", ModelSupermajority, 2, 3, true},
		{"consensus full baseline", ModelConsensus, 100, 100, true},
		{"consensus one short", ModelConsensus, 99, 100, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := Decide(tc.model, tc.affirmative, tc.baseline, now)
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if decision.Passed != tc.passed {
				t.Fatalf("expected passed=%v, got %v", tc.passed, decision.Passed)
			}
			if decision.Affirmative != tc.affirmative || decision.Baseline != tc.baseline {
				t.Fatalf("decision does not echo inputs: %+v", decision)
			}
			if !decision.ComputedAt.Equal(now) {
				t.Fatalf("expected computed at %s, got %s", now, decision.ComputedAt)
			}
		})
	}
}

func TestDecideRejectsBadInputs(t *testing.T) {
	now := time.Now().UTC()
	if _, err := Decide(ModelSimpleMajority, 10, 0, now); !errors.Is(err, domainerrors.ErrInvalidBaseline) {
		t.Fatalf("expected ErrInvalidBaseline for zero baseline, got %v", err)
	}
	if _, err := Decide(ModelSimpleMajority, 10, -5, now); !errors.Is(err, domainerrors.ErrInvalidBaseline) {
		t.Fatalf("expected ErrInvalidBaseline for negative baseline, got %v", err)
	}
	if _, err := Decide(GovernanceModel("plurality"), 10, 100, now); !errors.Is(err, domainerrors.ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}
}

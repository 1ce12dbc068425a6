package commands

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"agora/contexts/governance/proposal-engine/ports"
)

func formatProposalID(proposalID uint64) string {
	return strconv.FormatUint(proposalID, 10)
}

const sourceService = "proposal-engine"

// newGovernanceEnvelope builds the canonical envelope for command-side events.
// Governance events are partitioned by proposal for stable per-proposal
// ordering; the sequence comes from the service's per-event-type allocator.
func newGovernanceEnvelope(
	eventID string,
	eventType string,
	sequence uint64,
	proposalKey string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    sourceService,
		TraceID:          eventID,
		SchemaVersion:    1,
		Sequence:         sequence,
		PartitionKeyPath: "proposal_id",
		PartitionKey:     proposalKey,
		Data:             payload,
	}, nil
}

func hashRequest(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

package unit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestContractJSONArtifactsAreValid(t *testing.T) {
	root, err := findRepoRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}

	patterns := []string{
		"contracts/api/v1/*.json",
		"contracts/events/v1/*.json",
	}

	found := 0
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			t.Fatalf("invalid glob pattern %s: %v", pattern, err)
		}
		for _, path := range matches {
			found++
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read %s: %v", path, err)
			}
			var payload any
			if err := json.Unmarshal(data, &payload); err != nil {
				t.Fatalf("invalid json contract file %s: %v", path, err)
			}
		}
	}

	if found == 0 {
		t.Fatalf("no contract json artifacts found")
	}
}

func findRepoRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	current := wd
	for {
		if _, err := os.Stat(filepath.Join(current, "go.mod")); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("go.mod not found from %s", wd)
		}
		current = parent
	}
}

func containsAnyString(values []any, target string) bool {
	for _, value := range values {
		if text, ok := value.(string); ok && text == target {
			return true
		}
	}
	return false
}

// requireEnvelopeSchema checks one event schema artifact against the shared
// envelope shape: title, required keys, and the pinned const fields.
func requireEnvelopeSchema(t *testing.T, root string, eventType string, sourceService string, partitionKeyPath string) {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join(root, "contracts", "events", "v1", eventType+".schema.json"))
	if err != nil {
		t.Fatalf("read event schema %s: %v", eventType, err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("decode event schema %s: %v", eventType, err)
	}

	if title, _ := schema["title"].(string); title != eventType {
		t.Fatalf("schema %s has wrong title: %q", eventType, title)
	}

	requiredEnvelopeFields := []string{
		"event_id",
		"event_type",
		"occurred_at",
		"source_service",
		"trace_id",
		"schema_version",
		"sequence",
		"partition_key_path",
		"partition_key",
		"data",
	}
	required, _ := schema["required"].([]any)
	for _, key := range requiredEnvelopeFields {
		if !containsAnyString(required, key) {
			t.Fatalf("schema %s missing required envelope key %s", eventType, key)
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	eventTypeProp, _ := properties["event_type"].(map[string]any)
	if eventConst, _ := eventTypeProp["const"].(string); eventConst != eventType {
		t.Fatalf("schema %s has wrong event_type const: %q", eventType, eventConst)
	}
	sourceProp, _ := properties["source_service"].(map[string]any)
	if sourceConst, _ := sourceProp["const"].(string); sourceConst != sourceService {
		t.Fatalf("schema %s has wrong source_service const: %q", eventType, sourceConst)
	}
	partitionProp, _ := properties["partition_key_path"].(map[string]any)
	if partitionConst, _ := partitionProp["const"].(string); partitionConst != partitionKeyPath {
		t.Fatalf("schema %s has wrong partition_key_path const: %q", eventType, partitionConst)
	}
}

// requireOpenAPIRoutes checks that every served route appears in the service's
// OpenAPI artifact.
func requireOpenAPIRoutes(t *testing.T, root string, service string, expected map[string][]string) {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, "contracts", "api", "v1", service+".openapi.json"))
	if err != nil {
		t.Fatalf("read %s openapi: %v", service, err)
	}
	var doc struct {
		Paths map[string]map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode %s openapi: %v", service, err)
	}

	for path, methods := range expected {
		ops, ok := doc.Paths[path]
		if !ok {
			t.Fatalf("missing path in %s openapi contract: %s", service, path)
		}
		for _, method := range methods {
			if _, ok := ops[method]; !ok {
				t.Fatalf("missing method %s for path %s in %s openapi contract", method, path, service)
			}
		}
	}
}

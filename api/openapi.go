package api

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"dozenflow-api/domain"
)

//go:embed openapi.yaml
var openAPISource []byte

// buildAPIDoc decodes the embedded document and replaces the status enum with
// the configured board columns.
func buildAPIDoc(statuses []domain.Status) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(openAPISource, &doc); err != nil {
		return nil, fmt.Errorf("decode openapi document: %w", err)
	}

	status, err := lookupMap(doc, "components", "schemas", "Status")
	if err != nil {
		return nil, err
	}
	enum := make([]any, len(statuses))
	for i, s := range statuses {
		enum[i] = string(s)
	}
	status["enum"] = enum
	return doc, nil
}

func lookupMap(m map[string]any, path ...string) (map[string]any, error) {
	cur := m
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("openapi document: missing %s", key)
		}
		cur = next
	}
	return cur, nil
}

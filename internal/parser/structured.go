package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/studiowebux/asynchttp/internal/types"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ParseStructuredFile parses a YAML, JSON or JSONC file holding one request
// or a list of them
func ParseStructuredFile(filePath string) ([]types.RequestDefinition, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		return parseJSON(data)
	case ".jsonc":
		return parseJSON(jsonc.ToJSON(data))
	default:
		return parseYAML(data)
	}
}

func parseJSON(data []byte) ([]types.RequestDefinition, error) {
	var requests []types.RequestDefinition
	if err := json.Unmarshal(data, &requests); err == nil {
		return requests, nil
	}
	var request types.RequestDefinition
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return []types.RequestDefinition{request}, nil
}

func parseYAML(data []byte) ([]types.RequestDefinition, error) {
	var requests []types.RequestDefinition
	if err := yaml.Unmarshal(data, &requests); err == nil {
		if len(requests) > 0 || strings.TrimSpace(string(data)) == "[]" {
			return requests, nil
		}
	}
	var request types.RequestDefinition
	if err := yaml.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return []types.RequestDefinition{request}, nil
}

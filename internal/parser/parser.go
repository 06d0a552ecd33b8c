// Package parser loads request definitions from .http, YAML, JSON and JSONC
// files and substitutes {{variables}} in them.
package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/studiowebux/asynchttp/internal/types"
)

var (
	ErrNoRequests      = errors.New("parser: no requests in file")
	ErrRequestNotFound = errors.New("parser: no request matches name")
)

// Extensions tried, in order, when a path is given without one
var Extensions = []string{"", ".http", ".yaml", ".yml", ".json", ".jsonc"}

// DetectFormat returns "http", "yaml", "json" or "jsonc" for filePath
func DetectFormat(filePath string) (string, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	case ".jsonc":
		return "jsonc", nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(content, "{"), strings.HasPrefix(content, "["):
		return "json", nil
	case strings.HasPrefix(content, "---"):
		return "yaml", nil
	default:
		return "http", nil
	}
}

// Parse is the main entry point for parsing any supported file format
func Parse(filePath string) (*types.RequestFile, error) {
	format, err := DetectFormat(filePath)
	if err != nil {
		return nil, err
	}

	var defs []types.RequestDefinition
	switch format {
	case "http":
		defs, err = ParseHTTPFile(filePath)
	case "json":
		defs, err = parseStructured(filePath, parseJSON)
	case "yaml":
		defs, err = parseStructured(filePath, parseYAML)
	default:
		defs, err = ParseStructuredFile(filePath)
	}
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRequests, filePath)
	}
	for i := range defs {
		if defs[i].Name == "" {
			defs[i].Name = fmt.Sprintf("%s %s", strings.ToUpper(defs[i].Method), defs[i].URL)
		}
	}
	return &types.RequestFile{Path: filePath, Requests: defs}, nil
}

func parseStructured(filePath string, parse func([]byte) ([]types.RequestDefinition, error)) ([]types.RequestDefinition, error) {
	if ext := strings.ToLower(filepath.Ext(filePath)); ext != ".http" && ext != "" {
		return ParseStructuredFile(filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return parse(data)
}

// ResolveFilePath finds basePath as given, then with each of Extensions,
// first in the current directory and then in workdir
func ResolveFilePath(basePath, workdir string) (string, error) {
	dirs := []string{""}
	if workdir != "" && !filepath.IsAbs(basePath) {
		dirs = append(dirs, workdir)
	}
	for _, dir := range dirs {
		for _, ext := range Extensions {
			candidate := filepath.Join(dir, basePath+ext)
			if dir == "" {
				candidate = basePath + ext
			}
			if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("file not found: %s (tried %s)", basePath, strings.Join(Extensions[1:], ", "))
}

// Names lists the request names in file order
func Names(defs []types.RequestDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Select picks a request by name. An exact, case-insensitive match wins;
// otherwise the best fuzzy match is used. An empty name selects the first
// request.
func Select(defs []types.RequestDefinition, name string) (types.RequestDefinition, error) {
	if len(defs) == 0 {
		return types.RequestDefinition{}, ErrNoRequests
	}
	if name == "" {
		return defs[0], nil
	}
	for _, d := range defs {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	matches := fuzzy.Find(name, Names(defs))
	if len(matches) == 0 {
		return types.RequestDefinition{}, fmt.Errorf("%w %q", ErrRequestNotFound, name)
	}
	return defs[matches[0].Index], nil
}

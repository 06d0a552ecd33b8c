package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/studiowebux/asynchttp/internal/types"
)

var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// ParseHTTPFile parses a traditional .http file with ### separators
func ParseHTTPFile(filePath string) ([]types.RequestDefinition, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return ParseHTTP(file)
}

// ParseHTTP reads requests in .http format:
//
//	### name
//	# @filter users[?active]
//	POST http://example.com/users
//	Content-Type: application/json
//
//	{"name": "ada"}
//
// A request line may appear without a preceding ### separator. Headers keep
// their file order and may repeat.
func ParseHTTP(r io.Reader) ([]types.RequestDefinition, error) {
	var (
		requests  []types.RequestDefinition
		current   *types.RequestDefinition
		bodyLines []string
		inBody    bool
	)

	flush := func() {
		if current == nil {
			return
		}
		if len(bodyLines) > 0 {
			current.Body = strings.TrimRight(strings.Join(bodyLines, "\n"), "\n")
		}
		if current.Method != "" {
			requests = append(requests, *current)
		}
		current, bodyLines, inBody = nil, nil, false
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if strings.HasPrefix(line, "###") {
			flush()
			current = &types.RequestDefinition{
				Name: strings.TrimSpace(strings.TrimPrefix(line, "###")),
			}
			continue
		}

		if !inBody && (strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//")) {
			if current == nil {
				current = &types.RequestDefinition{}
			}
			annotation := strings.TrimSpace(strings.TrimLeft(line, "#/"))
			switch {
			case strings.HasPrefix(annotation, "@filter "):
				current.Filter = strings.TrimSpace(strings.TrimPrefix(annotation, "@filter"))
			case strings.HasPrefix(annotation, "@query "):
				current.Query = strings.TrimSpace(strings.TrimPrefix(annotation, "@query"))
			case strings.HasPrefix(annotation, "@name "):
				current.Name = strings.TrimSpace(strings.TrimPrefix(annotation, "@name"))
			}
			continue
		}

		if current == nil || current.Method == "" {
			parts := strings.Fields(line)
			if len(parts) >= 2 && knownMethods[strings.ToUpper(parts[0])] {
				if current == nil {
					current = &types.RequestDefinition{}
				}
				current.Method = strings.ToUpper(parts[0])
				current.URL = parts[1]
			}
			continue
		}

		if inBody {
			bodyLines = append(bodyLines, line)
			continue
		}

		// Empty line after headers starts body
		if strings.TrimSpace(line) == "" {
			inBody = true
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t{[\"'") || line[0] == ' ' || line[0] == '\t' {
			// Not a header; treat as the start of the body
			inBody = true
			bodyLines = append(bodyLines, line)
			continue
		}
		current.Headers.Add(key, strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	flush()
	return requests, nil
}

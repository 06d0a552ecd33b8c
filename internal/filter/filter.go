// Package filter narrows and reshapes JSON response bodies with JMESPath
// expressions or an external shell command.
package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
)

// QueryShellTimeout is the maximum time allowed for query shell command execution
const QueryShellTimeout = 30 * time.Second

var (
	ErrNotJSON       = errors.New("filter: body is not JSON")
	ErrBadExpression = errors.New("filter: invalid JMESPath expression")
	ErrCommandFailed = errors.New("filter: query command failed")

	// Shell command pattern: $(command)
	shellPattern = regexp.MustCompile(`^\$\((.+)\)$`)
)

// Apply runs filter, then query, over body. Either may be empty. A query of
// the form $(command) pipes the current result to command through sh.
func Apply(ctx context.Context, body []byte, filter, query string) ([]byte, error) {
	result := body
	if filter != "" {
		out, err := Search(result, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to apply filter: %w", err)
		}
		result = out
	}
	if query == "" {
		return result, nil
	}
	if m := shellPattern.FindStringSubmatch(query); len(m) > 1 {
		out, err := runShell(ctx, result, m[1])
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	out, err := Search(result, query)
	if err != nil {
		return nil, fmt.Errorf("failed to apply query: %w", err)
	}
	return out, nil
}

// Search evaluates a JMESPath expression against a JSON document and returns
// the indented JSON result
func Search(body []byte, expression string) ([]byte, error) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	jp, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrBadExpression, expression, err)
	}
	result, err := jp.Search(data)
	if err != nil {
		return nil, fmt.Errorf("JMESPath search failed: %w", err)
	}
	if result == nil {
		return []byte("null"), nil
	}
	return json.MarshalIndent(result, "", "  ")
}

func runShell(ctx context.Context, input []byte, command string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryShellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := err.Error()
		if stderr.Len() > 0 {
			msg = strings.TrimSpace(stderr.String())
		}
		return nil, fmt.Errorf("%w: %q: %s", ErrCommandFailed, command, msg)
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}

// IsValidJMESPath checks if an expression is valid JMESPath syntax
func IsValidJMESPath(expression string) bool {
	_, err := jmespath.Compile(expression)
	return err == nil
}

// IsShellCommand checks if a query is a shell command (starts with $(...))
func IsShellCommand(query string) bool {
	return shellPattern.MatchString(query)
}

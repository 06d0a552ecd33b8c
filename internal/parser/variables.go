package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/studiowebux/asynchttp/internal/types"
)

// ShellTimeout bounds each $(command) substitution
const ShellTimeout = 5 * time.Second

var (
	// Variable placeholder pattern: {{varName}}
	varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

	// Shell command pattern: $(command)
	shellPattern = regexp.MustCompile(`\$\(([^)]+)\)`)
)

// VariableResolver substitutes {{name}}, {{env.NAME}} and $(command) in
// request definitions. Lookup order for plain names: cli vars, then config
// vars.
type VariableResolver struct {
	configVars  map[string]string
	cliVars     map[string]string
	envVars     map[string]string
	unresolved  []string
	shellErrors []string
}

// NewVariableResolver creates a new variable resolver. Any map may be nil.
func NewVariableResolver(configVars, cliVars, envVars map[string]string) *VariableResolver {
	orEmpty := func(m map[string]string) map[string]string {
		if m == nil {
			return map[string]string{}
		}
		return m
	}
	return &VariableResolver{
		configVars: orEmpty(configVars),
		cliVars:    orEmpty(cliVars),
		envVars:    orEmpty(envVars),
	}
}

// ParseExtraVars turns "key=value" pairs from -e flags into a map. A bare
// "key" sets an empty value.
func ParseExtraVars(pairs []string) map[string]string {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, _ := strings.Cut(p, "=")
		if key = strings.TrimSpace(key); key != "" {
			vars[key] = value
		}
	}
	return vars
}

// Unresolved returns the unique variable names that had no value
func (vr *VariableResolver) Unresolved() []string {
	seen := make(map[string]bool)
	var unique []string
	for _, v := range vr.unresolved {
		if !seen[v] {
			seen[v] = true
			unique = append(unique, v)
		}
	}
	return unique
}

// ShellErrors returns the failures of $(command) substitutions
func (vr *VariableResolver) ShellErrors() []string {
	return vr.shellErrors
}

// ExtractVariableNames extracts all unique variable names from a string
// Returns variable names without the {{ }} brackets
func ExtractVariableNames(input string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range varPattern.FindAllStringSubmatch(input, -1) {
		name := strings.TrimSpace(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// LoadEnvFile loads environment variables from a .env file
func LoadEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	envVars := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		envVars[strings.TrimSpace(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading env file: %w", err)
	}
	return envVars, nil
}

// LoadSystemEnv loads all system environment variables
func LoadSystemEnv() map[string]string {
	envVars := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			envVars[key] = value
		}
	}
	return envVars
}

// ResolveDefinition returns a copy of def with URL, header values and body
// substituted
func (vr *VariableResolver) ResolveDefinition(def types.RequestDefinition) (types.RequestDefinition, error) {
	out := def
	var err error
	if out.URL, err = vr.Resolve(def.URL); err != nil {
		return out, fmt.Errorf("failed to resolve URL: %w", err)
	}
	out.Headers = make(types.Headers, 0, len(def.Headers))
	for _, f := range def.Headers {
		v, err := vr.Resolve(f.Value)
		if err != nil {
			return out, fmt.Errorf("failed to resolve header %s: %w", f.Key, err)
		}
		out.Headers = append(out.Headers, types.HeaderField{Key: f.Key, Value: v})
	}
	if def.Body != "" {
		if out.Body, err = vr.Resolve(def.Body); err != nil {
			return out, fmt.Errorf("failed to resolve body: %w", err)
		}
	}
	return out, nil
}

// Resolve resolves variables and shell commands in a string
func (vr *VariableResolver) Resolve(input string) (string, error) {
	result, err := vr.resolveShellCommands(input)
	if err != nil {
		return "", err
	}
	result = vr.resolveVariables(result)
	// Variables may expand to shell commands
	return vr.resolveShellCommands(result)
}

func (vr *VariableResolver) resolveVariables(input string) string {
	return varPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if envKey, ok := strings.CutPrefix(name, "env."); ok {
			if value, ok := vr.envVars[envKey]; ok {
				return value
			}
		} else if value, ok := vr.cliVars[name]; ok {
			return value
		} else if value, ok := vr.configVars[name]; ok {
			return value
		}
		vr.unresolved = append(vr.unresolved, name)
		return match
	})
}

func (vr *VariableResolver) resolveShellCommands(input string) (string, error) {
	var lastErr error
	result := shellPattern.ReplaceAllStringFunc(input, func(match string) string {
		command := strings.TrimSpace(match[2 : len(match)-1])

		ctx, cancel := context.WithTimeout(context.Background(), ShellTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			msg := fmt.Sprintf("$(%s): %v", command, err)
			if stderr.Len() > 0 {
				msg = fmt.Sprintf("$(%s): %s", command, strings.TrimSpace(stderr.String()))
			}
			vr.shellErrors = append(vr.shellErrors, msg)
			lastErr = fmt.Errorf("shell command failed: %w", err)
			return match
		}
		return strings.TrimSpace(stdout.String())
	})
	return result, lastErr
}

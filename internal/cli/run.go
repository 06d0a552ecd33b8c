// Package cli runs request files from the command line: it resolves the
// file and its variables, executes the request on the engine, then filters,
// renders, journals and saves the result.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/studiowebux/asynchttp/internal/client"
	"github.com/studiowebux/asynchttp/internal/config"
	"github.com/studiowebux/asynchttp/internal/filter"
	"github.com/studiowebux/asynchttp/internal/history"
	"github.com/studiowebux/asynchttp/internal/obs"
	"github.com/studiowebux/asynchttp/internal/output"
	"github.com/studiowebux/asynchttp/internal/parser"
	"github.com/studiowebux/asynchttp/internal/types"
)

// ErrRequestFailed is returned after output when the exchange failed or the
// server answered with a 4xx or 5xx status
var ErrRequestFailed = errors.New("request failed")

// Env carries the process-wide collaborators of a run
type Env struct {
	Config  *config.Config
	Client  *client.Client
	History *history.Manager // nil disables the journal
	Logger  obs.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Interactive allows prompting on Stdin
	Interactive bool
	// StdinPiped means Stdin carries a request body
	StdinPiped bool
	// Color enables styled text output
	Color bool
	// Terminal means Stdout is a terminal
	Terminal bool
}

// RunOptions contains options for running a request in CLI mode
type RunOptions struct {
	FilePath     string
	Name         string // request name, fuzzy matched
	OutputFormat string // json, yaml, text or body
	SavePath     string // local path or bucket URL
	BodyOverride string
	ShowFull     bool
	ExtraVars    []string // key=value pairs from -e flag
	Headers      []string // "Key: Value" pairs from -H flag, override the file
	EnvFile      string   // path to .env file
	Filter       string   // JMESPath filter expression
	Query        string   // JMESPath query or $(bash command)
	Progress     bool
	Copy         bool
}

// Run executes one request from a request file
func Run(ctx context.Context, env Env, opts RunOptions) (*types.RequestResult, error) {
	logger := obs.OrNop(env.Logger)

	filePath, resolved, err := Load(env, opts)
	if err != nil {
		return nil, err
	}

	result, err := Execute(ctx, env, resolved, opts.Progress)
	if err != nil {
		logger.Logf(obs.Debug, "request %s %s failed: %v", resolved.Method, resolved.URL, err)
	}
	return result, Finish(ctx, env, filePath, resolved, result, opts)
}

// Load resolves the request file, picks the request and substitutes its
// variables. It returns the resolved file path and the ready definition.
func Load(env Env, opts RunOptions) (string, types.RequestDefinition, error) {
	path := config.GetWorkingDirectory(opts.FilePath)
	filePath, err := parser.ResolveFilePath(path, config.RequestsDir)
	if err != nil {
		return "", types.RequestDefinition{}, err
	}

	file, err := parser.Parse(filePath)
	if err != nil {
		return "", types.RequestDefinition{}, fmt.Errorf("failed to parse file: %w", err)
	}

	def, err := pickRequest(env, file, opts.Name)
	if err != nil {
		return "", types.RequestDefinition{}, err
	}

	if opts.BodyOverride != "" {
		def.Body = opts.BodyOverride
	} else if env.StdinPiped && env.Stdin != nil {
		bodyBytes, err := io.ReadAll(env.Stdin)
		if err == nil && len(bodyBytes) > 0 {
			def.Body = string(bodyBytes)
		}
	}

	resolved, err := prepare(env, def, opts)
	if err != nil {
		return "", types.RequestDefinition{}, err
	}
	return filePath, resolved, nil
}

// RunDirect executes def as given on the command line, without a request file
func RunDirect(ctx context.Context, env Env, def types.RequestDefinition, opts RunOptions) (*types.RequestResult, error) {
	if opts.BodyOverride != "" {
		def.Body = opts.BodyOverride
	} else if env.StdinPiped && env.Stdin != nil {
		if bodyBytes, err := io.ReadAll(env.Stdin); err == nil && len(bodyBytes) > 0 {
			def.Body = string(bodyBytes)
		}
	}

	resolved, err := prepare(env, def, opts)
	if err != nil {
		return nil, err
	}
	result, err := Execute(ctx, env, resolved, opts.Progress)
	if err != nil {
		obs.OrNop(env.Logger).Logf(obs.Debug, "request %s %s failed: %v", resolved.Method, resolved.URL, err)
	}
	return result, Finish(ctx, env, "", resolved, result, opts)
}

// prepare layers config and flag headers over def and resolves its variables
func prepare(env Env, def types.RequestDefinition, opts RunOptions) (types.RequestDefinition, error) {
	flagHeaders, err := ParseHeaders(opts.Headers)
	if err != nil {
		return def, err
	}
	def.Headers = mergeHeaders(env.Config.Headers, def.Headers)
	def.Headers = mergeHeaders(def.Headers, flagHeaders)
	return resolveVariables(env, def, opts)
}

// ParseHeaders parses "Key: Value" pairs
func ParseHeaders(pairs []string) (types.Headers, error) {
	var headers types.Headers
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Key: Value\"", pair)
		}
		headers.Add(key, strings.TrimSpace(value))
	}
	return headers, nil
}

// Execute builds and sends def, drawing a spinner on env.Stderr when
// progress is set
func Execute(ctx context.Context, env Env, def types.RequestDefinition, progress bool) (*types.RequestResult, error) {
	req, err := def.Build()
	if err != nil {
		return &types.RequestResult{Method: def.Method, URL: def.URL, Error: err.Error()}, err
	}

	var ropts types.RequestOptions
	if progress {
		p := StartProgress(fmt.Sprintf("%s %s", req.Method, req.URL), env.Stderr)
		defer p.Stop()
		ropts.Progress = p.Update
	}

	return env.Client.Exchange(ctx, req, ropts)
}

// Finish journals, filters, renders and saves an executed request. It
// returns ErrRequestFailed when the exchange did not succeed.
func Finish(ctx context.Context, env Env, requestFile string, def types.RequestDefinition, result *types.RequestResult, opts RunOptions) error {
	logger := obs.OrNop(env.Logger)

	if env.History != nil {
		entry := history.NewEntry(requestFile, def, result)
		if _, err := env.History.Save(ctx, entry); err != nil {
			fmt.Fprintf(env.Stderr, "Warning: failed to save history: %v\n", err)
		}
	}

	// Priority: CLI flags > request-level
	filterExpr := opts.Filter
	if filterExpr == "" {
		filterExpr = def.Filter
	}
	queryExpr := opts.Query
	if queryExpr == "" {
		queryExpr = def.Query
	}
	if result.Error == "" && (filterExpr != "" || queryExpr != "") {
		filtered, err := filter.Apply(ctx, []byte(result.Body), filterExpr, queryExpr)
		if err != nil {
			fmt.Fprintf(env.Stderr, "Warning: filter/query error: %v\n", err)
		} else {
			result.Body = string(filtered)
		}
	}

	format := opts.OutputFormat
	if format == "" {
		format = env.Config.Output.Format
	}
	if format == "" {
		format = output.FormatBody
		if env.Terminal {
			format = output.FormatText
		}
	}

	rendered, err := output.Render(result, output.Options{
		Format: format,
		Full:   opts.ShowFull,
		Color:  env.Color && opts.SavePath == "" && env.Config.Output.Highlight,
		Style:  env.Config.Output.Style,
	})
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if opts.SavePath != "" {
		contentType := result.Headers.Get("Content-Type")
		if format != output.FormatBody {
			contentType = ""
		}
		if err := output.Save(ctx, opts.SavePath, []byte(rendered), contentType); err != nil {
			return err
		}
		fmt.Fprintf(env.Stderr, "Response saved to %s\n", opts.SavePath)
	} else {
		fmt.Fprint(env.Stdout, rendered)
	}

	if opts.Copy {
		if err := output.Copy(result.Body); err != nil {
			fmt.Fprintf(env.Stderr, "Warning: failed to copy to clipboard: %v\n", err)
		} else {
			logger.Logf(obs.Debug, "copied %d bytes to clipboard", len(result.Body))
		}
	}

	if result.Error != "" || result.Status >= 400 {
		return ErrRequestFailed
	}
	return nil
}

// pickRequest selects by name, prompts when the file holds several requests
// and the terminal allows it, and falls back to the first request
func pickRequest(env Env, file *types.RequestFile, name string) (types.RequestDefinition, error) {
	if name != "" || len(file.Requests) < 2 || !env.Interactive {
		return parser.Select(file.Requests, name)
	}
	return selectRequest(file, env.Stderr)
}

// mergeHeaders puts config headers first, skipping keys the request sets
func mergeHeaders(defaults, request types.Headers) types.Headers {
	var merged types.Headers
	for _, h := range defaults {
		if !request.Has(h.Key) {
			merged.Add(h.Key, h.Value)
		}
	}
	for _, h := range request {
		merged.Add(h.Key, h.Value)
	}
	return merged
}

func resolveVariables(env Env, def types.RequestDefinition, opts RunOptions) (types.RequestDefinition, error) {
	cliVars := parser.ParseExtraVars(opts.ExtraVars)

	envVars := parser.LoadSystemEnv()
	if opts.EnvFile != "" {
		fileEnvVars, err := parser.LoadEnvFile(opts.EnvFile)
		if err != nil {
			return def, fmt.Errorf("failed to load env file: %w", err)
		}
		// File vars override system vars
		for k, v := range fileEnvVars {
			envVars[k] = v
		}
	}

	missing := missingVariables(def, env.Config.Variables, cliVars, envVars)
	if len(missing) > 0 {
		if env.StdinPiped {
			return def, fmt.Errorf("cannot prompt for variables while stdin is piped (missing: %s)", strings.Join(missing, ", "))
		}
		if !env.Interactive {
			return def, fmt.Errorf("missing variables (non-interactive mode): %s", strings.Join(missing, ", "))
		}
		reader := bufio.NewReader(env.Stdin)
		for _, name := range missing {
			value, err := promptForVariable(reader, env.Stderr, name)
			if err != nil {
				return def, fmt.Errorf("failed to read input for '%s': %w", name, err)
			}
			cliVars[name] = value
		}
	}

	resolver := parser.NewVariableResolver(env.Config.Variables, cliVars, envVars)
	resolved, err := resolver.ResolveDefinition(def)
	if err != nil {
		return def, fmt.Errorf("failed to resolve variables: %w", err)
	}

	if unresolved := resolver.Unresolved(); len(unresolved) > 0 {
		fmt.Fprintf(env.Stderr, "Warning: unresolved variables: %s\n", strings.Join(unresolved, ", "))
	}
	for _, msg := range resolver.ShellErrors() {
		fmt.Fprintf(env.Stderr, "Warning: %s\n", msg)
	}
	return resolved, nil
}

// missingVariables lists the variables of def that no source provides.
// Header keys are sent as written.
func missingVariables(def types.RequestDefinition, configVars, cliVars, envVars map[string]string) []string {
	fields := []string{def.URL, def.Body}
	for _, h := range def.Headers {
		fields = append(fields, h.Value)
	}

	seen := map[string]bool{}
	var missing []string
	for _, field := range fields {
		for _, name := range parser.ExtractVariableNames(field) {
			if seen[name] {
				continue
			}
			seen[name] = true
			if envKey, ok := strings.CutPrefix(name, "env."); ok {
				if _, ok := envVars[envKey]; !ok {
					missing = append(missing, name)
				}
				continue
			}
			_, inCLI := cliVars[name]
			_, inConfig := configVars[name]
			if !inCLI && !inConfig {
				missing = append(missing, name)
			}
		}
	}
	return missing
}

// promptForVariable prompts the user to enter a value for a variable
func promptForVariable(r *bufio.Reader, w io.Writer, name string) (string, error) {
	fmt.Fprintf(w, "Enter value for '%s': ", name)
	value, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && value != "") {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

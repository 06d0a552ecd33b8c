package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/studiowebux/asynchttp/internal/cli"
	"github.com/studiowebux/asynchttp/internal/client"
	"github.com/studiowebux/asynchttp/internal/config"
	"github.com/studiowebux/asynchttp/internal/history"
	"github.com/studiowebux/asynchttp/internal/obs"
	"github.com/studiowebux/asynchttp/internal/output"
	"github.com/studiowebux/asynchttp/internal/version"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		// the response is already on stdout
		if !errors.Is(err, cli.ErrRequestFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "asynchttp [file]",
	Short: "asynchttp - asynchronous HTTP/1.1 client",
	Long: `asynchttp sends HTTP/1.1 requests through an asynchronous engine with
endpoint failover and per-request timeouts.

Provide a request file (.http, .yaml, .yml, .json, .jsonc) to execute it.
File extension is optional - 'get-user' resolves to 'get-user.http' automatically.
Missing {{variables}} are prompted for when the terminal allows it.

Examples:
  asynchttp get-user                        # Execute and prompt for missing vars
  asynchttp run api.http -n create          # Pick a request by name
  asynchttp run api -e userId=123 -o json   # Provide a var, print JSON
  asynchttp get https://example.com -f      # One-off request with headers
  asynchttp stress api -c 20 -r 1000        # 1000 requests, 20 at a time
  asynchttp history -l 10                   # Last 10 exchanges`,
	Version:       version.Current,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runFile(cmd, args[0])
	},
}

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a request file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFile(cmd, args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and check for a newer release",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "asynchttp %s\n", version.Current)
		if !flagCheck {
			return nil
		}
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		update, err := version.CheckForUpdate(cmd.Context(), a.env.Client, version.ReleaseURL, version.Current)
		if err != nil {
			return err
		}
		if update.Available {
			fmt.Fprintf(cmd.OutOrStdout(), "A newer version is available: %s (%s)\n", update.Latest, update.URL)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "You are up to date.")
		}
		return nil
	},
}

// Global flags
var (
	flagConfig  string
	flagTimeout time.Duration
	flagVerbose bool
	flagCheck   bool
)

// Request flags shared by run, the root command and the method commands
var (
	flagName      string
	flagOutput    string
	flagSave      string
	flagBody      string
	flagFull      bool
	flagHeaders   []string
	flagExtraVars []string
	flagEnvFile   string
	flagFilter    string
	flagQuery     string
	flagProgress  bool
	flagCopy      bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.asynchttp/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 0, "Request timeout, overrides the config (e.g. 5s)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log engine activity to stderr")

	addRequestFlags(rootCmd)
	addRequestFlags(runCmd)
	rootCmd.Flags().StringVarP(&flagName, "name", "n", "", "Request to run when the file holds several (fuzzy)")
	runCmd.Flags().StringVarP(&flagName, "name", "n", "", "Request to run when the file holds several (fuzzy)")

	versionCmd.Flags().BoolVar(&flagCheck, "check", false, "Check GitHub for a newer release")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(methodCommands()...)
	rootCmd.AddCommand(stressCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func addRequestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&flagOutput, "output", "o", "", "Output format (text/json/yaml/body)")
	f.StringVarP(&flagSave, "save", "s", "", "Save response to a file or bucket URL (s3://, file://, mem://)")
	f.StringVarP(&flagBody, "body", "b", "", "Override request body")
	f.BoolVarP(&flagFull, "full", "f", false, "Show full output (status, headers, body)")
	f.StringArrayVarP(&flagHeaders, "header", "H", []string{}, "Add a header (\"Key: Value\"), can be repeated")
	f.StringArrayVarP(&flagExtraVars, "extra-vars", "e", []string{}, "Set variable (key=value), can be repeated")
	f.StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file")
	f.StringVar(&flagFilter, "filter", "", "JMESPath filter applied to the response body")
	f.StringVar(&flagQuery, "query", "", "JMESPath query or $(command) applied after the filter")
	f.BoolVar(&flagProgress, "progress", false, "Show transfer progress on stderr")
	f.BoolVar(&flagCopy, "copy", false, "Copy the response body to the clipboard")
}

func runOptions() cli.RunOptions {
	return cli.RunOptions{
		Name:         flagName,
		OutputFormat: flagOutput,
		SavePath:     flagSave,
		BodyOverride: flagBody,
		ShowFull:     flagFull,
		ExtraVars:    flagExtraVars,
		Headers:      flagHeaders,
		EnvFile:      flagEnvFile,
		Filter:       flagFilter,
		Query:        flagQuery,
		Progress:     flagProgress,
		Copy:         flagCopy,
	}
}

// runFile executes a request file
func runFile(cmd *cobra.Command, filePath string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	opts := runOptions()
	opts.FilePath = filePath
	_, err = cli.Run(cmd.Context(), a.env, opts)
	return err
}

// app owns the process-wide collaborators of one command
type app struct {
	env cli.Env
}

// newApp loads the configuration and starts the client. The journal is
// opened only when journal is set and history is enabled.
func newApp(journal bool) (*app, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	path := flagConfig
	if path == "" {
		path = config.ConfigFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flagTimeout > 0 {
		cfg.Timeout = flagTimeout
	}
	cfg.Output.Format = output.DefaultFormat(cfg.Output.Format, os.Stdout)

	level := obs.ParseLevel(cfg.LogLevel)
	if flagVerbose {
		level = obs.Debug
	}
	logger := obs.NewSlogLogger(os.Stderr, level)

	a := &app{}
	a.env = cli.Env{
		Config:      cfg,
		Client:      client.New(cfg.ClientOptions(), client.WithLogger(logger.With("component", "engine"))),
		Logger:      logger,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Interactive: output.IsTerminal(os.Stdin) && output.IsTerminal(os.Stderr),
		StdinPiped:  stdinPiped(),
		Terminal:    output.IsTerminal(os.Stdout),
	}
	a.env.Color = a.env.Terminal

	if journal && cfg.History.Enabled {
		h, err := openHistory(cfg)
		if err != nil {
			// journaling is best effort for requests
			fmt.Fprintf(os.Stderr, "Warning: history disabled: %v\n", err)
		} else {
			a.env.History = h
		}
	}
	return a, nil
}

func openHistory(cfg *config.Config) (*history.Manager, error) {
	dsn := cfg.History.DSN
	if dsn == "" {
		dsn = config.DatabasePath
	}
	return history.Open(cfg.History.Driver, dsn)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.env.Client.Shutdown(ctx); err != nil {
		a.env.Logger.Logf(obs.Warn, "client shutdown: %v", err)
	}
	if a.env.History != nil {
		a.env.History.Close()
	}
}

// stdinPiped reports whether stdin is a pipe or file rather than a terminal
func stdinPiped() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}

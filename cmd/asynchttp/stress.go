package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/studiowebux/asynchttp/internal/cli"
	"github.com/studiowebux/asynchttp/internal/output"
	"github.com/studiowebux/asynchttp/internal/stresstest"
)

var stressCmd = &cobra.Command{
	Use:   "stress <file>",
	Short: "Send a request many times concurrently and report latency",
	Long: `Send the request from a file many times over the shared engine.

Responses outside --expect-status (any 2xx by default) or missing the
--contains text count as validation errors. Finished runs are stored in
the history database.`,
	Args: cobra.ExactArgs(1),
	RunE: runStress,
}

var stressRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored stress runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, store, err := openStressStore()
		if err != nil {
			return err
		}
		defer a.close()

		runs, err := store.ListRuns(cmd.Context(), flagRunsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stress runs recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tNAME\tSTATUS\tDONE\tERRORS\tP95")
		for _, r := range runs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%d\t%s\n",
				r.ID, r.StartedAt.Local().Format(time.DateTime), r.Name, r.Status,
				r.CompletedRequests, r.TotalRequests, r.TotalErrors+r.ValidationErrors,
				output.FormatDuration(r.P95DurationMs))
		}
		return tw.Flush()
	},
}

var stressShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored stress run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		a, store, err := openStressStore()
		if err != nil {
			return err
		}
		defer a.close()

		run, err := store.GetRun(cmd.Context(), id)
		if err != nil {
			return err
		}
		printRun(cmd.OutOrStdout(), run)
		return nil
	},
}

var stressDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored stress run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		a, store, err := openStressStore()
		if err != nil {
			return err
		}
		defer a.close()
		return store.DeleteRun(cmd.Context(), id)
	},
}

// Stress flags
var (
	flagConcurrency  int
	flagRequests     int
	flagRampUp       time.Duration
	flagDuration     time.Duration
	flagExpectStatus []int
	flagContains     string
	flagRunsLimit    int
)

func init() {
	f := stressCmd.Flags()
	f.StringVarP(&flagName, "name", "n", "", "Request to run when the file holds several (fuzzy)")
	f.IntVarP(&flagConcurrency, "concurrency", "c", 10, "Requests in flight at once")
	f.IntVarP(&flagRequests, "requests", "r", 100, "Total requests to send")
	f.DurationVar(&flagRampUp, "ramp-up", 0, "Spread request starts over this window")
	f.DurationVar(&flagDuration, "duration", 0, "Stop scheduling requests after this long")
	f.IntSliceVar(&flagExpectStatus, "expect-status", nil, "Accepted status codes (default any 2xx)")
	f.StringVar(&flagContains, "contains", "", "Text every response body must contain")
	f.StringArrayVarP(&flagHeaders, "header", "H", []string{}, "Add a header (\"Key: Value\"), can be repeated")
	f.StringArrayVarP(&flagExtraVars, "extra-vars", "e", []string{}, "Set variable (key=value), can be repeated")
	f.StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file")

	stressRunsCmd.Flags().IntVarP(&flagRunsLimit, "limit", "l", 20, "Number of runs to list (0 for all)")

	stressCmd.AddCommand(stressRunsCmd, stressShowCmd, stressDeleteCmd)
}

func runStress(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	opts := runOptions()
	opts.FilePath = args[0]
	_, def, err := cli.Load(a.env, opts)
	if err != nil {
		return err
	}

	name := def.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", def.Method, def.URL)
	}
	exec, err := stresstest.NewExecutor(a.env.Client, def, &stresstest.Config{
		Name:           name,
		Concurrency:    flagConcurrency,
		TotalRequests:  flagRequests,
		RampUp:         flagRampUp,
		Duration:       flagDuration,
		ExpectedStatus: flagExpectStatus,
		BodyContains:   flagContains,
	}, a.env.Logger)
	if err != nil {
		return err
	}

	if output.IsTerminal(os.Stderr) {
		var mu sync.Mutex
		exec.OnResult = func(s stresstest.Stats) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(os.Stderr, "\r%d/%d requests  %.0f%%  errors %d",
				s.CompletedRequests, s.TotalRequests, s.Progress(), s.ErrorCount+s.ValidationErrorCount)
		}
	}

	run, runErr := exec.Run(cmd.Context())
	if exec.OnResult != nil {
		fmt.Fprintln(os.Stderr)
	}
	if runErr != nil && !errors.Is(runErr, cmd.Context().Err()) {
		return runErr
	}

	if a.env.History != nil {
		store := stresstest.NewStore(a.env.History.DB(), a.env.History.Dialect())
		// the run is stored even when interrupted
		if err := store.SaveRun(context.WithoutCancel(cmd.Context()), run); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save stress run: %v\n", err)
		}
	}

	printRun(cmd.OutOrStdout(), run)
	if run.TotalErrors+run.ValidationErrors > 0 {
		return cli.ErrRequestFailed
	}
	return nil
}

func openStressStore() (*app, *stresstest.Store, error) {
	a, err := openJournal()
	if err != nil {
		return nil, nil, err
	}
	return a, stresstest.NewStore(a.env.History.DB(), a.env.History.Dialect()), nil
}

// printRun writes a run summary
func printRun(w io.Writer, r *stresstest.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if r.ID != 0 {
		fmt.Fprintf(tw, "Run:\t#%d %s\n", r.ID, r.Name)
	} else {
		fmt.Fprintf(tw, "Run:\t%s\n", r.Name)
	}
	fmt.Fprintf(tw, "Request:\t%s %s\n", r.Method, r.URL)
	fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
	fmt.Fprintf(tw, "Elapsed:\t%s\n", r.Elapsed().Round(time.Millisecond))
	fmt.Fprintf(tw, "Requests:\t%d/%d (concurrency %d)\n", r.CompletedRequests, r.TotalRequests, r.Concurrency)
	fmt.Fprintf(tw, "Errors:\t%d transport, %d validation\n", r.TotalErrors, r.ValidationErrors)
	fmt.Fprintf(tw, "Latency:\tavg %s  min %s  p50 %s  p95 %s  p99 %s  max %s\n",
		output.FormatDuration(int64(r.AvgDurationMs)), output.FormatDuration(r.MinDurationMs),
		output.FormatDuration(r.P50DurationMs), output.FormatDuration(r.P95DurationMs),
		output.FormatDuration(r.P99DurationMs), output.FormatDuration(r.MaxDurationMs))

	kinds := make([]string, 0, len(r.Errors))
	for k := range r.Errors {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		fmt.Fprintf(tw, "  %s:\t%d\n", k, r.Errors[k])
	}
	tw.Flush()
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/studiowebux/asynchttp/internal/analytics"
	"github.com/studiowebux/asynchttp/internal/output"
	"github.com/studiowebux/asynchttp/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled exchanges",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openJournal()
		if err != nil {
			return err
		}
		defer a.close()

		var entries []types.HistoryEntry
		if flagHistoryFile != "" {
			entries, err = a.env.History.LoadForFile(cmd.Context(), flagHistoryFile)
		} else {
			entries, err = a.env.History.List(cmd.Context(), flagHistoryLimit)
		}
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No history recorded.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTIME\tMETHOD\tURL\tSTATUS\tDURATION")
		for _, e := range entries {
			status := strconv.Itoa(e.ResponseStatus)
			if e.Error != "" {
				status = "error"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.Timestamp.Local().Format(time.DateTime), e.Method, e.URL, status,
				output.FormatDuration(e.Duration))
		}
		return tw.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a journaled exchange",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid history id %q", args[0])
		}
		a, err := openJournal()
		if err != nil {
			return err
		}
		defer a.close()

		e, err := a.env.History.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		format := flagOutput
		if format == "" {
			format = output.FormatText
		}
		rendered, err := output.Render(&types.RequestResult{
			Method:       e.Method,
			URL:          e.URL,
			Status:       e.ResponseStatus,
			StatusText:   e.ResponseStatusText,
			Headers:      e.ResponseHeaders,
			Body:         e.ResponseBody,
			Duration:     e.Duration,
			RequestSize:  e.RequestSize,
			ResponseSize: e.ResponseSize,
			Error:        e.Error,
		}, output.Options{
			Format: format,
			Full:   true,
			Color:  a.env.Color && a.env.Config.Output.Highlight,
			Style:  a.env.Config.Output.Style,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s  (%s)\n", e.Method, e.URL, e.Timestamp.Local().Format(time.DateTime))
		fmt.Fprint(cmd.OutOrStdout(), rendered)
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a journaled exchange",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid history id %q", args[0])
		}
		a, err := openJournal()
		if err != nil {
			return err
		}
		defer a.close()
		return a.env.History.Delete(cmd.Context(), id)
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every journaled exchange",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openJournal()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.env.History.Count(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.env.History.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries\n", n)
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the journal as JSON to file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openJournal()
		if err != nil {
			return err
		}
		defer a.close()

		w := cmd.OutOrStdout()
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			defer f.Close()
			w = f
		}
		return a.env.History.Export(cmd.Context(), w, flagExportLimit)
	},
}

var historyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Append exchanges from a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openJournal()
		if err != nil {
			return err
		}
		defer a.close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open import file: %w", err)
		}
		defer f.Close()

		n, err := a.env.History.Import(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries\n", n)
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize journaled exchanges per endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openJournal()
		if err != nil {
			return err
		}
		defer a.close()

		var since time.Time
		if flagSince > 0 {
			since = time.Now().Add(-flagSince)
		}
		stats, err := analytics.Collect(cmd.Context(), a.env.History.DB(), a.env.History.Dialect(), since)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No history recorded.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "METHOD\tENDPOINT\tCALLS\tSUCCESS\tERRORS\tNETWORK\tAVG\tMAX\tLAST")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f%%\t%d\t%d\t%s\t%s\t%s\n",
				s.Method, s.NormalizedPath, s.TotalCalls, s.SuccessRate(), s.ErrorCount, s.NetworkErrors,
				output.FormatDuration(int64(s.AvgDurationMs)), output.FormatDuration(s.MaxDurationMs),
				s.LastCalled.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var (
	flagSince        time.Duration
	flagHistoryLimit int
	flagHistoryFile  string
	flagExportLimit  int
)

func init() {
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "l", 20, "Number of entries to list (0 for all)")
	historyCmd.Flags().StringVar(&flagHistoryFile, "file", "", "Only list exchanges of this request file")
	historyShowCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Output format (text/json/yaml/body)")
	historyStatsCmd.Flags().DurationVar(&flagSince, "since", 0, "Only count exchanges newer than this (e.g. 24h)")
	historyExportCmd.Flags().IntVarP(&flagExportLimit, "limit", "l", 0, "Number of entries to export (0 for all)")

	historyCmd.AddCommand(historyStatsCmd, historyShowCmd, historyDeleteCmd, historyClearCmd, historyExportCmd, historyImportCmd)
}

// openJournal starts an app with the journal open
func openJournal() (*app, error) {
	a, err := newApp(true)
	if err != nil {
		return nil, err
	}
	if a.env.History == nil {
		a.close()
		return nil, errors.New("history is disabled or unavailable")
	}
	return a, nil
}

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/speedwaylabs/speedway/internal/models"
	"github.com/speedwaylabs/speedway/internal/results"
)

type filterFlags struct {
	dir      string
	task     string
	agent    string
	model    string
	language string
	status   []string
	since    time.Duration
	limit    int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "results-dir", "results", "results directory")
	cmd.Flags().StringVar(&f.task, "task", "", "filter by task")
	cmd.Flags().StringVar(&f.agent, "agent", "", "filter by agent")
	cmd.Flags().StringVar(&f.model, "model", "", "filter by model")
	cmd.Flags().StringVar(&f.language, "language", "", "filter by language")
	cmd.Flags().StringSliceVar(&f.status, "status", nil, "filter by status (repeatable)")
	cmd.Flags().DurationVar(&f.since, "since", 0, "only results finished within this window (e.g. 24h)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "cap the number of rows")
}

func (f *filterFlags) filter() results.Filter {
	flt := results.Filter{
		Task:     f.task,
		Agent:    f.agent,
		Model:    f.model,
		Language: f.language,
		Limit:    f.limit,
	}
	for _, s := range f.status {
		flt.Statuses = append(flt.Statuses, models.Status(s))
	}
	if f.since > 0 {
		flt.Since = time.Now().UTC().Add(-f.since)
	}
	return flt
}

func (f *filterFlags) store() (*results.Store, error) {
	return results.Open(f.dir)
}

func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Query recorded experiment results",
	}
	cmd.AddCommand(newResultsListCmd(), newResultsStatsCmd(), newResultsLatestCmd())
	return cmd
}

func newResultsListCmd() *cobra.Command {
	var flags filterFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List matching results, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.store()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Query(flags.filter())
			if err != nil {
				return err
			}
			printRecords(records)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newResultsStatsCmd() *cobra.Command {
	var flags filterFlags
	var groupBy []string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate results by task, agent, model, or language",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.store()
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.Stats(groupBy, flags.filter())
			if err != nil {
				return err
			}
			for _, row := range rows {
				fmt.Printf("%-40s total=%-4d passed=%-4d failed=%-4d errors=%-4d timeouts=%-4d pass_rate=%.2f%% avg_duration=%.1fs\n",
					groupLabel(row.Group, groupBy), row.Total, row.Passed, row.Failed,
					row.Errors, row.Timeouts, row.PassRate*100, row.AvgDurationSec)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&groupBy, "by", []string{"agent"}, "fields to group by (task, agent, model, language)")
	return cmd
}

func newResultsLatestCmd() *cobra.Command {
	var flags filterFlags
	var groupBy []string
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recent result per group",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := flags.store()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.LatestPerGroup(groupBy, flags.filter())
			if err != nil {
				return err
			}
			printRecords(records)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&groupBy, "by", []string{"task", "agent"}, "fields to group by (task, agent, model, language)")
	return cmd
}

func groupLabel(group map[string]string, groupBy []string) string {
	parts := make([]string, 0, len(groupBy))
	for _, field := range groupBy {
		parts = append(parts, fmt.Sprintf("%s=%s", field, group[field]))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func printRecords(records []models.ResultRecord) {
	for _, rec := range records {
		finished := ""
		if !rec.FinishedAt.IsZero() {
			finished = rec.FinishedAt.UTC().Format(time.RFC3339)
		}
		line := fmt.Sprintf("%-16s %-20s %-14s %-10s %3d/%-3d %7.1fs  %s",
			rec.RunID, rec.Task, rec.Agent, rec.Status,
			rec.TestsPassed, rec.TestsTotal, rec.DurationSec, finished)
		if rec.ErrorMessage != "" {
			line += "  " + rec.ErrorMessage
		}
		fmt.Println(line)
	}
}

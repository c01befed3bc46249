package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"boqmatch/internal/api"
	"boqmatch/internal/boq"
	"boqmatch/internal/ingest"
	"boqmatch/internal/jobs"
	"boqmatch/internal/store"
)

var jobStatusOrder = func() []string {
	statuses := store.AllStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}()

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:     "job",
		Aliases: []string{"jobs"},
		Short:   "Submit and inspect matching jobs",
	}
	jobCmd.AddCommand(newJobSubmitCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobStatusCommand(ctx))
	jobCmd.AddCommand(newJobWatchCommand(ctx))
	jobCmd.AddCommand(newJobCancelCommand(ctx))
	jobCmd.AddCommand(newJobResultsCommand(ctx))
	jobCmd.AddCommand(newJobStatsCommand(ctx))
	jobCmd.AddCommand(newJobReviewCommand(ctx))
	jobCmd.AddCommand(newJobSetMatchCommand(ctx))
	jobCmd.AddCommand(newJobRematchCommand(ctx))
	return jobCmd
}

func newJobSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		name   string
		method string
		sheet  string
		depth  int
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "submit <boq-file>",
		Short: "Parse a bill of quantities and submit it for matching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open bill file: %w", err)
			}
			defer file.Close()

			items, err := ingest.ReadLineItems(file, filepath.Base(path), ingest.Options{Sheet: sheet, MaxContextDepth: depth})
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}

			client := ctx.client()
			resp, err := client.SubmitJob(cmd.Context(), api.SubmitJobRequest{Name: name, Method: method, Items: items})
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			job := resp.Job
			out := cmd.OutOrStdout()
			if !watch {
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(out, "Submitted job %s with %d items (%s)\n", job.ID, job.ItemCount, job.Method)
				return nil
			}
			if !ctx.jsonOutput() {
				fmt.Fprintf(out, "Submitted job %s with %d items (%s)\n", job.ID, job.ItemCount, job.Method)
			}
			return watchJob(cmd, ctx, job.ID)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Job name (defaults to the file name)")
	cmd.Flags().StringVarP(&method, "method", "m", "", methodFlagUsage())
	cmd.Flags().StringVar(&sheet, "sheet", "", "Only read this worksheet")
	cmd.Flags().IntVar(&depth, "context-depth", 0, "Maximum number of context headers kept per item")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job finishes")
	return cmd
}

func watchJob(cmd *cobra.Command, ctx *commandContext, id string) error {
	out := cmd.OutOrStdout()
	last, err := ctx.client().WatchJob(cmd.Context(), id, func(evt jobs.ProgressEvent) error {
		if ctx.jsonOutput() {
			return writeJSON(cmd, evt)
		}
		fmt.Fprintf(out, "%-10s %5.1f%%  %d/%d processed, %d matched\n",
			evt.Status, evt.Progress, evt.Processed, evt.Total, evt.Matched)
		return nil
	})
	if err != nil {
		return ctx.wrapDaemonError(err)
	}
	if last.Error != "" {
		return fmt.Errorf("job %s %s: %s", id, last.Status, last.Error)
	}
	return nil
}

func newJobWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow job progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchJob(cmd, ctx, args[0])
		},
	}
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().ListJobs(cmd.Context(), statuses...)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					job.ID,
					truncate(job.Name, 30),
					job.Status,
					job.Method,
					fmt.Sprintf("%.0f%%", job.Progress),
					fmt.Sprintf("%d/%d", job.MatchedCount, job.ItemCount),
					job.CreatedAt,
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"ID", "Name", "Status", "Method", "Progress", "Matched", "Created"},
				rows,
				4, 5,
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status ("+strings.Join(jobStatusOrder, ", ")+")")
	return cmd
}

func newJobStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Job(cmd.Context(), args[0])
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			printJob(cmd, resp.Job)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:       %s\n", job.ID)
	if job.Name != "" {
		fmt.Fprintf(out, "Name:      %s\n", job.Name)
	}
	fmt.Fprintf(out, "Status:    %s\n", job.Status)
	fmt.Fprintf(out, "Method:    %s\n", job.Method)
	fmt.Fprintf(out, "Progress:  %.1f%% (%d/%d processed, %d matched)\n", job.Progress, job.ProcessedCount, job.ItemCount, job.MatchedCount)
	fmt.Fprintf(out, "Running:   %s\n", yesNo(job.Running))
	if job.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", job.Error)
	}
	if job.CreatedAt != "" {
		fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt)
	}
	if job.CompletedAt != "" {
		fmt.Fprintf(out, "Completed: %s\n", job.CompletedAt)
	}
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().CancelJob(cmd.Context(), args[0])
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s (%s)\n", resp.Job.ID, resp.Job.Status)
			return nil
		},
	}
}

func newJobResultsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "results <job-id>",
		Short: "Show the stored results of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Results(cmd.Context(), args[0])
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			printResults(cmd, resp.Results)
			return nil
		},
	}
}

func printResults(cmd *cobra.Command, results []boq.MatchResult) {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, result := range results {
		row := []string{strconv.Itoa(result.RowNumber), truncate(result.Description, 40)}
		row = append(row, resultColumns(result)...)
		flag := ""
		switch {
		case result.ManuallyEdited:
			flag = "manual"
		case result.ErrorNote != "":
			flag = truncate(result.ErrorNote, 30)
		}
		rows = append(rows, append(row, flag))
	}
	fmt.Fprint(out, renderTable(
		[]string{"Row", "Item", "Entry", "Catalog description", "Unit", "Rate", "Confidence", "Tier", "Note"},
		rows,
		0, 5, 6,
	))
}

func newJobStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <job-id>",
		Short: "Show matching statistics for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Stats(cmd.Context(), args[0])
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			printJob(cmd, resp.Job)
			out := cmd.OutOrStdout()
			m := resp.Metrics
			if m == nil {
				fmt.Fprintln(out, "No in-memory metrics for this job")
				return nil
			}
			fmt.Fprintln(out)
			rows := [][]string{
				{"Matches logged", strconv.Itoa(m.Matches)},
				{"Matched", strconv.Itoa(m.Matched)},
				{"Errors", strconv.Itoa(m.Errors)},
				{"Low confidence", strconv.Itoa(m.LowConfidence)},
				{"Average confidence", formatConfidence(m.AvgConfidence)},
				{"Average item time", m.AvgProcessingTime.String()},
				{"Cache hit rate", fmt.Sprintf("%.0f%%", m.CacheHitRate*100)},
				{"API calls", strconv.Itoa(m.APICalls)},
				{"Batches", strconv.Itoa(m.Batches)},
				{"Average batch time", m.AvgBatchDuration.String()},
			}
			fmt.Fprint(out, renderTable([]string{"Metric", "Value"}, rows, 1))
			return nil
		},
	}
}

func newJobReviewCommand(ctx *commandContext) *cobra.Command {
	var threshold float64
	var limit int
	cmd := &cobra.Command{
		Use:   "review <job-id>",
		Short: "List low-confidence and unmatched results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Review(cmd.Context(), args[0], threshold, limit)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Results below %s confidence\n", formatConfidence(resp.Threshold))
			printResults(cmd, resp.Results)
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", -1, "Confidence threshold (defaults to the daemon setting)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	return cmd
}

func newJobSetMatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-match <job-id> <row> <entry-id>",
		Short: "Pin a row to a catalog entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRowArg(args[1])
			if err != nil {
				return err
			}
			resp, err := ctx.client().SetManualMatch(cmd.Context(), args[0], row, args[2])
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Row %d of job %s set to %s\n", row, args[0], args[2])
			return nil
		},
	}
}

func newJobRematchCommand(ctx *commandContext) *cobra.Command {
	var method string
	var force bool
	cmd := &cobra.Command{
		Use:   "rematch <job-id> <row>",
		Short: "Re-run matching for one row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRowArg(args[1])
			if err != nil {
				return err
			}
			resp, err := ctx.client().Rematch(cmd.Context(), args[0], row, api.RematchRequest{Method: method, Force: force})
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			printResults(cmd, []boq.MatchResult{resp.Result})
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "", "Matching method (defaults to the job's method)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace a manually set match")
	return cmd
}

func parseRowArg(value string) (int, error) {
	row, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || row < 1 {
		return 0, fmt.Errorf("invalid row number %q", value)
	}
	return row, nil
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"boqmatch/internal/daemonctl"
	"boqmatch/internal/preflight"
)

type statusReport struct {
	Checks     []preflight.Result `json:"checks"`
	Daemon     string             `json:"daemon"`
	Address    string             `json:"address"`
	PID        int                `json:"pid,omitempty"`
	Store      string             `json:"store,omitempty"`
	ActiveJobs int                `json:"active_jobs"`
	JobCounts  map[string]int     `json:"job_counts,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show environment checks and daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			report := statusReport{
				Checks:  preflight.RunAll(cmd.Context(), cfg),
				Daemon:  "stopped",
				Address: ctx.apiAddress(),
			}
			if pid, err := daemonctl.ReadPID(cfg.PIDPath()); err == nil && daemonctl.ProcessAlive(pid) {
				report.PID = pid
			}

			client := ctx.client()
			health, err := client.Health(cmd.Context())
			if err != nil {
				report.Error = ctx.wrapDaemonError(err).Error()
			} else {
				report.Daemon = health.Status
				report.Store = health.Store
				report.ActiveJobs = health.ActiveJobs
				report.Error = health.Error
				if list, err := client.ListJobs(cmd.Context()); err == nil {
					report.JobCounts = make(map[string]int)
					for _, job := range list.Jobs {
						report.JobCounts[job.Status]++
					}
				}
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Environment", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, check := range report.Checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			daemonKind := statusOK
			switch report.Daemon {
			case "stopped":
				daemonKind = statusWarn
			case "degraded":
				daemonKind = statusError
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", daemonKind, report.Daemon, colorize))
			fmt.Fprintln(out, renderStatusLine("Address", statusInfo, report.Address, colorize))
			if report.PID > 0 {
				fmt.Fprintln(out, renderStatusLine("PID", statusInfo, strconv.Itoa(report.PID), colorize))
			}
			if report.Store != "" {
				fmt.Fprintln(out, renderStatusLine("Store", statusInfo, report.Store, colorize))
			}
			if report.Error != "" {
				fmt.Fprintln(out, renderStatusLine("Error", statusError, report.Error, colorize))
			}
			if report.Daemon == "stopped" {
				return nil
			}
			fmt.Fprintln(out, renderStatusLine("Active jobs", statusInfo, strconv.Itoa(report.ActiveJobs), colorize))
			fmt.Fprintln(out)

			if len(report.JobCounts) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			var rows [][]string
			for _, status := range jobStatusOrder {
				if count := report.JobCounts[status]; count > 0 {
					rows = append(rows, []string{status, strconv.Itoa(count)})
				}
			}
			fmt.Fprint(out, renderTable([]string{"Status", "Jobs"}, rows, 1))
			return nil
		},
	}
}

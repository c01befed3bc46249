package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"boqmatch/internal/api"
	"boqmatch/internal/logging"
)

const logPageSize = 200

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow    bool
		lines     int
		jobID     string
		component string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			query := api.LogQuery{
				Limit:     lines,
				Tail:      true,
				JobID:     jobID,
				Component: component,
			}
			if query.Limit <= 0 {
				query.Limit = logPageSize
			}

			out := cmd.OutOrStdout()
			printed := false
			for {
				resp, err := client.Logs(cmd.Context(), query)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					if follow && isPollTimeout(err) {
						continue
					}
					return ctx.wrapDaemonError(err)
				}
				for _, evt := range resp.Events {
					if ctx.jsonOutput() {
						if err := writeJSON(cmd, evt); err != nil {
							return err
						}
					} else {
						fmt.Fprintln(out, formatLogEvent(evt))
					}
					printed = true
				}
				if !follow {
					if !printed && !ctx.jsonOutput() {
						fmt.Fprintln(out, "No log entries available")
					}
					return nil
				}
				if resp.Next > query.Since {
					query.Since = resp.Next
				}
				query.Limit = logPageSize
				query.Tail = false
				query.Follow = true
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent entries to show")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show entries for this job")
	cmd.Flags().StringVar(&component, "component", "", "Only show entries from this component")
	return cmd
}

// isPollTimeout reports a long-poll that outlived the client timeout with no
// new events.
func isPollTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func formatLogEvent(evt logging.LogEvent) string {
	level := strings.ToUpper(strings.TrimSpace(evt.Level))
	if level == "" {
		level = "INFO"
	}
	line := evt.Timestamp.Local().Format("2006-01-02 15:04:05") + " " + level
	if component := strings.TrimSpace(evt.Component); component != "" {
		line += fmt.Sprintf(" [%s]", component)
	}
	row := ""
	if evt.RowNumber > 0 {
		row = strconv.FormatInt(evt.RowNumber, 10)
	}
	if subject := logging.FormatSubject(evt.JobID, row, evt.Method); subject != "" {
		line += " " + subject
	}
	if message := strings.TrimSpace(evt.Message); message != "" {
		line += " – " + message
	}

	var b strings.Builder
	b.WriteString(line)
	for _, detail := range evt.Details {
		if strings.TrimSpace(detail.Label) == "" || strings.TrimSpace(detail.Value) == "" {
			continue
		}
		b.WriteString("\n    - ")
		b.WriteString(detail.Label)
		b.WriteString(": ")
		b.WriteString(detail.Value)
	}
	return b.String()
}

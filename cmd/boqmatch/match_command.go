package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"boqmatch/internal/api"
	"boqmatch/internal/boq"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var (
		unit    string
		method  string
		headers []string
		sheet   string
		top     int
	)
	cmd := &cobra.Command{
		Use:   "match <description>",
		Short: "Match one description against the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.MatchRequest{
				Description:    strings.Join(args, " "),
				Unit:           unit,
				ContextHeaders: headers,
				SheetName:      sheet,
				Method:         method,
				TopK:           top,
			}
			client := ctx.client()
			out := cmd.OutOrStdout()

			if top > 0 {
				resp, err := client.TopMatches(cmd.Context(), req)
				if err != nil {
					return ctx.wrapDaemonError(err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				if len(resp.Results) == 0 {
					fmt.Fprintln(out, "No candidates")
					return nil
				}
				rows := make([][]string, 0, len(resp.Results))
				for i, result := range resp.Results {
					rows = append(rows, append([]string{strconv.Itoa(i + 1)}, resultColumns(result)...))
				}
				fmt.Fprint(out, renderTable(
					[]string{"#", "Entry", "Description", "Unit", "Rate", "Confidence", "Tier"},
					rows,
					0, 4, 5,
				))
				return nil
			}

			resp, err := client.Match(cmd.Context(), req)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			result := resp.Result
			if result.Entry == nil {
				fmt.Fprintln(out, "No match")
				if result.ErrorNote != "" {
					fmt.Fprintf(out, "Note: %s\n", result.ErrorNote)
				}
				return nil
			}
			fmt.Fprintf(out, "Entry:      %s %s\n", result.Entry.ID, result.Entry.Description)
			fmt.Fprintf(out, "Unit/Rate:  %s @ %.2f\n", result.Entry.Unit, result.Entry.Rate)
			fmt.Fprintf(out, "Confidence: %s (%s, %s)\n", formatConfidence(result.Confidence), result.Breakdown.Tier, result.Method)
			fmt.Fprintf(out, "Confident:  %s\n", yesNo(resp.Confident))
			return nil
		},
	}
	cmd.Flags().StringVarP(&unit, "unit", "u", "", "Unit of measure of the line item")
	cmd.Flags().StringVarP(&method, "method", "m", "", methodFlagUsage())
	cmd.Flags().StringArrayVar(&headers, "header", nil, "Context header, outermost first (repeatable)")
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet name used as trade context")
	cmd.Flags().IntVar(&top, "top", 0, "List the top N candidates instead of the best match")
	return cmd
}

func resultColumns(result boq.MatchResult) []string {
	if result.Entry == nil {
		return []string{"-", "", "", "", formatConfidence(result.Confidence), string(result.Breakdown.Tier)}
	}
	return []string{
		result.Entry.ID,
		truncate(result.Entry.Description, 50),
		result.Entry.Unit,
		strconv.FormatFloat(result.Entry.Rate, 'f', 2, 64),
		formatConfidence(result.Confidence),
		string(result.Breakdown.Tier),
	}
}

func methodFlagUsage() string {
	names := make([]string, 0, len(boq.Methods()))
	for _, m := range boq.Methods() {
		names = append(names, string(m))
	}
	return "Matching method (" + strings.Join(names, ", ") + ")"
}

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/call"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/models"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Inspect ingested calls",
	}

	cmd.AddCommand(newCallShowCmd())
	cmd.AddCommand(newCallListCmd())
	return cmd
}

func newCallShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <call_id>",
		Short: "Show a call's state and sequencing metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCallShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	return cmd
}

func runCallShow(cmd *cobra.Command, configPath, callID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	c, err := call.Get(cmd.Context(), gormDB, callID)
	if err != nil {
		return err
	}
	printCall(cmd.OutOrStdout(), c)
	return nil
}

func printCall(out io.Writer, c *models.Call) {
	expected := "-"
	if c.ExpectedTotalPackets != nil {
		expected = fmt.Sprint(*c.ExpectedTotalPackets)
	}

	fmt.Fprintf(out, "Call:       %s\n", c.CallID)
	fmt.Fprintf(out, "State:      %s\n", c.State)
	fmt.Fprintf(out, "Received:   %d (expected %s)\n", c.TotalPacketsReceived, expected)
	fmt.Fprintf(out, "Next seq:   %d\n", c.ExpectedNextSequence)
	fmt.Fprintf(out, "Missing:    %s\n", joinInts(c.MissingSequences))
	fmt.Fprintf(out, "Created:    %s\n", c.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:    %s\n", c.UpdatedAt.Format(time.RFC3339))
	if c.Sentiment != nil {
		fmt.Fprintf(out, "Sentiment:  %s\n", *c.Sentiment)
	}
	if c.Transcription != nil {
		fmt.Fprintf(out, "\nTranscription:\n%s\n", *c.Transcription)
	}
}

func newCallListCmd() *cobra.Command {
	var (
		configPath string
		state      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calls, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCallList(cmd, configPath, state, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().StringVar(&state, "state", "", "filter by state (IN_PROGRESS, COMPLETED, PROCESSING_AI, ARCHIVED, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of calls to show")
	return cmd
}

func runCallList(cmd *cobra.Command, configPath, state string, limit int) error {
	filters := call.Filters{Limit: limit}
	if state != "" {
		s := models.CallState(strings.ToUpper(state))
		if _, ok := call.ValidTransitions[s]; !ok {
			return fmt.Errorf("unknown state %q", state)
		}
		filters.State = s
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	calls, err := call.List(cmd.Context(), gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(calls) == 0 {
		fmt.Fprintln(out, "No calls found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CALL\tSTATE\tRECEIVED\tNEXT\tMISSING\tUPDATED")
	for _, c := range calls {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			c.CallID, c.State, c.TotalPacketsReceived, c.ExpectedNextSequence,
			truncate(joinInts(c.MissingSequences), 30), c.UpdatedAt.Format(time.DateTime))
	}
	w.Flush()
	return nil
}

func joinInts(ints []int) string {
	if len(ints) == 0 {
		return "-"
	}
	parts := make([]string, len(ints))
	for i, n := range ints {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"auditlog/internal/storage"
	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/summary"
	pkgstrings "auditlog/pkg/platform/strings"
)

const defaultListLimit = 50

func newListCmd(open opener) *cobra.Command {
	var (
		filter  audit.Filter
		actions []string
		since   string
		until   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range pkgstrings.DedupeAndTrimLower(actions) {
				a, err := audit.ParseAction(s)
				if err != nil {
					return err
				}
				filter.Actions = append(filter.Actions, a)
			}
			var err error
			if filter.Since, err = parseFlagTime("since", since); err != nil {
				return err
			}
			if filter.Until, err = parseFlagTime("until", until); err != nil {
				return err
			}

			return withStore(cmd.Context(), open, func(b *storage.Backend) error {
				entries, err := b.Store.List(cmd.Context(), filter)
				if err != nil {
					return fmt.Errorf("listing entries: %w", err)
				}
				return printEntries(cmd.OutOrStdout(), entries)
			})
		},
	}

	cmd.Flags().StringVarP(&filter.ResourceType, "type", "t", "", "Filter by resource type")
	cmd.Flags().StringVar(&filter.ResourceID, "id", "", "Filter by resource ID")
	cmd.Flags().StringVarP(&filter.ActorID, "actor", "a", "", "Filter by actor ID")
	cmd.Flags().StringSliceVar(&actions, "action", nil, "Filter by action (repeatable)")
	cmd.Flags().StringVar(&since, "since", "", "Only entries at or after this RFC 3339 time")
	cmd.Flags().StringVar(&until, "until", "", "Only entries before this RFC 3339 time")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "l", defaultListLimit, "Maximum number of entries")
	return cmd
}

func parseFlagTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}

func printEntries(out io.Writer, entries []audit.LogEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No entries found.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tACTION\tTYPE\tRESOURCE\tACTOR\tSUMMARY\tID")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			summary.Created(e),
			e.Action,
			e.ResourceType,
			summary.ResourceLabel(e),
			summary.ActorLabel(e),
			summary.Short(e),
			e.ID,
		)
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"auditlog/internal/storage"
	id "auditlog/pkg/domain"
	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/summary"
)

const nullValue = "None"

func newShowCmd(open opener) *cobra.Command {
	var redactFields []string

	cmd := &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show one entry with its full change table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := id.ParseEntryID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), open, func(b *storage.Backend) error {
				entry, err := b.Store.Get(cmd.Context(), entryID)
				if err != nil {
					return err
				}
				return printEntry(cmd.OutOrStdout(), entry, redactFields)
			})
		},
	}
	cmd.Flags().StringSliceVar(&redactFields, "redact", nil, "Extra fields to mask")
	return cmd
}

func printEntry(out io.Writer, e audit.LogEntry, redactFields []string) error {
	fmt.Fprintf(out, "Entry:    %s\n", e.ID)
	fmt.Fprintf(out, "Created:  %s\n", summary.Created(e))
	fmt.Fprintf(out, "Action:   %s\n", e.Action)
	fmt.Fprintf(out, "Resource: %s %s\n", e.ResourceType, summary.ResourceLabel(e))
	fmt.Fprintf(out, "Actor:    %s\n", summary.ActorLabel(e))
	if e.RemoteAddress != "" {
		fmt.Fprintf(out, "Remote:   %s\n", e.RemoteAddress)
	}

	table := summary.Full(e, redactFields...)
	switch {
	case table.Unavailable:
		_, err := fmt.Fprintln(out, "\nChanges could not be decoded.")
		return err
	case table.Len() == 0:
		return nil
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	h := summary.Header
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h[0], h[1], h[2], h[3])
	for _, row := range table.Rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", row.Number, row.Field, orNull(row.Old), orNull(row.New))
	}
	return tw.Flush()
}

func orNull(s *string) string {
	if s == nil {
		return nullValue
	}
	return *s
}

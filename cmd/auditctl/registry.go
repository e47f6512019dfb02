package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"auditlog/pkg/platform/audit/registry"
)

func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Work with tracking registry files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a registry file and print the tracked types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			regs, err := registry.LoadFile(args[0])
			if err != nil {
				return err
			}
			tracked := registry.New(regs...)
			for _, reg := range regs {
				if a := reg.AttributeTo; a != nil && !tracked.IsTracked(a.ParentType) {
					return fmt.Errorf("%s attributes changes to untracked type %s", reg.Type, a.ParentType)
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tFIELDS\tEXCLUDE\tREDACT\tATTRIBUTED TO")
			for _, d := range tracked.Types() {
				reg, _ := tracked.Lookup(d)
				fields := "all"
				if len(reg.Fields) > 0 {
					fields = strings.Join(reg.Fields, ",")
				}
				parent := "-"
				if reg.AttributeTo != nil {
					parent = fmt.Sprintf("%s.%s", reg.AttributeTo.ParentType, reg.AttributeTo.ParentIDField)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d, fields, dash(reg.Exclude), dash(reg.Redact), parent)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func dash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ",")
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/routeharness/internal/harness/scenarios"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the scripted scenarios a session can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USE\tTAG\tSTEPS\tORDERED\tPEER\tSETTLE\tINTERVAL")
			for _, s := range scenarios.All() {
				fmt.Fprintf(w, "%s\t%s\t%v\t%t\t%s\t%s\t%s\n",
					s.Name, s.Tag, s.Steps, s.Ordered, s.Defaults.Peer, s.Defaults.Settle, s.Defaults.Interval)
			}
			return w.Flush()
		},
	}
}

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

type discoverOptions struct {
	topology string
	agent    string
	self     string
	iface    int
	resolver resolverFlags
}

func newDiscoverCmd() *cobra.Command {
	o := &discoverOptions{}
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the hosts running an agent session and their addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.topology, "topology", "t", "", "YAML topology description")
	f.StringVar(&o.agent, "agent", "app", "session name to look for")
	f.StringVar(&o.self, "self", "", "host to leave out of the table")
	f.IntVar(&o.iface, "iface", 0, "interface whose address is reported")
	o.resolver.register(cmd)
	_ = cmd.MarkFlagRequired("topology")
	return cmd
}

func (o *discoverOptions) run(ctx context.Context, out io.Writer) error {
	ctx, log := logging.WithRunLogger(ctx, logging.NewFromEnv())

	desc, err := topology.LoadFile(o.topology)
	if err != nil {
		return err
	}
	var self topology.ID
	if o.self != "" {
		if self, err = topology.ParseID(o.self); err != nil {
			return err
		}
	}
	remote, closeRemote, err := o.resolver.dialRemote()
	if err != nil {
		return err
	}
	defer closeRemote()

	var res topology.Resolver
	if len(o.resolver.partitions) == 0 {
		res, _ = topology.NewDirectory(&desc.Net)
	} else {
		local, _ := topology.NewDirectory(&desc.Net, topology.WithPartitions(o.resolver.partitions...))
		res = topology.ChainResolver{Local: local, Remote: remote}
	}

	w := &topology.Walker{Agent: o.agent, Self: self, Iface: o.iface, Resolver: res, Log: log}
	table, err := w.Discover(ctx, &desc.Net)
	if err != nil {
		return err
	}
	for _, k := range table.Keys() {
		fmt.Fprintf(out, "%s\t%s\n", k, table[k])
	}
	return nil
}

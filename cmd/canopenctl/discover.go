package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/canopen"
)

var discoverCmd = &cobra.Command{
	Use:     "discover",
	Aliases: []string{"pdo", "tpdo"},
	Short:   "Discover transmit PDO mappings",
	Long: `Read the communication (0x1800..0x1803) and mapping (0x1A00..0x1A03)
parameters of the node and list the enabled transmit PDOs. With a profile,
names and types from the profile enrich the result and TPDOs declared only
by the profile are appended.`,
	Example: `  canopenctl discover -c can0 -n 3
  canopenctl discover --profile device.eds -o json`,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, prof, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	mappings, err := client.DiscoverPDOs(ctx)
	if err != nil {
		return err
	}
	if prof != nil {
		mappings = canopen.MergeMappings(mappings, prof.TPDOs)
	}
	if len(mappings) == 0 {
		outputWarning("no enabled TPDO found on node %d", client.Node())
		return nil
	}
	return outputMappings(mappings)
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/canopen"
)

var readType string

var readCmd = &cobra.Command{
	Use:     "read <address>...",
	Aliases: []string{"r", "upload"},
	Short:   "Read objects with expedited SDO uploads",
	Long: `Read one or more objects from the node. Each address is read with a
single expedited upload and decoded with the type given by --type, by a
/type suffix, or by the loaded profile.

Types: u8, u16, u32, i8, i16, i32, real32, string, octets`,
	Example: `  canopenctl read 1000:00 --type u32
  canopenctl read 2100:01/u16 2100:03/u8 -c tcp://localhost:29536
  canopenctl read 2000:01 --profile device.eds -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRead,
}

func init() {
	readCmd.Flags().StringVarP(&readType, "type", "T", "", "Data type for addresses without a /type suffix")
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Duration(len(args)+1))
	defer cancel()

	defaultType := canopen.TypeUnknown
	if readType != "" {
		t, err := canopen.ParseDataType(readType)
		if err != nil {
			return err
		}
		defaultType = t
	}

	client, _, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	readings := make([]canopen.Reading, 0, len(args))
	failed := 0
	for _, arg := range args {
		addr, t, err := parseTarget(arg)
		if err != nil {
			return err
		}
		if t == canopen.TypeUnknown {
			t = defaultType
		}
		if err := ensureRegistered(client.Directory(), addr, t); err != nil {
			return err
		}

		r, err := client.Read(ctx, addr)
		if err != nil {
			failed++
		}
		readings = append(readings, r)
	}

	if err := outputReadings(readings); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d reads failed", failed, len(args))
	}
	return nil
}

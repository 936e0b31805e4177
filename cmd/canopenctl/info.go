package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/canopen"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device identification",
	Long: `Read the device type (0x1000), the device name (0x1008) and the
identity object (0x1018:01..04) of the node.`,
	Example: `  canopenctl info -c can0 -n 5
  canopenctl info -c tcp://localhost:29536 -o json`,
	RunE: runInfo,
}

// identityObjects are read in order by info.
var identityObjects = []struct {
	addr canopen.Address
	typ  canopen.DataType
	name string
}{
	{canopen.Address{Index: 0x1000, Sub: 0x00}, canopen.UInt32, "Device type"},
	{canopen.Address{Index: 0x1008, Sub: 0x00}, canopen.VisibleString, "Device name"},
	{canopen.Address{Index: 0x1018, Sub: 0x01}, canopen.UInt32, "Vendor ID"},
	{canopen.Address{Index: 0x1018, Sub: 0x02}, canopen.UInt32, "Product code"},
	{canopen.Address{Index: 0x1018, Sub: 0x03}, canopen.UInt32, "Revision number"},
	{canopen.Address{Index: 0x1018, Sub: 0x04}, canopen.UInt32, "Serial number"},
}

// DeviceInfo is the JSON form of the info command.
type DeviceInfo struct {
	Node        uint8             `json:"node"`
	Channel     string            `json:"channel"`
	DeviceType  string            `json:"device_type,omitempty"`
	Profile     uint16            `json:"profile,omitempty"`
	DeviceName  string            `json:"device_name,omitempty"`
	Identity    map[string]string `json:"identity,omitempty"`
	Unavailable []string          `json:"unavailable,omitempty"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, _, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	info := DeviceInfo{
		Node:     uint8(client.Node()),
		Channel:  viper.GetString("channel"),
		Identity: make(map[string]string),
	}
	dir := client.Directory()

	var readings []canopen.Reading
	for _, obj := range identityObjects {
		if err := dir.Register(obj.addr, obj.typ, canopen.WithName(obj.name)); err != nil {
			logger.Debug("identity object already declared", "address", obj.addr, "error", err)
		}
		r, err := client.Read(ctx, obj.addr)
		readings = append(readings, r)
		if err != nil {
			info.Unavailable = append(info.Unavailable, obj.name)
			continue
		}

		switch obj.addr.Index {
		case 0x1000:
			info.DeviceType = fmt.Sprintf("0x%08X", r.Value.Uint)
			info.Profile = uint16(r.Value.Uint)
		case 0x1008:
			info.DeviceName = r.Value.Text
		default:
			info.Identity[obj.name] = fmt.Sprintf("0x%08X", r.Value.Uint)
		}
	}

	if len(info.Unavailable) == len(identityObjects) {
		return fmt.Errorf("node %d did not answer: %w", info.Node, readings[0].Err)
	}

	switch viper.GetString("output") {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "csv":
		return outputReadings(readings)
	}

	fmt.Printf("\n%s\n", color(colorBold, fmt.Sprintf("Node %d on %s", info.Node, info.Channel)))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for i, obj := range identityObjects {
		r := readings[i]
		val := color(colorYellow, "n/a")
		if r.Err == nil {
			switch obj.typ {
			case canopen.VisibleString:
				val = r.Value.Text
			default:
				val = fmt.Sprintf("0x%08X", r.Value.Uint)
			}
		}
		if obj.addr.Index == 0x1000 && r.Err == nil {
			val += fmt.Sprintf(" (CiA %d)", info.Profile)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", obj.addr, obj.name, val)
	}
	w.Flush()
	fmt.Println()
	return nil
}

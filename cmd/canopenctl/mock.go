package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/canopen"
	"github.com/edgeo-scada/canopen/internal/transport"
)

var (
	mockListen    string
	mockBroadcast time.Duration
	mockDelay     time.Duration
	mockMaxConns  int
)

var mockCmd = &cobra.Command{
	Use:     "mock",
	Aliases: []string{"sim", "node"},
	Short:   "Run a simulated CANopen node",
	Long: `Run a simulated node that answers expedited SDO uploads and
broadcasts TPDO1 (temperature, pressure, status) at a fixed period.

With --listen a CAN-over-TCP hub is started on the given address and the
node joins it; other canopenctl commands reach the node with
-c tcp://<address>. Without --listen the node opens --channel directly.`,
	Example: `  canopenctl mock --listen :29536
  canopenctl mock -n 5 -c vcan0 --broadcast 500ms`,
	RunE: runMock,
}

func init() {
	mockCmd.Flags().StringVar(&mockListen, "listen", "", "Start a TCP hub on this address")
	mockCmd.Flags().DurationVar(&mockBroadcast, "broadcast", 100*time.Millisecond, "TPDO1 period (0 disables)")
	mockCmd.Flags().DurationVar(&mockDelay, "delay", 0, "Delay before every SDO response")
	mockCmd.Flags().IntVar(&mockMaxConns, "max-conns", 16, "Maximum hub connections")
}

func runMock(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node := currentNode()
	if !node.Valid() {
		return fmt.Errorf("node %d out of range 1..127", node)
	}

	ch := viper.GetString("channel")
	if mockListen != "" {
		ln, err := net.Listen("tcp", mockListen)
		if err != nil {
			return fmt.Errorf("hub listen: %w", err)
		}
		hub := transport.NewHub(logger, mockMaxConns)
		go func() {
			if err := hub.Serve(ln); err != nil {
				logger.Error("hub stopped", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			hub.Close()
			outputInfo("Hub relayed %d frames", hub.Frames())
		}()
		ch = "tcp://" + dialAddr(ln.Addr())
		outputInfo("CAN hub listening on %s", ln.Addr())
	}

	t, err := canopen.OpenTransport(ctx, ch, 5*time.Second)
	if err != nil {
		return err
	}

	n, err := canopen.NewNode(t, node, nil,
		canopen.WithNodeLogger(logger),
		canopen.WithBroadcastInterval(mockBroadcast),
		canopen.WithResponseDelay(mockDelay),
	)
	if err != nil {
		t.Close()
		return err
	}
	defer n.Close()

	outputSuccess("Node %d serving on %s (SDO 0x%03X/0x%03X, TPDO1 0x%03X)",
		node, ch, canopen.RequestID(node), canopen.ResponseID(node), canopen.DefaultTPDOCOBID(1, node))

	err = n.Serve(ctx)
	m := n.Metrics()
	outputInfo("%d requests, %d responses, %d aborts, %d broadcasts",
		m.Requests.Value(), m.Responses.Value(), m.Aborts.Value(), m.Broadcasts.Value())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// dialAddr turns a wildcard listen address into one a local client can dial.
func dialAddr(a net.Addr) string {
	tcp, ok := a.(*net.TCPAddr)
	if !ok || !tcp.IP.IsUnspecified() {
		return a.String()
	}
	return net.JoinHostPort("127.0.0.1", fmt.Sprint(tcp.Port))
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/canopen"
	"github.com/edgeo-scada/canopen/profile"
	"github.com/edgeo-scada/canopen/sink"
)

var (
	watchInterval time.Duration
	watchCount    int
	watchLogFile  string
	watchTPDOs    bool
	watchHealth   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <address[/type]>...",
	Short: "Continuously poll objects",
	Long: `Poll objects at a fixed rate through the session supervisor and print
every reading. With --tpdo the enabled transmit PDOs are discovered and
their broadcasts decoded as well. A periodic read of 0x1000 tracks the
liveness of the node.`,
	Example: `  # Poll temperature and pressure every 500ms
  canopenctl watch 2100:01/u16 2100:02/u16 -i 500ms

  # Log to CSV and follow broadcasts
  canopenctl watch 2100:01/u16 --tpdo --log values.csv

  # Stop after 20 events
  canopenctl watch 1000:00/u32 -i 1s -N 20`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", time.Second, "Poll interval")
	watchCmd.Flags().IntVarP(&watchCount, "iterations", "N", 0, "Stop after this many value events (0 = infinite)")
	watchCmd.Flags().StringVar(&watchLogFile, "log", "", "Log events to file (CSV format)")
	watchCmd.Flags().BoolVar(&watchTPDOs, "tpdo", false, "Discover and decode TPDO broadcasts")
	watchCmd.Flags().BoolVar(&watchHealth, "health", true, "Track node liveness")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !watchTPDOs {
		return fmt.Errorf("nothing to watch: give addresses or --tpdo")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, prof, err := openClient(ctx)
	if err != nil {
		return err
	}

	sup, err := canopen.NewSupervisor(client,
		canopen.WithSupervisorLogger(logger),
		canopen.WithHealthCheck(watchHealth),
	)
	if err != nil {
		client.Close()
		return err
	}

	for _, arg := range args {
		addr, t, err := parseTarget(arg)
		if err != nil {
			client.Close()
			return err
		}
		if err := ensureRegistered(client.Directory(), addr, t); err != nil {
			client.Close()
			return err
		}
		if err := sup.Subscribe(addr, watchInterval); err != nil {
			client.Close()
			return err
		}
	}

	if watchTPDOs {
		if err := watchBroadcasts(ctx, client, sup, prof); err != nil {
			client.Close()
			return err
		}
	}

	fanout := sink.NewFanout(logger)
	if watchLogFile != "" {
		f, err := os.Create(watchLogFile)
		if err != nil {
			client.Close()
			return fmt.Errorf("create log file: %w", err)
		}
		defer f.Close()
		c, err := sink.NewCSV(f)
		if err != nil {
			client.Close()
			return err
		}
		fanout.Add(c)
		outputInfo("Logging to %s", watchLogFile)
	}
	defer fanout.Close()

	outputInfo("Watching node %d on %s (session %s), press Ctrl+C to stop", client.Node(), viper.GetString("channel"), sup.SessionID())
	return runSession(ctx, stop, sup, fanout, watchCount)
}

// runSession runs sup until ctx is done or limit value events were seen,
// printing and forwarding every event.
func runSession(ctx context.Context, stop context.CancelFunc, sup *canopen.Supervisor, fanout *sink.Fanout, limit int) error {
	errc := make(chan error, 1)
	go func() { errc <- sup.Run(ctx) }()

	seen := 0
	start := time.Now()
	for ev := range sup.Events() {
		printEvent(ev)
		if err := fanout.Write(ctx, ev); err != nil {
			logger.Debug("event not delivered to every sink", slog.String("error", err.Error()))
		}
		if ev.Kind == canopen.EventNumeric || ev.Kind == canopen.EventText {
			seen++
			if limit > 0 && seen >= limit {
				stop()
			}
		}
	}

	err := <-errc
	m := sup.Client().Metrics()
	fmt.Println()
	outputInfo("%d events in %v: %d requests, %d errors, %d timeouts, %d broadcasts, %d dropped",
		m.EventsPublished.Value(), time.Since(start).Round(time.Millisecond),
		m.RequestsTotal.Value(), m.RequestsErrors.Value(), m.Timeouts.Value(),
		m.BroadcastFrames.Value(), m.EventsDropped.Value())
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// watchBroadcasts discovers the node's TPDOs, merges the profile's and
// registers every mapping with sup.
func watchBroadcasts(ctx context.Context, client *canopen.Client, sup *canopen.Supervisor, prof *profile.Profile) error {
	mappings, err := client.DiscoverPDOs(ctx)
	if err != nil {
		return fmt.Errorf("tpdo discovery: %w", err)
	}
	if prof != nil {
		mappings = canopen.MergeMappings(mappings, prof.TPDOs)
	}
	if len(mappings) == 0 {
		outputWarning("no enabled TPDO found on node %d", client.Node())
		return nil
	}
	for _, m := range mappings {
		if err := sup.Watch(m); err != nil {
			return err
		}
		logger.Debug("watching tpdo",
			slog.Int("tpdo", m.Number),
			slog.String("cob_id", fmt.Sprintf("0x%03X", m.COBID)),
			slog.Int("objects", len(m.Objects)))
	}
	return nil
}

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
	"github.com/edgeo-scada/canopen/api"
	"github.com/edgeo-scada/canopen/sink"
)

var monitorQuiet bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run a full monitoring session from the config file",
	Long: `Run a supervised session described by the config file: polled
subscriptions, TPDO broadcasts, liveness tracking, file and broker sinks
and the HTTP API.

Example config ($HOME/.canopenctl.yaml):

  channel: can0
  node: 1
  profile: device.eds
  health:
    interval: 2s
    threshold: 2
  subscriptions:
    - address: "2100:01"
      type: u16
      interval: 500ms
  watch_tpdos: true
  log:
    csv_dir: ./logs
    cbor_file: ./events.cbor
  mqtt:
    broker: localhost
    root: plant/canopen
  valkey:
    address: localhost:6379
  kafka:
    brokers: [localhost:9092]
    topic: canopen
  api:
    listen: ":8080"`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVarP(&monitorQuiet, "quiet", "q", false, "Do not print events")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadMonitorConfig(viper.GetViper())
	if err != nil {
		return err
	}
	subs, _ := cfg.subscriptions()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prof, err := loadProfile(cfg.Profile)
	if err != nil {
		return err
	}
	dir := newDirectory(prof)
	for _, s := range subs {
		var opts []canopen.EntryOption
		if s.name != "" {
			opts = append(opts, canopen.WithName(s.name))
		}
		if err := ensureRegistered(dir, s.addr, s.typ, opts...); err != nil {
			return err
		}
	}

	client, err := canopen.Open(ctx, cfg.Channel,
		canopen.WithNodeID(canopen.NodeID(cfg.Node)),
		canopen.WithTimeout(cfg.Timeout),
		canopen.WithDirectory(dir),
		canopen.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Channel, err)
	}

	opts := []canopen.SupervisorOption{
		canopen.WithSupervisorLogger(logger),
		canopen.WithControlBuffer(len(subs) + 64),
		canopen.WithHealthCheck(cfg.HealthEnabled()),
	}
	if cfg.HealthEnabled() {
		opts = append(opts, canopen.WithHealthConfig(canopen.HealthConfig{
			Interval:         cfg.Health.Interval,
			FailureThreshold: cfg.Health.Threshold,
		}))
	}
	if cfg.EventBuffer > 0 {
		opts = append(opts, canopen.WithEventBuffer(cfg.EventBuffer))
	}
	sup, err := canopen.NewSupervisor(client, opts...)
	if err != nil {
		client.Close()
		return err
	}

	for _, s := range subs {
		if err := sup.Subscribe(s.addr, s.interval); err != nil {
			client.Close()
			return err
		}
	}
	if cfg.WatchTPDOs {
		if err := watchBroadcasts(ctx, client, sup, prof); err != nil {
			client.Close()
			return err
		}
	}

	fanout, err := buildSinks(ctx, cfg, canopen.NodeID(cfg.Node))
	if err != nil {
		client.Close()
		return err
	}
	defer fanout.Close()

	if cfg.API.Listen != "" {
		srv := api.NewServer(sup, client.Directory(), client.Metrics(), logger)
		if err := srv.Start(cfg.API.Listen); err != nil {
			client.Close()
			return fmt.Errorf("api: %w", err)
		}
		defer srv.Stop(context.Background())
		outputInfo("API listening on http://%s", srv.Addr())
	}

	outputInfo("Monitoring node %d on %s (session %s, %d subscriptions, %d sinks)",
		cfg.Node, cfg.Channel, sup.SessionID(), len(subs), fanout.Len())

	if monitorQuiet {
		return runQuiet(ctx, sup, fanout)
	}
	return runSession(ctx, stop, sup, fanout, 0)
}

// buildSinks opens every sink the config enables.
func buildSinks(ctx context.Context, cfg *MonitorConfig, node canopen.NodeID) (*sink.Fanout, error) {
	fanout := sink.NewFanout(logger)
	fail := func(err error) (*sink.Fanout, error) {
		fanout.Close()
		return nil, err
	}

	if cfg.Log.CSVDir != "" {
		c, err := sink.NewCSVFile(cfg.Log.CSVDir)
		if err != nil {
			return fail(err)
		}
		fanout.Add(c)
		outputInfo("Logging enabled: %s", c.Path())
	}
	if cfg.Log.CBORFile != "" {
		c, err := sink.NewCBORFile(cfg.Log.CBORFile)
		if err != nil {
			return fail(fmt.Errorf("cbor log: %w", err))
		}
		fanout.Add(c)
	}
	if cfg.MQTT != nil {
		m, err := sink.NewMQTT(*cfg.MQTT, node)
		if err != nil {
			return fail(err)
		}
		fanout.Add(m)
	}
	if cfg.Valkey != nil {
		v, err := sink.NewValkey(ctx, *cfg.Valkey, node)
		if err != nil {
			return fail(err)
		}
		fanout.Add(v)
	}
	if cfg.Kafka != nil {
		k, err := sink.NewKafka(*cfg.Kafka)
		if err != nil {
			return fail(err)
		}
		fanout.Add(k)
	}
	return fanout, nil
}

// runQuiet forwards events to the sinks and logs a status line every
// minute.
func runQuiet(ctx context.Context, sup *canopen.Supervisor, fanout *sink.Fanout) error {
	errc := make(chan error, 1)
	go func() { errc <- sup.Run(ctx) }()
	drained := make(chan struct{})
	go func() {
		fanout.Drain(context.WithoutCancel(ctx), sup.Events())
		close(drained)
	}()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case err := <-errc:
			<-drained
			return err
		case <-ticker.C:
			m := sup.Client().Metrics()
			logger.Info("status",
				slog.String("health", sup.HealthState().String()),
				slog.Int64("published", m.EventsPublished.Value()),
				slog.Int64("dropped", m.EventsDropped.Value()),
				slog.Int64("errors", m.RequestsErrors.Value()))
		}
	}
}

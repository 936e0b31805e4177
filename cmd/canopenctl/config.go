package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/edgeo-scada/canopen"
	"github.com/edgeo-scada/canopen/sink"
)

// MonitorConfig is the configuration of the monitor command.
//
//	channel: can0
//	node: 1
//	timeout: 1s
//	profile: device.eds
//	health:
//	  interval: 2s
//	  threshold: 2
//	subscriptions:
//	  - address: "2100:01"
//	    interval: 500ms
//	watch_tpdos: true
//	log:
//	  csv_dir: ./logs
//	mqtt:
//	  broker: localhost
//	api:
//	  listen: ":8080"
type MonitorConfig struct {
	Channel       string               `mapstructure:"channel"`
	Node          uint8                `mapstructure:"node"`
	Timeout       time.Duration        `mapstructure:"timeout"`
	Profile       string               `mapstructure:"profile"`
	Health        HealthConfig         `mapstructure:"health"`
	Subscriptions []SubscriptionConfig `mapstructure:"subscriptions"`
	WatchTPDOs    bool                 `mapstructure:"watch_tpdos"`
	EventBuffer   int                  `mapstructure:"event_buffer"`
	Log           LogConfig            `mapstructure:"log"`
	MQTT          *sink.MQTTConfig     `mapstructure:"mqtt"`
	Valkey        *sink.ValkeyConfig   `mapstructure:"valkey"`
	Kafka         *sink.KafkaConfig    `mapstructure:"kafka"`
	API           APIConfig            `mapstructure:"api"`
}

// HealthConfig configures liveness tracking. A zero interval keeps the
// default and a negative one disables the check.
type HealthConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Threshold int           `mapstructure:"threshold"`
}

// SubscriptionConfig is one polled object. Type may be omitted when the
// profile declares the address.
type SubscriptionConfig struct {
	Address  string        `mapstructure:"address"`
	Type     string        `mapstructure:"type"`
	Name     string        `mapstructure:"name"`
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig selects the file sinks.
type LogConfig struct {
	CSVDir   string `mapstructure:"csv_dir"`
	CBORFile string `mapstructure:"cbor_file"`
}

// APIConfig configures the HTTP API. An empty Listen disables it.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// subscription is a validated SubscriptionConfig.
type subscription struct {
	addr     canopen.Address
	typ      canopen.DataType
	name     string
	interval time.Duration
}

func loadMonitorConfig(v *viper.Viper) (*MonitorConfig, error) {
	var cfg MonitorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, cfg.validate()
}

func (c *MonitorConfig) validate() error {
	if c.Channel == "" {
		return errors.New("config: channel is required")
	}
	if !canopen.NodeID(c.Node).Valid() {
		return fmt.Errorf("config: node %d out of range 1..127", c.Node)
	}
	if c.Timeout <= 0 {
		c.Timeout = canopen.DefaultTimeout
	}
	if len(c.Subscriptions) == 0 && !c.WatchTPDOs {
		return errors.New("config: no subscriptions and watch_tpdos is off")
	}
	if c.Health.Interval >= 0 {
		def := canopen.DefaultHealthConfig()
		if c.Health.Interval == 0 {
			c.Health.Interval = def.Interval
		}
		if c.Health.Threshold == 0 {
			c.Health.Threshold = def.FailureThreshold
		}
		hc := canopen.HealthConfig{Interval: c.Health.Interval, FailureThreshold: c.Health.Threshold}
		if err := hc.Validate(); err != nil {
			return fmt.Errorf("config: health: %w", err)
		}
	}
	_, err := c.subscriptions()
	return err
}

// HealthEnabled reports whether liveness tracking is on.
func (c *MonitorConfig) HealthEnabled() bool {
	return c.Health.Interval >= 0
}

func (c *MonitorConfig) subscriptions() ([]subscription, error) {
	out := make([]subscription, 0, len(c.Subscriptions))
	for i, s := range c.Subscriptions {
		addr, err := canopen.ParseAddress(s.Address)
		if err != nil {
			return nil, fmt.Errorf("config: subscriptions[%d]: %w", i, err)
		}
		if s.Interval <= 0 {
			return nil, fmt.Errorf("config: subscriptions[%d]: %w: %v", i, canopen.ErrInvalidInterval, s.Interval)
		}
		sub := subscription{addr: addr, name: s.Name, interval: s.Interval}
		if s.Type != "" {
			if sub.typ, err = canopen.ParseDataType(s.Type); err != nil {
				return nil, fmt.Errorf("config: subscriptions[%d]: %w", i, err)
			}
		}
		out = append(out, sub)
	}
	return out, nil
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// Global flags
	channel     string
	nodeID      uint8
	timeout     time.Duration
	profilePath string
	outputFmt   string
	verbose     bool
	noColor     bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "canopenctl",
	Short: "CANopen SDO client, monitor and simulated node",
	Long: `canopenctl reads object dictionary values from a CANopen node with
expedited SDO uploads and monitors its process data broadcasts.

Channels:
  can0, socketcan://can0   SocketCAN interface (Linux)
  tcp://host:port          CAN-over-TCP hub (see 'canopenctl mock --listen')
  mem://name               in-process virtual bus

Examples:
  # Read the device type of node 1
  canopenctl read 1000:00 --type u32 -c can0

  # Poll two objects every 500ms and log to CSV
  canopenctl watch 2100:01/u16 2100:02/u16 -i 500ms --log values.csv

  # Run a simulated node behind a TCP hub and talk to it
  canopenctl mock --listen :29536
  canopenctl info -c tcp://localhost:29536

  # Full session from the config file
  canopenctl monitor --config monitor.yaml`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.canopenctl.yaml)")

	// Connection flags
	rootCmd.PersistentFlags().StringVarP(&channel, "channel", "c", "can0", "CAN channel")
	rootCmd.PersistentFlags().Uint8VarP(&nodeID, "node", "n", 1, "Node ID (1-127)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", time.Second, "SDO exchange timeout")
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "EDS or YAML device profile")

	// Output flags
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, csv")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")

	viper.BindPFlag("channel", rootCmd.PersistentFlags().Lookup("channel"))
	viper.BindPFlag("node", rootCmd.PersistentFlags().Lookup("node"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(mockCmd)
	rootCmd.AddCommand(shellCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".canopenctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CANOPEN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

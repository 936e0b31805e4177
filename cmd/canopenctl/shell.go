package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/canopen"
)

var shellCmd = &cobra.Command{
	Use:     "shell",
	Aliases: []string{"i", "repl", "interactive"},
	Short:   "Start an interactive SDO shell",
	Long: `Start an interactive shell on one node.

Available commands:
  read <addr>[/type]            - Read and decode an object
  raw <addr>                    - Read an object without decoding
  declare <addr> <type> [name]  - Declare an object in the directory
  dir                           - List the directory with cached values
  info                          - Show device identification
  discover                      - List enabled TPDOs
  node <id>                     - Switch to another node
  metrics                       - Show exchange metrics

  help                          - Show help
  quit                          - Exit`,
	Example: `  canopenctl shell -c tcp://localhost:29536
  canopenctl shell -c can0 -n 4 --profile device.eds`,
	RunE: runShell,
}

var errQuit = errors.New("quit")

type shellSession struct {
	client *canopen.Client
	rl     *readline.Instance
	out    io.Writer
}

func runShell(cmd *cobra.Command, args []string) error {
	client, _, err := openClient(context.Background())
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          shellPrompt(client.Node()),
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	s := &shellSession{client: client, rl: rl, out: rl.Stdout()}
	defer func() { s.client.Close() }()

	fmt.Fprintln(s.out, color(colorBold, "CANopen Interactive Shell"))
	fmt.Fprintf(s.out, "Connected to node %d on %s. Type 'help' for commands, 'quit' to exit\n\n",
		client.Node(), viper.GetString("channel"))

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := s.execute(line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			fmt.Fprintln(s.out, color(colorRed, "ERROR")+" "+err.Error())
		}
	}
	fmt.Fprintln(s.out, "Goodbye!")
	return nil
}

func shellPrompt(node canopen.NodeID) string {
	return fmt.Sprintf("canopen[%d]> ", node)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.canopenctl_history"
}

func (s *shellSession) execute(line string) error {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "h", "?":
		fmt.Fprintln(s.out, shellCmd.Long)
		return nil
	case "read", "r":
		if len(args) != 1 {
			return errors.New("usage: read <addr>[/type]")
		}
		return s.read(ctx, args[0])
	case "raw":
		if len(args) != 1 {
			return errors.New("usage: raw <addr>")
		}
		addr, err := canopen.ParseAddress(args[0])
		if err != nil {
			return err
		}
		raw, err := s.client.ReadRaw(ctx, addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s = %s (%d bytes)\n", addr, hex.EncodeToString(raw), len(raw))
		return nil
	case "declare", "decl":
		if len(args) < 2 {
			return errors.New("usage: declare <addr> <type> [name]")
		}
		addr, err := canopen.ParseAddress(args[0])
		if err != nil {
			return err
		}
		t, err := canopen.ParseDataType(args[1])
		if err != nil {
			return err
		}
		var opts []canopen.EntryOption
		if len(args) > 2 {
			opts = append(opts, canopen.WithName(strings.Join(args[2:], " ")))
		}
		return s.client.Directory().Register(addr, t, opts...)
	case "dir", "ls":
		s.listDirectory()
		return nil
	case "info":
		return runInfo(shellCmd, nil)
	case "discover", "pdo":
		mappings, err := s.client.DiscoverPDOs(ctx)
		if err != nil {
			return err
		}
		return outputMappings(mappings)
	case "node":
		if len(args) != 1 {
			return errors.New("usage: node <id>")
		}
		return s.switchNode(args[0])
	case "metrics":
		s.showMetrics()
		return nil
	}
	return fmt.Errorf("unknown command %q, type 'help'", cmd)
}

func (s *shellSession) read(ctx context.Context, arg string) error {
	addr, t, err := parseTarget(arg)
	if err != nil {
		return err
	}
	if err := ensureRegistered(s.client.Directory(), addr, t); err != nil {
		return err
	}
	r, err := s.client.Read(ctx, addr)
	if err != nil {
		return err
	}
	name := ""
	if r.Name != "" {
		name = " " + r.Name
	}
	fmt.Fprintf(s.out, "%s%s = %s (%s, %v)\n", addr, name, color(colorGreen, r.Value.String()), r.Type, r.Latency.Round(time.Microsecond))
	return nil
}

func (s *shellSession) switchNode(arg string) error {
	var id uint8
	if _, err := fmt.Sscan(arg, &id); err != nil || !canopen.NodeID(id).Valid() {
		return fmt.Errorf("invalid node id %q", arg)
	}
	viper.Set("node", id)
	client, _, err := openClient(context.Background())
	if err != nil {
		return err
	}
	s.client.Close()
	s.client = client
	s.rl.SetPrompt(shellPrompt(client.Node()))
	return nil
}

func (s *shellSession) listDirectory() {
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tTYPE\tACCESS\tNAME\tLAST")
	for _, e := range s.client.Directory().Entries() {
		last := "-"
		if e.HasValue() {
			if v, err := canopen.DecodeValue(e.Type, e.Last); err == nil {
				last = v.String()
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Address, e.Type, e.Access, e.Name, last)
	}
	w.Flush()
}

func (s *shellSession) showMetrics() {
	m := s.client.Metrics()
	lat := m.Latency.Stats()
	fmt.Fprintf(s.out, "requests %d, ok %d, errors %d, timeouts %d, aborts %d, malformed %d\n",
		m.RequestsTotal.Value(), m.RequestsSuccess.Value(), m.RequestsErrors.Value(),
		m.Timeouts.Value(), m.Aborts.Value(), m.Malformed.Value())
	if lat.Count > 0 {
		fmt.Fprintf(s.out, "latency avg %.2fms, min %.2fms, max %.2fms\n", lat.Avg, lat.Min, lat.Max)
	}
}

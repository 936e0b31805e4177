package main

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/viper"

	"github.com/edgeo-scada/canopen"
)

// Color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func color(c, s string) string {
	if noColor {
		return s
	}
	return c + s + colorReset
}

func outputSuccess(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(color(colorGreen, "OK") + " " + msg)
}

func outputError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, color(colorRed, "ERROR")+" "+msg)
}

func outputWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, color(colorYellow, "WARN")+" "+msg)
}

func outputInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(color(colorCyan, "INFO") + " " + msg)
}

// ReadingResult is the JSON form of one reading.
type ReadingResult struct {
	Address string      `json:"address"`
	Name    string      `json:"name,omitempty"`
	Type    string      `json:"type"`
	Value   interface{} `json:"value,omitempty"`
	Raw     string      `json:"raw,omitempty"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func toResult(r canopen.Reading) ReadingResult {
	res := ReadingResult{
		Address: r.Address.String(),
		Name:    r.Name,
		Type:    r.Type.String(),
	}
	if r.Latency > 0 {
		res.Latency = r.Latency.Round(time.Microsecond).String()
	}
	if r.Err != nil {
		res.Error = r.Err.Error()
		return res
	}
	res.Value = r.Value.Interface()
	res.Raw = hex.EncodeToString(r.Value.Raw)
	return res
}

func outputReadings(readings []canopen.Reading) error {
	results := make([]ReadingResult, len(readings))
	for i, r := range readings {
		results[i] = toResult(r)
	}

	switch viper.GetString("output") {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "csv":
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"address", "name", "type", "value", "raw", "latency", "error"})
		for _, r := range results {
			w.Write([]string{r.Address, r.Name, r.Type, formatValue(r.Value), r.Raw, r.Latency, r.Error})
		}
		w.Flush()
		return w.Error()
	default:
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tNAME\tTYPE\tVALUE\tRAW\tLATENCY")
		fmt.Fprintln(w, "-------\t----\t----\t-----\t---\t-------")
		for _, r := range results {
			val := formatValue(r.Value)
			if r.Error != "" {
				val = color(colorRed, r.Error)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Address, r.Name, r.Type, val, r.Raw, r.Latency)
		}
		return w.Flush()
	}
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}

// MappingResult is the JSON form of one discovered TPDO.
type MappingResult struct {
	Number  int            `json:"tpdo"`
	COBID   string         `json:"cob_id"`
	Bytes   int            `json:"bytes"`
	Objects []MappedResult `json:"objects"`
}

// MappedResult is one mapped object.
type MappedResult struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type"`
	Bits    uint8  `json:"bits"`
}

func outputMappings(mappings []canopen.PDOMapping) error {
	results := make([]MappingResult, len(mappings))
	for i, m := range mappings {
		res := MappingResult{
			Number: m.Number,
			COBID:  fmt.Sprintf("0x%03X", m.COBID),
			Bytes:  m.Size(),
		}
		for _, o := range m.Objects {
			res.Objects = append(res.Objects, MappedResult{
				Address: o.Address.String(),
				Name:    o.Name,
				Type:    o.Type.String(),
				Bits:    o.BitLength,
			})
		}
		results[i] = res
	}

	switch viper.GetString("output") {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "csv":
		w := csv.NewWriter(os.Stdout)
		w.Write([]string{"tpdo", "cob_id", "address", "name", "type", "bits"})
		for _, m := range results {
			for _, o := range m.Objects {
				w.Write([]string{fmt.Sprint(m.Number), m.COBID, o.Address, o.Name, o.Type, fmt.Sprint(o.Bits)})
			}
		}
		w.Flush()
		return w.Error()
	default:
		for _, m := range results {
			fmt.Printf("\n%s  COB-ID %s, %d bytes\n", color(colorBold, fmt.Sprintf("TPDO%d", m.Number)), m.COBID, m.Bytes)
			fmt.Println(strings.Repeat("-", 50))
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNAME\tTYPE\tBITS")
			for _, o := range m.Objects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", o.Address, o.Name, o.Type, o.Bits)
			}
			w.Flush()
		}
		fmt.Println()
		return nil
	}
}

// printEvent writes one line per event for the watch and monitor commands.
func printEvent(ev canopen.Event) {
	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Kind {
	case canopen.EventNumeric, canopen.EventText:
		name := ev.Reading.Name
		if name == "" {
			name = "-"
		}
		src := ""
		if ev.Reading.Source == canopen.SourceBroadcast {
			src = color(colorCyan, fmt.Sprintf(" [TPDO 0x%03X]", ev.Reading.COBID))
		}
		fmt.Printf("[%s] %s %-20s = %s%s\n", ts, ev.Address, name, ev.Reading.Value, src)
	case canopen.EventHealth:
		c := colorGreen
		if ev.Health.To != canopen.HealthConnected {
			c = colorRed
		}
		fmt.Printf("[%s] %s %s -> %s\n", ts, color(colorBold, "HEALTH"), ev.Health.From, color(c, ev.Health.To.String()))
	case canopen.EventDiagnostic:
		fmt.Printf("[%s] %s %s: %v\n", ts, color(colorYellow, "DIAG"), ev.Address, ev.Err)
	}
}

// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/edgeo-scada/canopen"
)

// CSVHeader is the first row of every CSV log.
var CSVHeader = []string{"Timestamp", "Event Type", "Address", "Value", "Message"}

// csvTimeLayout is the timestamp column format.
const csvTimeLayout = "2006-01-02 15:04:05.000"

// CSV event type column values.
const (
	csvSDOData          = "SDO_DATA"
	csvSDOError         = "SDO_ERROR"
	csvTPDOData         = "TPDO_DATA"
	csvConnectionStatus = "CONNECTION_STATUS"
)

// CSV writes one row per event.
type CSV struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	path   string
	rows   int
	closed bool
}

// LogFileName returns the log file name for a session started at t.
func LogFileName(t time.Time) string {
	return "canopen_log_" + t.Format("20060102_150405") + ".csv"
}

// NewCSVFile creates dir if needed and opens a fresh timestamped log in it.
func NewCSVFile(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, LogFileName(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	c, err := newCSV(f, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.path = path
	return c, nil
}

// NewCSV writes rows to w. Close does not close w.
func NewCSV(w io.Writer) (*CSV, error) {
	return newCSV(w, nil)
}

func newCSV(w io.Writer, closer io.Closer) (*CSV, error) {
	c := &CSV{w: csv.NewWriter(w), closer: closer}
	if err := c.w.Write(CSVHeader); err != nil {
		return nil, err
	}
	c.w.Flush()
	return c, c.w.Error()
}

// Path returns the log file path, empty when not file backed.
func (c *CSV) Path() string {
	return c.path
}

// Rows returns the number of event rows written.
func (c *CSV) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Write appends one row and flushes.
func (c *CSV) Write(_ context.Context, ev canopen.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("csv sink closed")
	}
	if err := c.w.Write(CSVRow(ev)); err != nil {
		return err
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	c.rows++
	return nil
}

// Close flushes and closes the underlying file.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		err = errors.Join(err, c.closer.Close())
	}
	return err
}

// CSVRow formats ev as a log row.
func CSVRow(ev canopen.Event) []string {
	r := NewRecord(ev)
	ts := ev.Timestamp.Format(csvTimeLayout)

	switch ev.Kind {
	case canopen.EventHealth:
		return []string{ts, csvConnectionStatus, "", ev.Health.To.String(), r.Error}
	case canopen.EventDiagnostic:
		return []string{ts, csvSDOError, r.Address, "", r.Error}
	}

	kind := csvSDOData
	msg := r.Name
	if ev.Reading.Source == canopen.SourceBroadcast {
		kind = csvTPDOData
		msg = fmt.Sprintf("cob-id 0x%03X", r.COBID)
		if r.Name != "" {
			msg = r.Name + ", " + msg
		}
	}
	return []string{ts, kind, r.Address, r.Value(), msg}
}

var _ Sink = (*CSV)(nil)

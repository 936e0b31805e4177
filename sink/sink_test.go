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
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/canopen"
)

var testTime = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

var temperature = canopen.Address{Index: 0x2100, Sub: 0x01}

func numericEvent() canopen.Event {
	ev := canopen.Classify(canopen.Reading{
		Address:   temperature,
		Type:      canopen.UInt16,
		Name:      "Temperature",
		Value:     canopen.Value{Type: canopen.UInt16, Uint: 2350},
		Timestamp: testTime,
		Source:    canopen.SourcePoll,
	})
	ev.Session = "s1"
	return ev
}

func textEvent() canopen.Event {
	return canopen.Classify(canopen.Reading{
		Address:   canopen.Address{Index: 0x1008},
		Type:      canopen.VisibleString,
		Value:     canopen.Value{Type: canopen.VisibleString, Text: "Mock"},
		Timestamp: testTime,
	})
}

func broadcastEvent() canopen.Event {
	return canopen.Classify(canopen.Reading{
		Address:   temperature,
		Type:      canopen.UInt16,
		Name:      "Temperature",
		Value:     canopen.Value{Type: canopen.UInt16, Uint: 2351},
		Timestamp: testTime,
		Source:    canopen.SourceBroadcast,
		COBID:     0x181,
	})
}

func healthEvent() canopen.Event {
	return canopen.HealthEvent(canopen.Transition{
		From:     canopen.HealthConnected,
		To:       canopen.HealthDisconnected,
		Failures: 2,
		Err:      canopen.ErrExchangeTimeout,
	}, testTime)
}

func diagnosticEvent() canopen.Event {
	return canopen.DiagnosticEvent(temperature, errors.New("boom"), testTime)
}

func TestNewRecord(t *testing.T) {
	r := NewRecord(numericEvent())
	assert.Equal(t, "numeric", r.Kind)
	assert.Equal(t, "s1", r.Session)
	assert.Equal(t, "0x2100:01", r.Address)
	assert.Equal(t, "Temperature", r.Name)
	assert.Equal(t, "poll", r.Source)
	require.NotNil(t, r.Number)
	assert.Equal(t, 2350.0, *r.Number)
	assert.Equal(t, "2350", r.Value())

	r = NewRecord(textEvent())
	assert.Equal(t, "text", r.Kind)
	assert.Nil(t, r.Number)
	assert.Equal(t, "Mock", r.Value())

	r = NewRecord(healthEvent())
	assert.Equal(t, "connected->disconnected", r.Health)
	assert.Equal(t, r.Health, r.Value())
	assert.NotEmpty(t, r.Error)

	r = NewRecord(diagnosticEvent())
	assert.Equal(t, "diagnostic", r.Kind)
	assert.Equal(t, "boom", r.Error)
	assert.Empty(t, r.Type)
}

func TestFormatEncode(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)

	data, err := FormatJSON.Encode(NewRecord(numericEvent()))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "0x2100:01", m["address"])
	assert.Equal(t, 2350.0, m["number"])

	cf, err := ParseFormat("cbor")
	require.NoError(t, err)
	data, err = cf.Encode(NewRecord(numericEvent()))
	require.NoError(t, err)
	recs, err := ReadRecords(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Temperature", recs[0].Name)
}

func TestCSVFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	c, err := NewCSVFile(dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(c.Path()), "canopen_log_"))
	assert.True(t, strings.HasSuffix(c.Path(), ".csv"))

	ctx := context.Background()
	for _, ev := range []canopen.Event{numericEvent(), broadcastEvent(), diagnosticEvent(), healthEvent()} {
		require.NoError(t, c.Write(ctx, ev))
	}
	assert.Equal(t, 4, c.Rows())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Error(t, c.Write(ctx, numericEvent()))

	f, err := os.Open(c.Path())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{"2025-03-14 09:26:53.589", "SDO_DATA", "0x2100:01", "2350", "Temperature"}, rows[1])
	assert.Equal(t, []string{"2025-03-14 09:26:53.589", "TPDO_DATA", "0x2100:01", "2351", "Temperature, cob-id 0x181"}, rows[2])
	assert.Equal(t, "SDO_ERROR", rows[3][1])
	assert.Equal(t, "boom", rows[3][4])
	assert.Equal(t, "CONNECTION_STATUS", rows[4][1])
	assert.Equal(t, "disconnected", rows[4][3])
}

func TestLogFileName(t *testing.T) {
	assert.Equal(t, "canopen_log_20250314_092653.csv", LogFileName(testTime))
}

func TestCBORFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")
	ctx := context.Background()

	c, err := NewCBORFile(path)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, numericEvent()))
	require.NoError(t, c.Write(ctx, textEvent()))
	require.NoError(t, c.Close())

	// Reopening appends.
	c, err = NewCBORFile(path)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, healthEvent()))
	require.NoError(t, c.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "numeric", recs[0].Kind)
	assert.True(t, testTime.Equal(recs[0].Timestamp))
	require.NotNil(t, recs[0].Number)
	assert.Equal(t, 2350.0, *recs[0].Number)
	assert.Equal(t, "Mock", recs[1].Text)
	assert.Equal(t, "connected->disconnected", recs[2].Health)
}

type recordingSink struct {
	events []canopen.Event
	err    error
	closed bool
}

func (r *recordingSink) Write(_ context.Context, ev canopen.Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	bad := &recordingSink{err: errors.New("broker down")}
	good := &recordingSink{}
	f := NewFanout(nil, bad, good)
	assert.Equal(t, 2, f.Len())

	err := f.Write(context.Background(), numericEvent())
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, bad.events, 1)
	assert.Len(t, good.events, 1)

	require.NoError(t, f.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}

func TestFanoutDrain(t *testing.T) {
	good := &recordingSink{}
	f := NewFanout(nil, good)

	ch := make(chan canopen.Event, 3)
	ch <- numericEvent()
	ch <- textEvent()
	close(ch)

	f.Drain(context.Background(), ch)
	assert.Len(t, good.events, 2)
}

func TestBrokerNames(t *testing.T) {
	assert.Equal(t, "plant/canopen/1/2100/01", Topic("plant/canopen/", 1, temperature))
	assert.Equal(t, "canopen:5:2100:01", ValueKey("canopen:", 5, temperature))
	assert.Equal(t, "canopen:5:events", ChannelName("canopen", 5))
	assert.Equal(t, "a:b", joinKey(":a:", "", "b"))
}

func TestKafkaMessage(t *testing.T) {
	_, err := NewKafka(KafkaConfig{})
	assert.Error(t, err)

	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer k.Close()

	msg, err := k.Message(numericEvent())
	require.NoError(t, err)
	assert.Equal(t, "0x2100:01", string(msg.Key))
	assert.True(t, testTime.Equal(msg.Time))
	assert.Contains(t, string(msg.Value), `"kind":"numeric"`)
}

func TestBrokerConfigErrors(t *testing.T) {
	_, err := NewMQTT(MQTTConfig{}, 1)
	assert.Error(t, err)

	_, err = NewMQTT(MQTTConfig{Broker: "localhost", Format: "xml"}, 1)
	assert.Error(t, err)

	_, err = NewValkey(context.Background(), ValkeyConfig{Format: "xml"}, 1)
	assert.Error(t, err)
}

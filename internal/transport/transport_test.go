// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"freqresp/internal/measure"
	"freqresp/pkg/utils"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTransport struct{ err error }

func (f failingTransport) Send(any) error { return f.err }
func (f failingTransport) Close() error   { return f.err }

func TestMulti(t *testing.T) {
	a, b := &utils.MockTransport{}, &utils.MockTransport{}
	m := Multi{a, b}

	ev := ProgressEvent(measure.Progress{Bin: 3, HasBin: true, Total: measure.Bins})
	require.NoError(t, m.Send(ev))
	assert.Equal(t, []any{ev}, a.Messages())
	assert.Equal(t, []any{ev}, b.Messages())

	require.NoError(t, m.Close())
	assert.True(t, a.Closed)
	assert.True(t, b.Closed)

	boom := errors.New("boom")
	m = Multi{a, failingTransport{boom}}
	assert.ErrorIs(t, m.Send(ev), boom)
	assert.ErrorIs(t, m.Close(), boom)
}

func TestEventJSON(t *testing.T) {
	ev := ResultsEvent(48000, []measure.Bin{{Index: 1, Frequency: 23.4375, Amplitude: 0.2, Phase: -0.1, Value: complex(1, 2)}})
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"results","sample_rate":48000,"results":[{"bin":1,"frequency_hz":23.4375,"amplitude":0.2,"phase_rad":-0.1}]}`, string(data))

	data, err = json.Marshal(ProgressEvent(measure.Progress{Phase: "capturing", Bin: 2, HasBin: true, Total: 1025, PeakDBFS: -50}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"progress","progress":{"state":"capturing","bin":2,"has_bin":true,"total":1025,"peak_dbfs":-50,"finished":false}}`, string(data))
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport()
	assert.NoError(t, lt.Send(ProgressEvent(measure.Progress{Total: 1})))
	assert.NoError(t, lt.Send(ResultsEvent(1, nil)))
	assert.NoError(t, lt.Send("raw"))
	assert.NoError(t, lt.Close())
}

func TestWebSocketBroadcast(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer wst.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+wst.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return wst.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(ProgressEvent(measure.Progress{Phase: "awaiting-silence", Bin: 0, HasBin: true, Total: 1025})))
	require.NoError(t, wst.Send(ResultsEvent(44100, []measure.Bin{{Index: 0}})))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventProgress, got.Type)
	require.NotNil(t, got.Progress)
	assert.Equal(t, "awaiting-silence", got.Progress.Phase)

	got = Event{}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventResults, got.Type)
	assert.Equal(t, 44100.0, got.SampleRate)
	assert.Len(t, got.Results, 1)
}

func TestWebSocketFlushesOnClose(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+wst.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return wst.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(ResultsEvent(48000, nil)))
	require.NoError(t, wst.Close())
	require.NoError(t, wst.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventResults, got.Type)

	assert.Error(t, wst.Send(ProgressEvent(measure.Progress{})))
}

func TestWebSocketListenError(t *testing.T) {
	_, err := NewWebSocketTransport("256.0.0.1:bad")
	assert.Error(t, err)
}

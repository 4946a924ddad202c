// SPDX-License-Identifier: MIT
package udp

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"freqresp/internal/measure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls atomic.Int32
}

func (f *fakeSource) Progress() measure.Progress {
	n := int(f.calls.Add(1))
	return measure.Progress{
		State:    measure.StateCapturing,
		Phase:    measure.StateCapturing.String(),
		Bin:      n,
		HasBin:   true,
		Total:    measure.Bins,
		PeakDBFS: -42.5,
	}
}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPacketLayout(t *testing.T) {
	pkt := Packet{
		Sequence:  0x01020304,
		Timestamp: 0x0a0b0c0d0e0f1011,
		State:     measure.StateAwaitingSilence,
		Bin:       -1,
		Total:     1025,
		PeakDBFS:  -6,
	}
	var buf [PacketSize]byte
	b := pkt.Encode(buf[:])
	require.Len(t, b, PacketSize)

	assert.Equal(t, []byte{1, 2, 3, 4}, b[0:4])
	assert.Equal(t, []byte{0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11}, b[4:12])
	assert.Equal(t, byte(measure.StateAwaitingSilence), b[12])
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, b[13:17])
	assert.Equal(t, []byte{0x04, 0x01}, b[17:19])
	assert.Equal(t, []byte{0xc0, 0xc0, 0x00, 0x00}, b[19:23]) // -6.0f

	got, err := DecodePacket(b)
	require.NoError(t, err)
	assert.Equal(t, pkt, got)

	_, err = DecodePacket(b[:PacketSize-1])
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestPacketFromProgress(t *testing.T) {
	ts := time.Unix(1700000000, 5)

	pkt := PacketFromProgress(7, ts, measure.Progress{State: measure.StateAwaitingStart, Total: 1025, PeakDBFS: -120})
	assert.Equal(t, int32(-1), pkt.Bin)
	assert.Equal(t, ts.UnixNano(), pkt.Timestamp)
	assert.Equal(t, uint16(1025), pkt.Total)

	pkt = PacketFromProgress(8, ts, measure.Progress{State: measure.StateDone, Bin: 1025, HasBin: true, Total: 1025})
	assert.Equal(t, int32(1025), pkt.Bin)
	assert.Equal(t, measure.StateDone, pkt.State)
}

func TestPublisherSendsProgress(t *testing.T) {
	listener := listenUDP(t)

	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	src := &fakeSource{}
	pub, err := NewUDPPublisher(5*time.Millisecond, sender, src)
	require.NoError(t, err)
	pub.Start()
	pub.Start() // no-op

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	var last uint32
	for i := 0; i < 3; i++ {
		n, _, err := listener.ReadFromUDP(buf)
		require.NoError(t, err)
		require.Equal(t, PacketSize, n)

		pkt, err := DecodePacket(buf[:n])
		require.NoError(t, err)
		assert.Greater(t, pkt.Sequence, last)
		last = pkt.Sequence
		assert.Equal(t, measure.StateCapturing, pkt.State)
		assert.Equal(t, uint16(measure.Bins), pkt.Total)
		assert.Equal(t, float32(-42.5), pkt.PeakDBFS)
		assert.Equal(t, int32(pkt.Sequence), pkt.Bin)
	}

	require.NoError(t, pub.Close())
	require.NoError(t, pub.Stop())
}

func TestNewUDPPublisherValidation(t *testing.T) {
	listener := listenUDP(t)
	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	_, err = NewUDPPublisher(time.Second, nil, &fakeSource{})
	assert.Error(t, err)
	_, err = NewUDPPublisher(time.Second, sender, nil)
	assert.Error(t, err)

	pub, err := NewUDPPublisher(0, sender, &fakeSource{})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, pub.interval)
	assert.NoError(t, pub.Stop(), "stop before start")
}

func TestSenderClosed(t *testing.T) {
	listener := listenUDP(t)
	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)

	require.NoError(t, sender.Close())
	require.NoError(t, sender.Close())
	assert.ErrorIs(t, sender.Send([]byte{1}), ErrSenderClosed)
}

func TestSenderBadAddress(t *testing.T) {
	_, err := NewUDPSender("not an address")
	assert.Error(t, err)
}

// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"freqresp/internal/log"
	"freqresp/internal/measure"
)

// ProgressSource is polled for each packet. measure.Session satisfies it.
type ProgressSource interface {
	Progress() measure.Progress
}

// DefaultInterval is used when NewUDPPublisher is given a non-positive
// interval.
const DefaultInterval = 33 * time.Millisecond

var ErrShortPacket = errors.New("udp: packet too short")

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| State             | uint8          | 1            | measure.State           |
| Bin               | int32          | 4            | Current bin, -1 if none |
| Total             | uint16         | 2            | Number of bins          |
| Peak              | float32        | 4            | Input peak in dBFS      |
+-----------------------------------------------------------------------------+

Visual Layout:

|<-- 4 -->|<---- 8 ---->|<- 1 ->|<-- 4 -->|<- 2 ->|<-- 4 -->|
+---------+-------------+-------+---------+-------+---------+
|   Seq   |  Timestamp  | State |   Bin   | Total |  Peak   |
+---------+-------------+-------+---------+-------+---------+
*/

// PacketSize is the encoded size of a Packet.
const PacketSize = 4 + 8 + 1 + 4 + 2 + 4

// Packet is one progress datagram.
type Packet struct {
	Sequence  uint32
	Timestamp int64
	State     measure.State
	Bin       int32
	Total     uint16
	PeakDBFS  float32
}

// PacketFromProgress fills the progress fields of a packet.
func PacketFromProgress(seq uint32, ts time.Time, p measure.Progress) Packet {
	bin := int32(-1)
	if p.HasBin {
		bin = int32(p.Bin)
	}
	return Packet{
		Sequence:  seq,
		Timestamp: ts.UnixNano(),
		State:     p.State,
		Bin:       bin,
		Total:     uint16(p.Total),
		PeakDBFS:  float32(p.PeakDBFS),
	}
}

// Encode writes the packet into dst, which must hold PacketSize bytes.
func (p Packet) Encode(dst []byte) []byte {
	dst = dst[:PacketSize]
	binary.BigEndian.PutUint32(dst[0:], p.Sequence)
	binary.BigEndian.PutUint64(dst[4:], uint64(p.Timestamp))
	dst[12] = byte(p.State)
	binary.BigEndian.PutUint32(dst[13:], uint32(p.Bin))
	binary.BigEndian.PutUint16(dst[17:], p.Total)
	binary.BigEndian.PutUint32(dst[19:], math.Float32bits(p.PeakDBFS))
	return dst
}

// DecodePacket parses a datagram produced by Encode.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < PacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	return Packet{
		Sequence:  binary.BigEndian.Uint32(b[0:]),
		Timestamp: int64(binary.BigEndian.Uint64(b[4:])),
		State:     measure.State(b[12]),
		Bin:       int32(binary.BigEndian.Uint32(b[13:])),
		Total:     binary.BigEndian.Uint16(b[17:]),
		PeakDBFS:  math.Float32frombits(binary.BigEndian.Uint32(b[19:])),
	}, nil
}

// UDPPublisher periodically samples sweep progress, packs it into a Packet
// and sends it with a UDPSender. It runs in a separate goroutine managed by
// Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	source   ProgressSource
	interval time.Duration

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Signals the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.

	sequenceNum uint32
	packet      [PacketSize]byte
	now         func() time.Time
}

// NewUDPPublisher creates and initializes a new UDPPublisher.
// If the provided interval is invalid (<= 0), it defaults to DefaultInterval.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source ProgressSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("UDPPublisher: progress source cannot be nil")
	}

	if interval <= 0 {
		interval = DefaultInterval
		log.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}

	log.Debugf("UDPPublisher: Initializing (Interval: %s, Target: %s)", interval, sender.Target())
	return &UDPPublisher{
		sender:   sender,
		source:   source,
		interval: interval,
		now:      time.Now,
	}, nil
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		log.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Locals keep the goroutine off p.ticker/p.doneChan.
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Debugf("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to
// exit. A final packet is sent so receivers see the last state.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	p.buildAndSendPacket()
	log.Debugf("UDPPublisher: Publisher goroutine finished after %d packets.", p.sequenceNum)
	return nil
}

// buildAndSendPacket samples the source, packs a packet into the reusable
// buffer and sends it.
func (p *UDPPublisher) buildAndSendPacket() {
	p.sequenceNum++
	pkt := PacketFromProgress(p.sequenceNum, p.now(), p.source.Progress())
	data := pkt.Encode(p.packet[:])

	// Dropped datagrams are expected when nobody listens.
	if err := p.sender.Send(data); err != nil {
		log.Debugf("UDPPublisher: Packet %d not sent: %v", p.sequenceNum, err)
	}
}

// Close implements the io.Closer interface. It gracefully stops the publisher goroutine.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

// Ensure UDPPublisher satisfies the io.Closer interface at compile time.
var _ interface{ Close() error } = (*UDPPublisher)(nil)

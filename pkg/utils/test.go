// SPDX-License-Identifier: MIT

// Package utils holds helpers shared by the tests of the measurement
// packages: stream replay in arbitrary chunk sizes, a loop-back delay line
// standing in for a cable from output to input, and a recording transport.
package utils

import (
	"math"
	"sync"
)

// Callback is the real-time processing contract: out is written for the
// frames of in.
type Callback interface {
	Process(in, out []float32)
}

// Source returns the input sample for absolute frame n.
type Source func(n int) float32

// Replay feeds total frames of src through cb, splitting the stream into
// buffers whose lengths cycle through sizes. It returns the concatenated
// output.
func Replay(cb Callback, src Source, sizes []int, total int) []float32 {
	maxSize := 0
	for _, s := range sizes {
		maxSize = max(maxSize, s)
	}
	in := make([]float32, maxSize)
	out := make([]float32, maxSize)
	stream := make([]float32, 0, total)

	frame := 0
	for k := 0; frame < total; k++ {
		n := min(sizes[k%len(sizes)], total-frame)
		for i := 0; i < n; i++ {
			in[i] = src(frame + i)
		}
		cb.Process(in[:n], out[:n])
		stream = append(stream, out[:n]...)
		frame += n
	}
	return stream
}

// Drive feeds src through cb in buffers cycling through sizes until done
// reports true or maxFrames have passed. It returns the frames processed.
func Drive(cb Callback, src Source, sizes []int, done func() bool, maxFrames int) int {
	maxSize := 0
	for _, s := range sizes {
		maxSize = max(maxSize, s)
	}
	in := make([]float32, maxSize)
	out := make([]float32, maxSize)

	frame := 0
	for k := 0; frame < maxFrames && !done(); k++ {
		n := min(sizes[k%len(sizes)], maxFrames-frame)
		for i := 0; i < n; i++ {
			in[i] = src(frame + i)
		}
		cb.Process(in[:n], out[:n])
		frame += n
	}
	return frame
}

// LoopBack drives cb with its own output returned to its input after Delay
// frames, scaled by Gain. Buffer sizes must not exceed Delay so that every
// input frame is known before the callback runs.
type LoopBack struct {
	Delay int
	Gain  float32
	Sizes []int

	ring []float32
	pos  int
}

// Run processes buffers until done reports true or maxFrames have passed,
// and returns the number of frames processed.
func (l *LoopBack) Run(cb Callback, done func() bool, maxFrames int) int {
	if l.ring == nil {
		l.ring = make([]float32, l.Delay)
	}

	maxSize := 0
	for _, s := range l.Sizes {
		maxSize = max(maxSize, s)
	}
	if maxSize > l.Delay {
		panic("utils: loop-back buffer size exceeds delay")
	}
	in := make([]float32, maxSize)
	out := make([]float32, maxSize)

	frames := 0
	for k := 0; frames < maxFrames && !done(); k++ {
		n := min(l.Sizes[k%len(l.Sizes)], maxFrames-frames)
		for i := 0; i < n; i++ {
			in[i] = l.Gain * l.ring[(l.pos+i)%l.Delay]
		}
		cb.Process(in[:n], out[:n])
		for i := 0; i < n; i++ {
			l.ring[(l.pos+i)%l.Delay] = out[i]
		}
		l.pos = (l.pos + n) % l.Delay
		frames += n
	}
	return frames
}

// Noise returns a deterministic pseudo-random source in [-amplitude,
// amplitude], the same for every call with the same seed.
func Noise(seed uint32, amplitude float32) Source {
	return func(n int) float32 {
		x := uint32(n)*2654435761 ^ seed
		x ^= x >> 16
		x *= 0x45d9f3b
		x ^= x >> 16
		return amplitude * (float32(x)/float32(math.MaxUint32)*2 - 1)
	}
}

// MockTransport implements the transport interface for testing by keeping
// every payload it is sent.
type MockTransport struct {
	mu     sync.Mutex
	Sent   []any
	Closed bool
}

// Send stores the data for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Messages returns a copy of the payloads sent so far.
func (m *MockTransport) Messages() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.Sent...)
}

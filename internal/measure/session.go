// SPDX-License-Identifier: MIT

/*
Package measure implements the frequency response sweep.

A Session owns every buffer of the measurement and is driven by two threads:

  - the audio thread calls Process once per engine buffer. It synthesizes the
    probe tone, accumulates the returned signal, runs the transform when a
    capture window is full and advances the bin sweep. It never blocks,
    allocates or logs.
  - the control thread calls Start, watches Progress/Wait and finally reads
    Results once the finished latch has been observed.

The two threads only share the start and finished latches plus a few atomic
mirrors used for progress reporting.

Sweep states:

	AwaitingStart --start--> AwaitingSilence(0) --quiet for 10 ms--> Capturing(0)
	Capturing(k) --N samples--> AwaitingSilence(k+1) ... --> Done after bin N/2
*/
package measure

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"freqresp/internal/fft"
)

const (
	// SilenceThreshold is the input amplitude (-40 dBFS) below which a
	// sample counts as quiet.
	SilenceThreshold = 0.01

	// SilenceDebounce is how long the input must stay quiet before a bin
	// may be excited.
	SilenceDebounce = 10 * time.Millisecond

	// Bins is the number of frequency bins measured by one sweep.
	Bins = fft.Bins
)

var (
	ErrInvalidSampleRate = errors.New("measure: sample rate must be positive")
	ErrNotFinished       = errors.New("measure: sweep has not finished")
)

// SilenceFramesNeeded returns ceil(10 ms × sampleRate), the number of
// consecutive quiet samples required by the silence gate.
func SilenceFramesNeeded(sampleRate float64) int {
	return int(math.Ceil(sampleRate * float64(SilenceDebounce) / float64(time.Second)))
}

// Session is the measurement context. Create it with NewSession before the
// audio engine is started; nothing in it is resized afterwards.
type Session struct {
	sampleRate    float64
	silenceNeeded int

	transform *fft.Processor
	response  []complex128

	// Owned by the audio thread.
	state      State
	bin        int
	fill       int
	phase      float64 // oscillator phase in cycles, kept in [0, 1)
	step       float64 // cycles per sample, bin/N
	silenceRun int

	start    Latch
	finished Latch

	// Mirrors published by the audio thread for the control thread.
	snapshot atomic.Uint64 // state<<32 | bin
	peak     atomic.Uint32 // float32 bits of the last buffer's input peak
}

// NewSession allocates the transform engine and the response table for a
// sweep at sampleRate.
func NewSession(sampleRate float64) (*Session, error) {
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidSampleRate, sampleRate)
	}

	transform, err := fft.NewProcessor(fft.Size)
	if err != nil {
		return nil, fmt.Errorf("measure: transform setup: %w", err)
	}

	s := &Session{
		sampleRate:    sampleRate,
		silenceNeeded: SilenceFramesNeeded(sampleRate),
		transform:     transform,
		response:      make([]complex128, transform.Bins()),
		state:         StateAwaitingStart,
	}
	s.publish()
	return s, nil
}

// SampleRate returns the sample rate the session was built for.
func (s *Session) SampleRate() float64 {
	return s.sampleRate
}

// SilenceFramesNeeded returns the debounce length in samples.
func (s *Session) SilenceFramesNeeded() int {
	return s.silenceNeeded
}

// Start arms the sweep. It is called once by the control thread; the audio
// thread picks it up at its next callback.
func (s *Session) Start() {
	s.start.Publish()
}

// Started reports whether Start has been called.
func (s *Session) Started() bool {
	return s.start.Done()
}

// Finished reports whether every bin has been measured. Once it returns
// true the response table is complete and may be read.
func (s *Session) Finished() bool {
	return s.finished.Done()
}

// Process is the real-time callback body. in holds the returned signal and
// out receives the excitation; both cover the same frames.
//
// The buffer is walked one sample at a time, so the silence gate and the
// capture windows fall on the same samples however the stream is chunked.
func (s *Session) Process(in, out []float32) {
	clear(out)

	if s.state == StateAwaitingStart {
		if !s.start.Done() {
			return
		}
		s.state = StateAwaitingSilence
		s.bin = 0
		s.publish()
	}
	if s.state == StateDone {
		return
	}

	capture := s.transform.Buffer()
	n := min(len(in), len(out))

	// tail keeps the finished bin's tone playing to the end of this buffer.
	tail := false
	var peak float32

loop:
	for i := 0; i < n; i++ {
		x := in[i]
		ax := x
		if ax < 0 {
			ax = -ax
		}
		if ax > peak {
			peak = ax
		}
		if ax < SilenceThreshold {
			if s.silenceRun < s.silenceNeeded {
				s.silenceRun++
			}
		} else {
			s.silenceRun = 0
		}

		switch s.state {
		case StateAwaitingSilence:
			if tail {
				out[i] = s.oscillate()
			}
			if s.silenceRun >= s.silenceNeeded {
				s.beginCapture()
				tail = false
			}

		case StateCapturing:
			out[i] = s.oscillate()
			capture[s.fill] = float64(x)
			s.fill++
			if s.fill == len(capture) {
				s.completeBin()
				if s.state == StateDone {
					break loop
				}
				tail = true
			}
		}
	}

	s.peak.Store(math.Float32bits(peak))
}

// beginCapture enters Capturing for the current bin with an empty capture
// buffer and the oscillator at phase zero.
func (s *Session) beginCapture() {
	s.state = StateCapturing
	s.fill = 0
	s.phase = 0
	s.step = float64(s.bin) / float64(s.transform.Size())
	s.publish()
}

// completeBin reads the coefficient of the excited bin from a full capture
// window and moves on to the next bin, or finishes the sweep.
func (s *Session) completeBin() {
	coeffs := s.transform.Transform()
	s.response[s.bin] = coeffs[s.bin]
	s.bin++

	if s.bin == len(s.response) {
		s.state = StateDone
		s.publish()
		s.finished.Publish()
		return
	}
	s.state = StateAwaitingSilence
	s.publish()
}

// oscillate returns the next probe sample, a unit cosine at s.step cycles
// per sample. Keeping the phase in cycles and dropping the integer part
// stops the argument from growing over a long capture.
func (s *Session) oscillate() float32 {
	y := math.Cos(2 * math.Pi * s.phase)
	s.phase += s.step
	s.phase -= math.Floor(s.phase)
	return float32(y)
}

func (s *Session) publish() {
	s.snapshot.Store(uint64(s.state)<<32 | uint64(uint32(s.bin)))
}

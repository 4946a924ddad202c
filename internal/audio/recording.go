// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"freqresp/pkg/bitint"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// recorderBacklog is how much audio the ring holds before the writer
	// goroutine must have drained it.
	recorderBacklog = 2 * time.Second

	recorderDrainInterval = 20 * time.Millisecond
	recorderChunkFrames   = 4096
	recorderChannels      = 2
	wavFormatPCM          = 1
)

// Recorder writes the probe tone and the returned signal of a sweep to a
// stereo WAV file, probe on the left channel.
//
// Write is called from the audio callback and only copies into a
// single-producer single-consumer ring. A goroutine drains the ring into
// the encoder. Frames that do not fit are dropped and counted.
type Recorder struct {
	ring []float32 // interleaved probe/response pairs
	mask uint64    // ring capacity in frames minus one

	head    atomic.Uint64 // frames written, advanced by the producer
	tail    atomic.Uint64 // frames consumed, advanced by the writer
	dropped atomic.Uint64

	file  *os.File
	enc   *wav.Encoder
	buf   *audio.IntBuffer
	scale float64

	stop     chan struct{}
	finished chan struct{}
	once     sync.Once
	err      error
}

// NewRecorder creates path and starts the writer goroutine.
func NewRecorder(path string, sampleRate, bitDepth int) (*Recorder, error) {
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("%w: %d bit", ErrUnsupportedFormat, bitDepth)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, sampleRate)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	frames := bitint.NextPowerOfTwo(int(int64(sampleRate) * int64(recorderBacklog) / int64(time.Second)))
	r := &Recorder{
		ring: make([]float32, frames*recorderChannels),
		mask: uint64(frames - 1),
		file: file,
		enc:  wav.NewEncoder(file, sampleRate, bitDepth, recorderChannels, wavFormatPCM),
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: recorderChannels,
				SampleRate:  sampleRate,
			},
			Data:           make([]int, recorderChunkFrames*recorderChannels),
			SourceBitDepth: bitDepth,
		},
		scale:    float64(int(1)<<(bitDepth-1) - 1),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	go r.run()
	return r, nil
}

// Write queues one buffer of probe and response frames. It never blocks
// and never allocates.
func (r *Recorder) Write(probe, response []float32) {
	n := uint64(min(len(probe), len(response)))
	head := r.head.Load()
	free := uint64(len(r.ring)/recorderChannels) - (head - r.tail.Load())
	if n > free {
		r.dropped.Add(n - free)
		n = free
	}

	for i := uint64(0); i < n; i++ {
		j := ((head + i) & r.mask) * recorderChannels
		r.ring[j] = probe[i]
		r.ring[j+1] = response[i]
	}
	r.head.Store(head + n)
}

// Dropped returns the number of frames lost to a full ring.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops the writer, flushes what is queued and finalizes the WAV
// header. Calling Close more than once returns the first result.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		close(r.stop)
		<-r.finished

		if err := r.enc.Close(); err != nil && r.err == nil {
			r.err = fmt.Errorf("failed to finalize recording: %w", err)
		}
		if err := r.file.Close(); err != nil && r.err == nil {
			r.err = fmt.Errorf("failed to close recording: %w", err)
		}
	})
	return r.err
}

func (r *Recorder) run() {
	defer close(r.finished)

	ticker := time.NewTicker(recorderDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			if err := r.drain(); err != nil && r.err == nil {
				r.err = err
			}
			return
		case <-ticker.C:
			if err := r.drain(); err != nil {
				r.err = err
				<-r.stop
				return
			}
		}
	}
}

// drain encodes every frame published so far.
func (r *Recorder) drain() error {
	head := r.head.Load()
	tail := r.tail.Load()

	for tail < head {
		n := min(head-tail, recorderChunkFrames)
		data := r.buf.Data[:n*recorderChannels]
		for i := uint64(0); i < n; i++ {
			j := ((tail + i) & r.mask) * recorderChannels
			data[2*i] = r.quantize(r.ring[j])
			data[2*i+1] = r.quantize(r.ring[j+1])
		}
		r.buf.Data = data
		err := r.enc.Write(r.buf)
		r.buf.Data = r.buf.Data[:cap(r.buf.Data)]
		if err != nil {
			return fmt.Errorf("failed to write recording: %w", err)
		}

		tail += n
		r.tail.Store(tail)
	}
	return nil
}

func (r *Recorder) quantize(x float32) int {
	v := float64(x)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(v * r.scale)
}

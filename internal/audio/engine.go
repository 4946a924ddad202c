// SPDX-License-Identifier: MIT
/*
Package audio hosts the measurement on PortAudio:
- Device lookup and listing
- A mono duplex stream whose callback drives measure.Session
- Optional lock-free WAV recording of the probe and the returned signal

Thread Safety:
- The stream callback only touches the session, the recorder ring and atomics
- Buffers are allocated before the stream starts
- The callback locks its OS thread while processing
*/
package audio

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"freqresp/internal/config"
	"freqresp/internal/log"
	"freqresp/internal/measure"

	"github.com/gordonklaus/portaudio"
)

// Stats counts stream callbacks and the xrun flags PortAudio reported.
type Stats struct {
	Callbacks        uint64
	InputUnderflows  uint64
	InputOverflows   uint64
	OutputUnderflows uint64
	OutputOverflows  uint64
	RecorderDropped  uint64
}

// Xruns returns the total number of flagged callbacks.
func (s Stats) Xruns() uint64 {
	return s.InputUnderflows + s.InputOverflows + s.OutputUnderflows + s.OutputOverflows
}

// Engine owns the duplex stream and the measurement session it drives.
type Engine struct {
	config *config.Config

	inputDevice   *portaudio.DeviceInfo
	outputDevice  *portaudio.DeviceInfo
	inputLatency  time.Duration
	outputLatency time.Duration
	stream        *portaudio.Stream
	sampleRate    float64

	session  *measure.Session
	recorder *Recorder

	callbacks        atomic.Uint64
	inputUnderflows  atomic.Uint64
	inputOverflows   atomic.Uint64
	outputUnderflows atomic.Uint64
	outputOverflows  atomic.Uint64
}

// NewEngine resolves the configured devices, opens the duplex stream and
// builds the measurement session for the sample rate the stream actually
// runs at. The stream is not started.
func NewEngine(cfg *config.Config) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, fmt.Errorf("input device: %w", err)
	}
	outputDevice, err := OutputDevice(cfg.Audio.OutputDevice)
	if err != nil {
		return nil, fmt.Errorf("output device: %w", err)
	}

	e := &Engine{
		config:       cfg,
		inputDevice:  inputDevice,
		outputDevice: outputDevice,
	}
	if cfg.Audio.LowLatency {
		e.inputLatency = inputDevice.DefaultLowInputLatency
		e.outputLatency = outputDevice.DefaultLowOutputLatency
	} else {
		e.inputLatency = inputDevice.DefaultHighInputLatency
		e.outputLatency = outputDevice.DefaultHighOutputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   e.inputDevice,
			Channels: 1,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   e.outputDevice,
			Channels: 1,
			Latency:  e.outputLatency,
		},
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		SampleRate:      cfg.Audio.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processStream)
	if err != nil {
		return nil, fmt.Errorf("failed to open duplex stream: %w", err)
	}
	e.stream = stream

	e.sampleRate = cfg.Audio.SampleRate
	if info := stream.Info(); info != nil && info.SampleRate > 0 {
		e.sampleRate = info.SampleRate
	}
	if e.sampleRate != cfg.Audio.SampleRate {
		log.Warnf("Stream runs at %.0f Hz instead of the requested %.0f Hz", e.sampleRate, cfg.Audio.SampleRate)
	}

	e.session, err = measure.NewSession(e.sampleRate)
	if err != nil {
		stream.Close()
		return nil, err
	}

	if cfg.Recording.Enabled {
		e.recorder, err = NewRecorder(cfg.Recording.Path, int(e.sampleRate), cfg.Recording.BitDepth)
		if err != nil {
			stream.Close()
			return nil, err
		}
	}

	log.Debugf("Duplex stream: in=%q out=%q rate=%.0f Hz frames=%d latency in=%v out=%v",
		inputDevice.Name, outputDevice.Name, e.sampleRate, cfg.Audio.FramesPerBuffer, e.inputLatency, e.outputLatency)
	return e, nil
}

// Session returns the measurement session driven by the stream.
func (e *Engine) Session() *measure.Session {
	return e.session
}

// SampleRate returns the rate the stream runs at.
func (e *Engine) SampleRate() float64 {
	return e.sampleRate
}

// InputName and OutputName return the device names for display.
func (e *Engine) InputName() string  { return e.inputDevice.Name }
func (e *Engine) OutputName() string { return e.outputDevice.Name }

// Start begins streaming. The session stays silent until it is started
// separately.
func (e *Engine) Start() error {
	if e.stream == nil {
		return ErrStreamNotOpen
	}
	if err := e.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	return nil
}

// Stop halts the stream.
func (e *Engine) Stop() error {
	if e.stream == nil {
		return nil
	}
	if err := e.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}

// Close stops and closes the stream, then finalizes the recording.
func (e *Engine) Close() error {
	var firstErr error
	if e.stream != nil {
		if err := e.stream.Stop(); err != nil {
			firstErr = fmt.Errorf("failed to stop stream: %w", err)
		}
		if err := e.stream.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close stream: %w", err)
		}
		e.stream = nil
	}
	if e.recorder != nil {
		if err := e.recorder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.recorder = nil
	}
	return firstErr
}

// Stats returns the callback and xrun counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Callbacks:        e.callbacks.Load(),
		InputUnderflows:  e.inputUnderflows.Load(),
		InputOverflows:   e.inputOverflows.Load(),
		OutputUnderflows: e.outputUnderflows.Load(),
		OutputOverflows:  e.outputOverflows.Load(),
	}
	if e.recorder != nil {
		s.RecorderDropped = e.recorder.Dropped()
	}
	return s
}

// processStream is the duplex stream callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations, locks or logging
func (e *Engine) processStream(in, out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.callbacks.Add(1)
	if flags != 0 {
		e.countFlags(flags)
	}

	e.session.Process(in, out)

	if e.recorder != nil {
		e.recorder.Write(out, in)
	}
}

func (e *Engine) countFlags(flags portaudio.StreamCallbackFlags) {
	if flags&portaudio.InputUnderflow != 0 {
		e.inputUnderflows.Add(1)
	}
	if flags&portaudio.InputOverflow != 0 {
		e.inputOverflows.Add(1)
	}
	if flags&portaudio.OutputUnderflow != 0 {
		e.outputUnderflows.Add(1)
	}
	if flags&portaudio.OutputOverflow != 0 {
		e.outputOverflows.Add(1)
	}
}

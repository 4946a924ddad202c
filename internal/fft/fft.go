// SPDX-License-Identifier: MIT

// Package fft is the transform engine of the measurement: it windows one
// fixed-size capture buffer and runs a real-input forward FFT over it.
// Everything is allocated by NewProcessor so that Transform can run on the
// audio thread.
package fft

import (
	"errors"
	"fmt"

	"freqresp/pkg/bitint"

	"github.com/tphakala/simd/f64"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// Size is the transform length N used by the measurement.
	Size = 2048

	// Bins is the number of complex coefficients of a real N-point transform.
	Bins = Size/2 + 1
)

// ErrInvalidSize is returned for transform lengths that are not a power of two.
var ErrInvalidSize = errors.New("fft: size must be a power of two >= 2")

// workspace holds the pre-allocated buffers for one transform.
type workspace struct {
	capture []float64    // ...raw samples, windowed in place by Transform
	coeffs  []complex128 // ...N/2+1 forward coefficients
	window  window.Values
}

// Processor holds the FFT plan and its buffers.
type Processor struct {
	size         int
	fftObj       *fourier.FFT
	workspace    workspace
	coherentGain float64
}

// NewProcessor creates a transform engine of the given size with a
// Blackman window, w(i) = 0.42 - 0.5cos(2πi/(N-1)) + 0.08cos(4πi/(N-1)).
func NewProcessor(size int) (*Processor, error) {
	if size < 2 || !bitint.IsPowerOfTwo(size) {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidSize, size)
	}

	w := window.NewValues(window.Blackman, size)

	return &Processor{
		size:         size,
		fftObj:       fourier.NewFFT(size),
		coherentGain: f64.Sum(w) / float64(size),
		workspace: workspace{
			capture: make([]float64, size),
			coeffs:  make([]complex128, size/2+1),
			window:  w,
		},
	}, nil
}

// Buffer returns the capture buffer. Callers fill it with exactly Size
// samples before calling Transform.
func (p *Processor) Buffer() []float64 {
	return p.workspace.capture
}

// Transform applies the window to the capture buffer in place and computes
// the forward coefficients. The returned slice is owned by the processor and
// overwritten by the next call.
func (p *Processor) Transform() []complex128 {
	p.workspace.window.Transform(p.workspace.capture)
	return p.fftObj.Coefficients(p.workspace.coeffs, p.workspace.capture)
}

// Coefficient returns the coefficient at bin from the last Transform.
func (p *Processor) Coefficient(bin int) complex128 {
	return p.workspace.coeffs[bin]
}

// Size returns the transform length.
func (p *Processor) Size() int {
	return p.size
}

// Bins returns the number of coefficients, Size/2+1.
func (p *Processor) Bins() int {
	return len(p.workspace.coeffs)
}

// CoherentGain returns the mean window weight. A unit cosine exactly on a
// bin reads |X[k]|/N = CoherentGain/2, DC and Nyquist read CoherentGain.
func (p *Processor) CoherentGain() float64 {
	return p.coherentGain
}

// BinFrequency returns the centre frequency in Hz of bin at sampleRate.
// Out of range bins return 0.
func (p *Processor) BinFrequency(bin int, sampleRate float64) float64 {
	if bin < 0 || bin >= p.Bins() {
		return 0
	}
	return float64(bin) * sampleRate / float64(p.size)
}

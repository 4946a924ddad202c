// SPDX-License-Identifier: MIT
package measure

import (
	"math"
	"math/cmplx"
)

// Bin is the measured transfer function at one frequency.
type Bin struct {
	Index     int        `json:"bin"`
	Frequency float64    `json:"frequency_hz"`
	Amplitude float64    `json:"amplitude"`
	Phase     float64    `json:"phase_rad"`
	Value     complex128 `json:"-"`
}

// Response returns a copy of the raw response table, one coefficient per
// bin. It fails with ErrNotFinished until the finished latch is observed,
// so a partially written table is never handed out.
func (s *Session) Response() ([]complex128, error) {
	if !s.finished.Done() {
		return nil, ErrNotFinished
	}
	out := make([]complex128, len(s.response))
	copy(out, s.response)
	return out, nil
}

// Results converts the response table into per-bin frequency, normalized
// amplitude |c|/N and phase arg(c) in (-π, π].
func (s *Session) Results() ([]Bin, error) {
	response, err := s.Response()
	if err != nil {
		return nil, err
	}

	n := float64(s.transform.Size())
	bins := make([]Bin, len(response))
	for i, c := range response {
		bins[i] = Bin{
			Index:     i,
			Frequency: s.transform.BinFrequency(i, s.sampleRate),
			Amplitude: cmplx.Abs(c) / n,
			Phase:     Phase(c),
			Value:     c,
		}
	}
	return bins, nil
}

// Phase returns arg(c) folded into (-π, π].
func Phase(c complex128) float64 {
	p := cmplx.Phase(c)
	if p <= -math.Pi {
		p += 2 * math.Pi
	}
	return p
}

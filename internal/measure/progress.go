// SPDX-License-Identifier: MIT
package measure

import (
	"context"
	"fmt"
	"math"
	"time"
)

// DefaultPollInterval is the progress cadence of the control thread.
const DefaultPollInterval = 100 * time.Millisecond

// peakFloorDB is reported for digital silence instead of -Inf.
const peakFloorDB = -120.0

// Progress is a point-in-time view of the sweep, safe to take from any
// goroutine.
type Progress struct {
	State    State   `json:"-"`
	Phase    string  `json:"state"`
	Bin      int     `json:"bin"`
	HasBin   bool    `json:"has_bin"`
	Total    int     `json:"total"`
	PeakDBFS float64 `json:"peak_dbfs"`
	Finished bool    `json:"finished"`
}

// Fraction returns the completed share of the sweep in [0, 1].
func (p Progress) Fraction() float64 {
	if !p.HasBin || p.Total == 0 {
		return 0
	}
	return float64(min(p.Bin, p.Total)) / float64(p.Total)
}

// String renders the console progress line, "Progress k/n" with k counted
// from one and capped at n.
func (p Progress) String() string {
	if !p.HasBin {
		return fmt.Sprintf("Progress -/%d", p.Total)
	}
	return fmt.Sprintf("Progress %d/%d", min(p.Bin+1, p.Total), p.Total)
}

// CurrentBin returns the bin being gated or captured. The second result is
// false until the sweep has been started; after the sweep the bin equals
// Bins.
func (s *Session) CurrentBin() (int, bool) {
	state, bin := s.load()
	return bin, state != StateAwaitingStart
}

// State returns the current sweep state.
func (s *Session) State() State {
	state, _ := s.load()
	return state
}

// Progress returns a snapshot of the sweep for reporting.
func (s *Session) Progress() Progress {
	state, bin := s.load()

	peak := float64(math.Float32frombits(s.peak.Load()))
	peakDB := peakFloorDB
	if peak > 0 {
		peakDB = max(20*math.Log10(peak), peakFloorDB)
	}

	return Progress{
		State:    state,
		Phase:    state.String(),
		Bin:      bin,
		HasBin:   state != StateAwaitingStart,
		Total:    len(s.response),
		PeakDBFS: peakDB,
		Finished: s.finished.Done(),
	}
}

// Wait blocks until the sweep has finished, calling onProgress every
// interval while it runs. It returns ctx.Err() if ctx ends first; the sweep
// itself cannot be cancelled and keeps running on the audio thread.
func (s *Session) Wait(ctx context.Context, interval time.Duration, onProgress func(Progress)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return s.finished.Poll(ctx, interval, func() {
		if onProgress != nil {
			onProgress(s.Progress())
		}
	})
}

func (s *Session) load() (State, int) {
	v := s.snapshot.Load()
	return State(v >> 32), int(uint32(v))
}

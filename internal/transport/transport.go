// SPDX-License-Identifier: MIT
package transport

import (
	"errors"

	"freqresp/internal/measure"
)

// Transport defines a generic interface for sending measurement events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// Event types carried in Event.Type.
const (
	EventProgress = "progress"
	EventResults  = "results"
)

// Event is the JSON envelope published to clients.
type Event struct {
	Type       string            `json:"type"`
	SampleRate float64           `json:"sample_rate,omitempty"`
	Progress   *measure.Progress `json:"progress,omitempty"`
	Results    []measure.Bin     `json:"results,omitempty"`
}

// ProgressEvent wraps a progress snapshot.
func ProgressEvent(p measure.Progress) Event {
	return Event{Type: EventProgress, Progress: &p}
}

// ResultsEvent wraps the finished response table.
func ResultsEvent(sampleRate float64, bins []measure.Bin) Event {
	return Event{Type: EventResults, SampleRate: sampleRate, Results: bins}
}

// Multi sends every message to each of its transports.
type Multi []Transport

// Send delivers data to all transports and joins their errors.
func (m Multi) Send(data any) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all transports and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Multi(nil)

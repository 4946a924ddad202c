// SPDX-License-Identifier: MIT
package transport

import (
	"freqresp/internal/log"
)

// LoggingTransport implements the Transport interface by logging events at
// debug level.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	log.Debugf("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs a one-line summary of the event.
func (lt *LoggingTransport) Send(data any) error {
	switch ev := data.(type) {
	case Event:
		switch {
		case ev.Progress != nil:
			log.Debugf("LOG_TRANSPORT: %s %s (%s, peak %.1f dBFS)", ev.Type, ev.Progress, ev.Progress.Phase, ev.Progress.PeakDBFS)
		default:
			log.Debugf("LOG_TRANSPORT: %s (%d bins at %.0f Hz)", ev.Type, len(ev.Results), ev.SampleRate)
		}
	default:
		log.Debugf("LOG_TRANSPORT: Received (%T): %+v", data, data)
	}
	return nil // Logging transport never fails to "send"
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	log.Debugf("LOG_TRANSPORT: Close called.")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)

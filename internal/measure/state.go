// SPDX-License-Identifier: MIT
package measure

// State is the position of the bin sweep state machine.
type State uint8

const (
	// StateAwaitingStart is the initial state: no bin selected, output silent.
	StateAwaitingStart State = iota
	// StateAwaitingSilence holds the output silent until the input has been
	// quiet for the debounce window before exciting the current bin.
	StateAwaitingSilence
	// StateCapturing plays the probe tone for the current bin and accumulates
	// the returned signal into the capture buffer.
	StateCapturing
	// StateDone is terminal: every bin has been measured.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting-start"
	case StateAwaitingSilence:
		return "awaiting-silence"
	case StateCapturing:
		return "capturing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

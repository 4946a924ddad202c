// SPDX-License-Identifier: MIT
package measure

import (
	"context"
	"sync/atomic"
	"time"
)

// Latch is a publish-once completion signal between exactly one producer and
// one consumer.
//
// Ordering contract: every write the producer makes before Publish is
// visible to a consumer that has observed Done() == true. The flag is a
// sync/atomic value, whose Store/Load pair gives the release/acquire
// edge required by the Go memory model, so no extra fences are needed.
//
// Publish and Done never block or allocate and are safe on the audio thread.
type Latch struct {
	done atomic.Bool
}

// Publish sets the latch. Subsequent calls are no-ops.
func (l *Latch) Publish() {
	l.done.Store(true)
}

// Done reports whether the latch has been published.
func (l *Latch) Done() bool {
	return l.done.Load()
}

// Poll checks the latch every interval until it is published or ctx ends.
// onTick runs after each unsuccessful check. The producer never has to wake
// anyone up.
func (l *Latch) Poll(ctx context.Context, interval time.Duration, onTick func()) error {
	if l.Done() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.Done() {
				return nil
			}
			if onTick != nil {
				onTick()
			}
		}
	}
}

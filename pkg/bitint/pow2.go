// SPDX-License-Identifier: MIT

/*
Package bitint provides the power-of-two arithmetic used to size real-time
buffers: the transform length must be a power of two for the radix FFT, and
the recorder ring is rounded up to a power of two so that wrap-around is a
mask instead of a modulo.

All functions are allocation free and safe to call from the audio callback.

Usage:

	ringSize := bitint.NextPowerOfTwo(2 * 48000) // 131072
	mask := ringSize - 1

	if !bitint.IsPowerOfTwo(fftSize) {
		return ErrInvalidSize
	}
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size. Non-positive
// sizes return 1.
//
// The subtraction keeps exact powers of two unchanged: for size 8,
// bits.Len(7) is 3 and 1<<3 is 8, while bits.Len(8) would double it.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
// A power of two has exactly one bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns log2(n) for a power of two n, and -1 otherwise.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}

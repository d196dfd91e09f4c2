// SPDX-License-Identifier: MIT
/*
Package bitint holds the power-of-two helpers used to size FFT windows and
buffers. All functions are O(1) and allocation free.

	windowLen := max(4096, bitint.NextPowerOfTwo(hopLen))
	ok := bitint.IsPowerOfTwo(windowLen)
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size, and 1 for
// size <= 0. Subtracting one first keeps exact powers unchanged:
// 8-1 = 0b0111 has length 3, and 1<<3 is 8 again.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2: such a number
// has one bit set, so clearing its lowest set bit leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

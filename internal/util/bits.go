package util

import "math/bits"

// PackBits packs a slice of 0/1 bytes into 64-bit words, bit i of the
// input landing at bit i%64 of word i/64.
func PackBits(b []uint8) []uint64 {
	words := make([]uint64, (len(b)+63)/64)
	for i, v := range b {
		words[i/64] |= uint64(v&1) << (i % 64)
	}
	return words
}

// BitAt returns bit i of a packed word slice.
func BitAt(words []uint64, i int) uint8 {
	return uint8(words[i/64]>>(i%64)) & 1
}

// TransposeColumns turns 128 packed columns of n bits each into n rows of
// 128 bits. Bit j of row i is bit i of column j.
func TransposeColumns(cols [][]uint64, n int) [][2]uint64 {
	rows := make([][2]uint64, n)
	for j, col := range cols {
		half, shift := j/64, uint(j%64)
		for w, word := range col {
			base := w * 64
			for word != 0 {
				// walk only the set bits of the word
				tz := bits.TrailingZeros64(word)
				if base+tz >= n {
					break
				}
				rows[base+tz][half] |= 1 << shift
				word &= word - 1
			}
		}
	}
	return rows
}

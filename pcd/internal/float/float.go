package float

import (
	"unsafe"
)

// Float32SliceAsByteSlice reinterprets f as its little endian byte representation
// on the host without copying.
func Float32SliceAsByteSlice(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}

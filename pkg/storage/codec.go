package storage

import "fmt"

// Fixed-width integer helpers for record layouts.
//
// All widths are big-endian. 48-bit values are two's complement so that
// NullReference (-1) is stored as all ones; 24-bit values are unsigned.

const (
	maxInt48  = 1<<47 - 1
	minInt48  = -(1 << 47)
	MaxUint24 = 1<<24 - 1
)

// PutInt48 writes v into b[0:6].
func PutInt48(b []byte, v int64) {
	_ = b[5]
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

// Int48 reads a sign-extended 48-bit value from b[0:6].
func Int48(b []byte) int64 {
	_ = b[5]
	v := int64(b[0])<<40 | int64(b[1])<<32 | int64(b[2])<<24 |
		int64(b[3])<<16 | int64(b[4])<<8 | int64(b[5])
	// sign extend bit 47
	return v << 16 >> 16
}

// PutUint24 writes v into b[0:3].
func PutUint24(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// Uint24 reads an unsigned 24-bit value from b[0:3].
func Uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// CheckInt48 returns ErrValueOutOfRange if v does not fit 48 bits.
func CheckInt48(field string, v int64) error {
	if v < minInt48 || v > maxInt48 {
		return fmt.Errorf("%w: %s=%d does not fit 48 bits", ErrValueOutOfRange, field, v)
	}
	return nil
}

// CheckUint24 returns ErrValueOutOfRange if v is negative or does not fit 24 bits.
func CheckUint24(field string, v int64) error {
	if v < 0 || v > MaxUint24 {
		return fmt.Errorf("%w: %s=%d does not fit 24 bits", ErrValueOutOfRange, field, v)
	}
	return nil
}

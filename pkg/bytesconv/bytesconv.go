// Package bytesconv provides zero-copy conversions between strings and byte
// slices for hot encoding paths.
package bytesconv

import "unsafe"

// BytesToString converts a byte slice to a string without allocation.
// The returned string shares memory with b; b must not be modified while
// the string is alive.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// StringToBytes converts a string to a byte slice without allocation.
// The returned slice shares memory with s and must not be written to.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// Clone returns a copy of s backed by freshly owned memory. Use it when a
// zero-copy view needs to outlive its source buffer.
func Clone(s string) string {
	if len(s) == 0 {
		return ""
	}
	b := make([]byte, len(s))
	copy(b, s)
	return BytesToString(b)
}

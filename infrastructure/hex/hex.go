// Package hex provides unified hexadecimal string handling utilities.
// This eliminates duplication across the codebase where hex encoding/decoding
// with 0x prefix handling is repeated.
package hex

import (
	"encoding/hex"
	"strings"
)

// TrimPrefix removes "0x" or "0X" prefix from hex strings if present.
// This is the standard way to strip prefixes before hex operations.
func TrimPrefix(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "0x")
	value = strings.TrimPrefix(value, "0X")
	return value
}

// Normalize returns a normalized hex string (lowercase, no 0x prefix).
// Useful for comparing hex addresses or storing in a canonical format.
func Normalize(value string) string {
	value = TrimPrefix(value)
	return strings.ToLower(value)
}

// DecodeString decodes a hex string to bytes.
// It handles optional "0x" or "0X" prefix automatically.
// Returns an error if the string contains invalid hex characters.
func DecodeString(value string) ([]byte, error) {
	value = TrimPrefix(value)
	return hex.DecodeString(value)
}

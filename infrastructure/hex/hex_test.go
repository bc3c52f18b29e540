package hex

import (
	"testing"
)

func TestTrimPrefix(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase 0x", "0xabcdef", "abcdef"},
		{"uppercase 0X", "0XABCDEF", "ABCDEF"},
		{"mixed case", "0xAbCdEf", "AbCdEf"},
		{"with spaces", "  0xabcdef  ", "abcdef"},
		{"no prefix", "abcdef", "abcdef"},
		{"empty string", "", ""},
		{"only prefix", "0x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := TrimPrefix(tt.input)
			if result != tt.expected {
				t.Errorf("TrimPrefix(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase 0x", "0xABCDEF", "abcdef"},
		{"uppercase 0X", "0XABCDEF", "abcdef"},
		{"mixed case", "  0xAbCdEf  ", "abcdef"},
		{"no prefix", "ABCDEF", "abcdef"},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.input)
			if result != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDecodeString(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  []byte
		expectErr bool
	}{
		{"valid lowercase", "0xabcdef", []byte{0xab, 0xcd, 0xef}, false},
		{"valid uppercase", "0XABCDEF", []byte{0xab, 0xcd, 0xef}, false},
		{"valid no prefix", "abcdef", []byte{0xab, 0xcd, 0xef}, false},
		{"empty string", "", []byte{}, false},
		{"invalid chars", "0xghij", nil, true},
		{"odd length", "0xabc", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := DecodeString(tt.input)
			if (err != nil) != tt.expectErr {
				t.Errorf("DecodeString(%q) error = %v, expectErr %v", tt.input, err, tt.expectErr)
				return
			}
			if !tt.expectErr && string(result) != string(tt.expected) {
				t.Errorf("DecodeString(%q) = %x, want %x", tt.input, result, tt.expected)
			}
		})
	}
}

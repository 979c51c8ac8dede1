package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1024", 1024},
		{"5MB", 5 * 1024 * 1024},
		{"1.5 GB", int64(1.5 * 1024 * 1024 * 1024)},
		{"500KB", 500 * 1024},
		{"2TiB", 2 * 1024 * 1024 * 1024 * 1024},
		{"0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size.Bytes())
		})
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	for _, input := range []string{"", "12parsecs", "MB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseByteSize(input)
			assert.Error(t, err)
		})
	}
}

func TestByteSize_String(t *testing.T) {
	tests := []struct {
		size     ByteSize
		expected string
	}{
		{0, "0B"},
		{512, "512B"},
		{5 * MB, "5MB"},
		{1536 * MB, "1.5GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.size.String())
	}
}

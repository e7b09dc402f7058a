package origins

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "single origin",
			input:    []string{"https://app.example"},
			expected: []string{"https://app.example"},
		},
		{
			name:     "trims whitespace and trailing slashes",
			input:    []string{"  https://a.example/ ", "https://b.example//"},
			expected: []string{"https://a.example", "https://b.example"},
		},
		{
			name:     "removes duplicates case-insensitively preserving order",
			input:    []string{"https://B.example", "https://a.example", "https://b.example"},
			expected: []string{"https://b.example", "https://a.example"},
		},
		{
			name:     "drops empty entries",
			input:    []string{"", "  ", "/", "https://a.example"},
			expected: []string{"https://a.example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

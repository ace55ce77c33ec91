package ethereum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitBlockRange(t *testing.T) {
	tests := []struct {
		name     string
		from, to uint64
		lotSize  uint64
		expected []BlockRange
	}{
		{
			name:     "single lot",
			from:     1,
			to:       10,
			lotSize:  100,
			expected: []BlockRange{{From: 1, To: 10}},
		},
		{
			name:     "exact multiple",
			from:     1,
			to:       20,
			lotSize:  10,
			expected: []BlockRange{{From: 1, To: 10}, {From: 11, To: 20}},
		},
		{
			name:     "remainder",
			from:     5,
			to:       27,
			lotSize:  10,
			expected: []BlockRange{{From: 5, To: 14}, {From: 15, To: 24}, {From: 25, To: 27}},
		},
		{
			name:     "single block",
			from:     7,
			to:       7,
			lotSize:  1000000,
			expected: []BlockRange{{From: 7, To: 7}},
		},
		{
			name:     "empty range",
			from:     11,
			to:       10,
			lotSize:  10,
			expected: nil,
		},
		{
			name:     "zero lot size",
			from:     1,
			to:       10,
			lotSize:  0,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitBlockRange(tt.from, tt.to, tt.lotSize))
		})
	}
}

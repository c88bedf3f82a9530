package device

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDim3Groups(t *testing.T) {
	tests := []struct {
		name    string
		threads Dim3
		group   Dim3
		want    Dim3
	}{
		{"exact", NewDim3(1024, 1024, 1), NewDim3(256, 1, 1), NewDim3(4, 1024, 1)},
		{"rounds up", NewDim3(1000, 3, 1), NewDim3(256, 2, 1), NewDim3(4, 2, 1)},
		{"zero group size", NewDim3(7, 1, 1), NewDim3(0, 0, 0), NewDim3(7, 1, 1)},
		{"max threads", NewDim3(math.MaxUint32, math.MaxUint32, 1), NewDim3(256, 2, 1), NewDim3(16777216, 2147483648, 1)},
		{"max threads exact", NewDim3(math.MaxUint32, 1, 1), NewDim3(math.MaxUint32, 1, 1), NewDim3(1, 1, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.threads.Groups(tt.group))
		})
	}
}

func TestDim3Count(t *testing.T) {
	assert.Equal(t, uint64(1024*1024), NewDim3(1024, 1024, 1).Count())
	assert.True(t, NewDim3(1, 1, 1).Valid())
	assert.False(t, NewDim3(1, 0, 1).Valid())
	assert.Equal(t, "4x2x1", NewDim3(4, 2, 1).String())
}

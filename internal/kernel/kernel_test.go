package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsError(t *testing.T) {
	tests := []struct {
		name string
		v    int64
		want bool
	}{
		{"zero", 0, false},
		{"positive fd", 3, false},
		{"top of band", -1, true},
		{"mid band", -ENOENT, true},
		{"bottom of band", -4095, true},
		{"below band", -4096, false},
		{"large negative", -1 << 40, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsError(tt.v))
		})
	}
}

func TestErrnoRoundTrip(t *testing.T) {
	v := Err(ENOENT)
	assert.True(t, IsError(v))
	assert.Equal(t, ENOENT, Errno(v))
}

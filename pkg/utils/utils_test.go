package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0s"},
		{45, "45s"},
		{60, "1m"},
		{750, "12m30s"},
		{3600, "1h"},
		{3*3600 + 5*60 + 59, "3h05m"},
		{-90, "1m30s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSeconds(tt.in), "seconds=%d", tt.in)
	}
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "1 run", Plural(1, "run"))
	assert.Equal(t, "0 runs", Plural(0, "run"))
	assert.Equal(t, "4 runs", Plural(4, "run"))
}

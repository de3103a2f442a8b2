package duration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1500ms", "1.5s"},
		{"65s", "1m 5s"},
		{"90000ms", "1m 30s"},
		{"0ms", "0s"},
		{"500ns", "0s"},
		{"250us", "0s"},
		{"1500µs", "2ms"},
		{"-2h", "-2h"},
		{"-90s", "-1m 30s"},
		{"-0.5ms", "0s"},
		{"2s", "2s"},
		{"2.5s", "2.5s"},
		{"12ms", "12ms"},
		{"1h0m0s", "1h"},
		{"1.5h", "1h 30m"},
		{"1m30.5s", "1m 30s"},
		{"26h3m4s", "1d 2h 3m"},
		{"72h0m1s", "3d 1s"},
		{" 3m ", "3m"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.input))
		})
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1d 2h 3m 4s", FormatUnits("26h3m4s", 4))
	assert.Equal(t, "1d", FormatUnits("26h3m4s", 1))
	assert.Equal(t, "1d 2h 3m", FormatUnits("26h3m4s", 0))
}

func TestFormat_UnmatchedInputIsReturnedVerbatim(t *testing.T) {
	for _, input := range []string{"", "   ", "unknown", "n/a", "12 apples", "-", "h m s"} {
		assert.Equal(t, input, Format(input), "input %q", input)
	}
}

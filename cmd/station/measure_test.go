package main

import (
	"testing"

	"github.com/mklimuk/station/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		given    string
		expected packet.Frame
		err      bool
	}{
		{
			name:     "measure output",
			given:    "0000c8410000204264 03",
			expected: packet.Frame{Temperature: 25, Humidity: 40, Battery: 100, StationID: 3, HasBattery: true, HasStation: true},
		},
		{
			name:     "prefixed readings only",
			given:    "0x0000c84100002042",
			expected: packet.Frame{Temperature: 25, Humidity: 40},
		},
		{name: "not hex", given: "zz", err: true},
		{name: "short", given: "0000c841", err: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f, err := decodeFrame(test.given)
			if test.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, f)
		})
	}
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLoopMode(t *testing.T) {
	cases := map[string]LoopMode{
		"off":   LoopOff,
		"none":  LoopOff,
		"track": LoopTrack,
		"queue": LoopQueue,
		"TRACK": LoopTrack,
	}
	for input, want := range cases {
		got, err := ParseLoopMode(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseLoopMode("bogus")
	assert.Error(t, err)
}

func TestLoopModeString(t *testing.T) {
	assert.Equal(t, "off", LoopOff.String())
	assert.Equal(t, "track", LoopTrack.String())
	assert.Equal(t, "queue", LoopQueue.String())
}

func TestTrackIsStream(t *testing.T) {
	assert.True(t, Track{Duration: 0}.IsStream())
	assert.False(t, Track{Duration: 180000}.IsStream())
}

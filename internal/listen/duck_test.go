package listen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pactlOutput = `Sink Input #42
	Driver: protocol-native.c
	Sink: 0
	Volume: front-left: 52428 /  80% / -5.81 dB,   front-right: 52428 /  80% / -5.81 dB
	Properties:
		application.name = "Spotify"
		media.name = "Playback"

Sink Input #57
	Driver: protocol-native.c
	Sink: 0
	Volume: front-left: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
`

func TestParseSinkInputs(t *testing.T) {
	streams := parseSinkInputs(pactlOutput)
	require.Len(t, streams, 2)

	assert.Equal(t, 42, streams[0].ID)
	assert.Equal(t, 80, streams[0].Volume)
	assert.Equal(t, "Spotify", streams[0].AppName)

	assert.Equal(t, 57, streams[1].ID)
	assert.Equal(t, 100, streams[1].Volume)
	assert.Equal(t, "Firefox", streams[1].AppName)
}

func TestParseSinkInputsEmpty(t *testing.T) {
	assert.Empty(t, parseSinkInputs(""))
	assert.Empty(t, parseSinkInputs("no sink inputs here"))
}

func TestDuckerSelfMatchIsCaseInsensitive(t *testing.T) {
	d := NewDucker([]string{"maestro"}, 20)
	assert.True(t, d.isSelf(sinkInput{AppName: "Maestro"}))
	assert.False(t, d.isSelf(sinkInput{AppName: "Spotify"}))
}

func TestFrameRMS(t *testing.T) {
	assert.Equal(t, 0.0, frameRMS(nil))
	assert.InDelta(t, 0.5, frameRMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
}

func TestPCMToIntClamps(t *testing.T) {
	out := pcmToInt([]float32{0, 1, -1, 2, -2})
	assert.Equal(t, []int{0, 32767, -32767, 32767, -32767}, out)
}

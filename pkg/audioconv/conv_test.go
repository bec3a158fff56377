package audioconv

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCM16LE(t *testing.T) {
	b := PCM16LE([]float32{0, 1, -1, 0.5, 2})
	require.Len(t, b, 10)

	at := func(i int) int16 { return int16(binary.LittleEndian.Uint16(b[i*2:])) }
	assert.Equal(t, int16(0), at(0))
	assert.Equal(t, int16(32767), at(1))
	assert.Equal(t, int16(-32767), at(2))
	assert.Equal(t, int16(16384), at(3))
	assert.Equal(t, int16(32767), at(4))
}

func TestTo16kMono(t *testing.T) {
	stereo := []float32{1, 0, 1, 0, 1, 0, 1, 0}
	mono := To16kMono(stereo, 2, TargetRate)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, mono)

	in := make([]float32, 48000)
	assert.Len(t, To16kMono(in, 1, 48000), 16000)
}

func TestDecodeWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utterance.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, 32000, 16, 1, 1)
	data := make([]int, 3200)
	for i := range data {
		data[i] = 16384
	}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 32000},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	pcm, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Len(t, pcm, 1600)
	assert.InDelta(t, 0.5, pcm[100], 0.001)
}

func TestDecodeUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	_, err := DecodeFile(path)
	assert.Error(t, err)
}

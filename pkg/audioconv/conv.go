// Package audioconv decodes recorded utterances to 16 kHz mono float32 and
// encodes PCM for network recognizers.
package audioconv

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const TargetRate = 16000

// DecodeFile picks a decoder by extension, falling back to sniffing the header.
func DecodeFile(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return DecodeWAV(f)
	case ".mp3":
		return DecodeMP3(f)
	case ".ogg", ".oga", ".opus":
		return decodeOgg(f)
	}

	magic, _ := bufio.NewReader(f).Peek(4)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	switch string(magic) {
	case "RIFF":
		return DecodeWAV(f)
	case "OggS":
		return decodeOgg(f)
	default:
		return nil, fmt.Errorf("unsupported audio file %s (wav, mp3, ogg vorbis/opus)", path)
	}
}

func decodeOgg(r io.ReadSeeker) ([]float32, error) {
	pcm, vErr := DecodeVorbis(r)
	if vErr == nil {
		return pcm, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	pcm, oErr := DecodeOpus(r)
	if oErr != nil {
		return nil, fmt.Errorf("ogg: not vorbis (%v) nor opus (%v)", vErr, oErr)
	}
	return pcm, nil
}

func DecodeWAV(r io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	channels, rate := 1, int(dec.SampleRate)
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			rate = buf.Format.SampleRate
		}
	}

	scale := 1.0 / float64(int64(1)<<(depth-1))
	x := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		x[i] = float32(clamp(float64(v) * scale))
	}
	return To16kMono(x, channels, rate), nil
}

func DecodeMP3(r io.Reader) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}

	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(ints)*2]), binary.LittleEndian, ints); err != nil {
		return nil, err
	}

	// go-mp3 always yields interleaved stereo.
	return To16kMono(fromInt16(ints), 2, dec.SampleRate()), nil
}

func DecodeVorbis(r io.Reader) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return To16kMono(pcm, format.Channels, format.SampleRate), nil
}

// DecodeOpus reads an Ogg Opus stream, which always decodes at 48 kHz.
func DecodeOpus(r io.ReadSeeker) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var pcm []float32
	buf := make([]int16, 24000*ch)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, fromInt16(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return To16kMono(pcm, ch, 48000), nil
}

// To16kMono downmixes interleaved samples and resamples them linearly.
func To16kMono(in []float32, channels, rate int) []float32 {
	if rate <= 0 {
		rate = TargetRate
	}
	return resample(downmix(in, channels), rate, TargetRate)
}

// PCM16LE encodes samples as signed 16-bit little endian, the LINEAR16 wire format.
func PCM16LE(pcm []float32) []byte {
	out := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		s := int16(math.Round(clamp(float64(v)) * math.MaxInt16))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func fromInt16(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]float32, frames)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	ratio := float64(to) / float64(from)
	out := make([]float32, int(math.Ceil(float64(len(in))*ratio)))
	last := len(in) - 1
	for i := range out {
		src := float64(i) / ratio
		i0 := int(src)
		if i0 >= last {
			out[i] = in[last]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}

func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}

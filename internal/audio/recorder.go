package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	sampleRate = 16000
	frameSize  = 320 // 20ms
	frameDur   = 20 * time.Millisecond
)

type RecorderOptions struct {
	SilenceThreshold float64       // RMS floor that counts as speech
	SilenceHold      time.Duration // trailing silence that ends an utterance
	MaxLength        time.Duration
}

func (o *RecorderOptions) defaults() {
	if o.SilenceThreshold <= 0 {
		o.SilenceThreshold = 0.015
	}
	if o.SilenceHold <= 0 {
		o.SilenceHold = 600 * time.Millisecond
	}
	if o.MaxLength <= 0 {
		o.MaxLength = 10 * time.Second
	}
}

type Recorder struct {
	opt       RecorderOptions
	threshold float64
}

func NewRecorder(opt RecorderOptions) *Recorder {
	opt.defaults()
	return &Recorder{opt: opt, threshold: opt.SilenceThreshold}
}

func (r *Recorder) Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: %w", err)
	}
	return nil
}

func (r *Recorder) Close() {
	_ = portaudio.Terminate()
}

func (r *Recorder) Threshold() float64 { return r.threshold }

// Calibrate samples the room for d and raises the speech threshold above the
// measured noise floor. It never lowers it below the configured minimum.
func (r *Recorder) Calibrate(ctx context.Context, d time.Duration) error {
	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return err
	}
	defer stream.Stop()

	frames := int(d / frameDur)
	if frames < 1 {
		frames = 1
	}

	var sum float64
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stream.Read(); err != nil {
			return err
		}
		sum += frameRMS(buf)
	}

	r.threshold = calibratedThreshold(sum/float64(frames), r.opt.SilenceThreshold)
	log.Info("Adjusted for ambient noise", "threshold", r.threshold)
	return nil
}

// Record captures one utterance: it waits for speech, then stops after the
// configured trailing silence or the length cap. No speech yields an empty slice.
func (r *Recorder) Record(ctx context.Context) ([]float32, error) {
	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	seg := newSegmenter(r.threshold, r.opt.SilenceHold, r.opt.MaxLength)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		if seg.push(buf) {
			return seg.out, nil
		}
	}
}

// segmenter is the energy-based endpointing used by Record.
type segmenter struct {
	threshold     float64
	holdFrames    int
	maxFrames     int
	frames        int
	speaking      bool
	silenceFrames int
	out           []float32
}

func newSegmenter(threshold float64, hold, max time.Duration) *segmenter {
	return &segmenter{
		threshold:  threshold,
		holdFrames: int(hold / frameDur),
		maxFrames:  int(max / frameDur),
		out:        make([]float32, 0, sampleRate*3),
	}
}

// push consumes one frame and reports whether the utterance is complete.
func (s *segmenter) push(frame []float32) bool {
	s.frames++

	if frameRMS(frame) > s.threshold {
		s.speaking = true
		s.silenceFrames = 0
		s.out = append(s.out, frame...)
	} else if s.speaking {
		s.silenceFrames++
		if s.silenceFrames >= s.holdFrames {
			return true
		}
		s.out = append(s.out, frame...)
	}

	return s.frames >= s.maxFrames
}

func calibratedThreshold(noise, floor float64) float64 {
	return math.Max(floor, noise*1.5)
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}

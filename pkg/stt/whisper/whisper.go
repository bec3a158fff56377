// Package whisper is the local speech backend on whisper.cpp.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	wcpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"athena/pkg/stt"
)

type Options struct {
	Language      string // "auto", "en", ...
	Threads       int    // <=0 => NumCPU()
	InitialPrompt string // biases decoding towards the wake phrases
	BeamSize      int    // 0 = greedy
}

type Transcriber struct {
	model wcpp.Model
	opt   Options
}

func New(modelPath string, opt Options) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := wcpp.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if opt.Language == "" {
		opt.Language = "auto"
	}
	return &Transcriber{model: m, opt: opt}, nil
}

func (w *Transcriber) Close() error {
	if w.model == nil {
		return nil
	}
	return w.model.Close()
}

func (w *Transcriber) Transcribe(ctx context.Context, pcm16k []float32) (string, error) {
	if w.model == nil {
		return "", errors.New("nil model")
	}
	if len(pcm16k) == 0 {
		return "", stt.ErrNoMatch
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new context: %w", err)
	}

	if err := wctx.SetLanguage(w.opt.Language); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}

	threads := w.opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if w.opt.BeamSize > 0 {
		wctx.SetBeamSize(w.opt.BeamSize)
	}
	if w.opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(w.opt.InitialPrompt)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("next segment: %w", err)
		}
		parts = append(parts, s.Text)
	}

	text := stt.Clean(strings.Join(parts, " "))
	if text == "" {
		return "", stt.ErrNoMatch
	}
	return text, nil
}

// Package stt turns 16 kHz mono PCM into text.
package stt

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNoMatch means audio was captured but no speech could be recognized.
	ErrNoMatch = errors.New("stt: speech not recognized")
	// ErrUnreachable means a network recognizer could not be reached.
	ErrUnreachable = errors.New("stt: service unreachable")
)

const SampleRate = 16000

type Transcriber interface {
	// Transcribe expects mono float32 samples at SampleRate in [-1, 1].
	Transcribe(ctx context.Context, pcm16k []float32) (string, error)
	Close() error
}

// Non-speech markers such as "[BLANK_AUDIO]" or "(music)".
var markerRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

// Clean drops non-speech markers and collapses whitespace.
func Clean(text string) string {
	text = markerRe.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

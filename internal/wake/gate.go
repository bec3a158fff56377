package wake

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"

	"athena/internal/metrics"
	"athena/pkg/stt"
)

var DefaultPhrases = []string{
	"hey athena",
	"okay athena",
	"athena",
	"yo athena",
	"good morning athena",
	"good afternoon athena",
}

var (
	ErrNoWake    = errors.New("wake: no wake phrase heard")
	ErrNoCommand = errors.New("wake: no command heard")
)

// Listener captures one utterance and returns its transcript. It returns io.EOF
// when the audio source is exhausted.
type Listener interface {
	Listen(ctx context.Context) (string, error)
}

type Option func(*Gate)

// WithOnWake runs fn between detecting the wake phrase and listening for the command.
func WithOnWake(fn func(ctx context.Context)) Option {
	return func(g *Gate) { g.onWake = fn }
}

type Gate struct {
	listener Listener
	phrases  []string
	onWake   func(ctx context.Context)
}

func New(l Listener, phrases []string, opts ...Option) *Gate {
	g := &Gate{listener: l}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			g.phrases = append(g.phrases, p)
		}
	}
	if len(g.phrases) == 0 {
		g.phrases = append(g.phrases, DefaultPhrases...)
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Contains reports whether text holds any wake phrase, ignoring case.
func (g *Gate) Contains(text string) bool {
	text = strings.ToLower(text)
	for _, p := range g.phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// Await runs one listening cycle. It returns the follow-up command after a wake
// phrase, ErrNoWake when the segment had none, or ErrNoCommand when nothing
// usable followed the wake phrase.
func (g *Gate) Await(ctx context.Context) (string, error) {
	text, err := g.transcribe(ctx)
	if err != nil {
		return "", err
	}
	log.Debug("Heard", "text", text)

	if !g.Contains(text) {
		return "", ErrNoWake
	}

	log.Info("Wake word detected, ready for your command")
	metrics.WakeDetections.Inc()
	if g.onWake != nil {
		g.onWake(ctx)
	}

	cmd, err := g.transcribe(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrNoCommand, err)
	}

	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if cmd == "" {
		return "", ErrNoCommand
	}

	log.Info("You said", "command", cmd)
	return cmd, nil
}

// Run listens until ctx is cancelled or the source ends. Per-iteration failures
// are logged and never stop the loop.
func (g *Gate) Run(ctx context.Context, handle func(ctx context.Context, command string)) error {
	log.Info("Listening for wake word", "phrases", g.phrases)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, err := g.Await(ctx)
		switch {
		case err == nil:
			handle(ctx, cmd)
		case errors.Is(err, ErrNoWake):
		case errors.Is(err, io.EOF):
			log.Info("Audio source exhausted")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, stt.ErrUnreachable):
			log.Error("Could not reach speech service", "err", err)
		case errors.Is(err, ErrNoCommand):
			log.Warn("Couldn't understand the command", "err", err)
		case errors.Is(err, stt.ErrNoMatch):
			log.Debug("Didn't catch that")
		default:
			log.Error("Listening failed", "err", err)
		}
	}
}

func (g *Gate) transcribe(ctx context.Context) (string, error) {
	text, err := g.listener.Listen(ctx)
	switch {
	case err == nil:
		metrics.Transcriptions.WithLabelValues("ok").Inc()
	case errors.Is(err, stt.ErrNoMatch):
		metrics.Transcriptions.WithLabelValues("no_match").Inc()
	case errors.Is(err, stt.ErrUnreachable):
		metrics.Transcriptions.WithLabelValues("unreachable").Inc()
	case errors.Is(err, io.EOF):
	default:
		metrics.Transcriptions.WithLabelValues("error").Inc()
	}
	return text, err
}

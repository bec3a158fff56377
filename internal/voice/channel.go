// Package voice serializes spoken feedback onto the single audio output.
//
// Callers enqueue text and return immediately; one worker goroutine synthesizes
// and plays utterances strictly in FIFO order, one at a time.
package voice

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"
)

// Synthesizer speaks text and returns once playback has finished.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Ducker lowers other audio streams while the channel is speaking.
type Ducker interface {
	DuckOthers(ctx context.Context, factor float64, duration time.Duration) error
	UnduckOthers(ctx context.Context, duration time.Duration) error
}

type Option func(*Channel)

func WithDucker(d Ducker, factor float64, fade time.Duration) Option {
	return func(c *Channel) {
		c.ducker = d
		c.duckFactor = factor
		c.fade = fade
	}
}

// WithObserver is called by the worker after every utterance.
func WithObserver(fn func(text string, err error)) Option {
	return func(c *Channel) { c.observe = fn }
}

type Channel struct {
	synth Synthesizer

	ducker     Ducker
	duckFactor float64
	fade       time.Duration
	ducked     bool

	observe func(string, error)

	mu      sync.Mutex
	queue   []string
	closed  bool
	started bool

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func New(synth Synthesizer, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		synth:  synth,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches the worker. Calling it more than once has no effect.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	go c.run()
}

// Enqueue appends text to the queue without waiting for playback. Blank text is
// ignored; text enqueued after Close is dropped.
func (c *Channel) Enqueue(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		log.Warn("Voice channel closed, dropping utterance", "text", text)
		return
	}
	c.queue = append(c.queue, text)
	c.mu.Unlock()

	c.signal()
}

// Pending returns the number of utterances not yet started.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close stops intake and lets the worker drain the queue. If ctx ends first the
// current utterance is cancelled and whatever is left is discarded.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	c.signal()

	if !started {
		c.cancel()
		return nil
	}

	select {
	case <-c.done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-c.done

		c.mu.Lock()
		dropped := len(c.queue)
		c.queue = nil
		c.mu.Unlock()

		if dropped > 0 {
			log.Warn("Discarded pending utterances", "count", dropped)
		}
		return ctx.Err()
	}
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) run() {
	defer close(c.done)
	defer c.unduck()

	for {
		text, ok := c.next()
		if !ok {
			return
		}

		c.duck()
		err := c.speak(text)
		if err != nil {
			log.Error("Failed to voice out", "text", text, "err", err)
		}
		if c.observe != nil {
			c.observe(text, err)
		}

		if c.Pending() == 0 {
			c.unduck()
		}
	}
}

func (c *Channel) next() (string, bool) {
	for {
		if c.ctx.Err() != nil {
			return "", false
		}

		c.mu.Lock()
		if len(c.queue) > 0 {
			text := c.queue[0]
			c.queue[0] = ""
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return text, true
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return "", false
		}

		select {
		case <-c.wake:
		case <-c.ctx.Done():
			return "", false
		}
	}
}

func (c *Channel) speak(text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesizer panic: %v", r)
		}
	}()
	return c.synth.Speak(c.ctx, text)
}

func (c *Channel) duck() {
	if c.ducker == nil || c.ducked {
		return
	}
	if err := c.ducker.DuckOthers(c.ctx, c.duckFactor, c.fade); err != nil {
		log.Warn("Failed to duck other streams", "err", err)
		return
	}
	c.ducked = true
}

func (c *Channel) unduck() {
	if c.ducker == nil || !c.ducked {
		return
	}
	// The worker context may already be cancelled during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), c.fade+time.Second)
	defer cancel()
	if err := c.ducker.UnduckOthers(ctx, c.fade); err != nil {
		log.Warn("Failed to restore other streams", "err", err)
	}
	c.ducked = false
}

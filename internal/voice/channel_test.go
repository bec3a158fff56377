package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSynth struct {
	mu      sync.Mutex
	spoken  []string
	active  atomic.Int32
	overlap atomic.Bool
	delay   time.Duration
	fail    map[string]error
	block   chan struct{}
}

func (s *recordingSynth) Speak(ctx context.Context, text string) error {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()

	if err, ok := s.fail[text]; ok {
		return err
	}
	if text == "panic" {
		panic("device gone")
	}
	return nil
}

func (s *recordingSynth) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type fakeDucker struct {
	mu      sync.Mutex
	ducks   int
	unducks int
}

func (d *fakeDucker) DuckOthers(context.Context, float64, time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ducks++
	return nil
}

func (d *fakeDucker) UnduckOthers(context.Context, time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unducks++
	return nil
}

func TestFIFOOrder(t *testing.T) {
	synth := &recordingSynth{delay: 5 * time.Millisecond}
	ch := New(synth)
	ch.Start()

	ch.Enqueue("A")
	ch.Enqueue("B")
	ch.Enqueue("C")

	require.NoError(t, ch.Close(context.Background()))
	assert.Equal(t, []string{"A", "B", "C"}, synth.Spoken())
	assert.False(t, synth.overlap.Load())
}

func TestEnqueueDoesNotBlock(t *testing.T) {
	synth := &recordingSynth{block: make(chan struct{})}
	ch := New(synth)
	ch.Start()

	start := time.Now()
	for i := 0; i < 100; i++ {
		ch.Enqueue(fmt.Sprintf("line %d", i))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(synth.block)
	require.NoError(t, ch.Close(context.Background()))
	assert.Len(t, synth.Spoken(), 100)
}

func TestConcurrentEnqueuePreservesPerCallerOrder(t *testing.T) {
	synth := &recordingSynth{delay: time.Millisecond}
	ch := New(synth)
	ch.Start()

	const callers, each = 8, 20
	var wg sync.WaitGroup
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				ch.Enqueue(fmt.Sprintf("%d-%d", c, i))
			}
		}(c)
	}
	wg.Wait()
	require.NoError(t, ch.Close(context.Background()))

	spoken := synth.Spoken()
	require.Len(t, spoken, callers*each)
	assert.False(t, synth.overlap.Load())

	last := make(map[int]int)
	for c := 0; c < callers; c++ {
		last[c] = -1
	}
	for _, s := range spoken {
		var c, i int
		_, err := fmt.Sscanf(s, "%d-%d", &c, &i)
		require.NoError(t, err)
		assert.Equal(t, last[c]+1, i, "caller %d out of order", c)
		last[c] = i
	}
}

func TestBlankIsNoop(t *testing.T) {
	synth := &recordingSynth{}
	ch := New(synth)

	ch.Enqueue("")
	ch.Enqueue("   \t\n")
	assert.Equal(t, 0, ch.Pending())

	ch.Start()
	require.NoError(t, ch.Close(context.Background()))
	assert.Empty(t, synth.Spoken())
}

func TestSynthesisErrorDoesNotStopWorker(t *testing.T) {
	synth := &recordingSynth{fail: map[string]error{"bad": errors.New("espeak failed")}}

	var mu sync.Mutex
	var failures int
	ch := New(synth, WithObserver(func(_ string, err error) {
		if err != nil {
			mu.Lock()
			failures++
			mu.Unlock()
		}
	}))
	ch.Start()

	ch.Enqueue("bad")
	ch.Enqueue("panic")
	ch.Enqueue("good")
	require.NoError(t, ch.Close(context.Background()))

	assert.Equal(t, []string{"bad", "panic", "good"}, synth.Spoken())
	assert.Equal(t, 2, failures)
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	synth := &recordingSynth{}
	ch := New(synth)
	ch.Start()
	require.NoError(t, ch.Close(context.Background()))

	assert.NotPanics(t, func() { ch.Enqueue("late") })
	assert.Equal(t, 0, ch.Pending())
	assert.Empty(t, synth.Spoken())

	assert.NoError(t, ch.Close(context.Background()))
}

func TestCloseWithExpiredContextDiscards(t *testing.T) {
	synth := &recordingSynth{block: make(chan struct{})}
	ch := New(synth)
	ch.Start()

	ch.Enqueue("first")
	ch.Enqueue("second")
	ch.Enqueue("third")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ch.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, ch.Pending())
	assert.Empty(t, synth.Spoken())
}

func TestCloseWithoutStart(t *testing.T) {
	ch := New(&recordingSynth{})
	ch.Enqueue("never spoken")
	assert.NoError(t, ch.Close(context.Background()))
}

func TestDuckingWrapsBurst(t *testing.T) {
	synth := &recordingSynth{block: make(chan struct{})}
	ducker := &fakeDucker{}
	ch := New(synth, WithDucker(ducker, 0.3, 0))
	ch.Start()

	ch.Enqueue("one")
	ch.Enqueue("two")
	close(synth.block)
	require.NoError(t, ch.Close(context.Background()))

	ducker.mu.Lock()
	defer ducker.mu.Unlock()
	assert.Equal(t, 1, ducker.ducks)
	assert.Equal(t, 1, ducker.unducks)
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/action"
	"athena/internal/intent"
)

// events is the shared timeline every fake writes to.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type scriptedLLM struct {
	intent    string
	intentErr error
	ack       string
	ackErr    error

	mu      sync.Mutex
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt, _ string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	if strings.Contains(prompt, "User command:") {
		return s.intent, s.intentErr
	}
	return s.ack, s.ackErr
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type fakeVoice struct{ ev *events }

func (v fakeVoice) Enqueue(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	v.ev.add("speak:" + text)
}

type fakeLights struct{ ev *events }

func (l fakeLights) SetPower(_ context.Context, light string, on bool) error {
	l.ev.add(fmt.Sprintf("power:%s:%t", light, on))
	return nil
}

func (l fakeLights) SetColor(_ context.Context, light string, _ action.XY, _ uint8) error {
	l.ev.add("color:" + light)
	return nil
}

type fakeKeys struct {
	ev  *events
	err error
}

func (k fakeKeys) SendKey(_ context.Context, key string) error {
	k.ev.add("key:" + key)
	return k.err
}

type panickyRooms struct{}

func (panickyRooms) Switch(context.Context, string, bool) error { panic("hub exploded") }

func newTestOrchestrator(t *testing.T, llm *scriptedLLM, deps action.Deps, cfg Config) (*Orchestrator, *events) {
	t.Helper()

	ev := &events{}
	if deps.Lights == nil {
		deps.Lights = fakeLights{ev: ev}
	}
	if deps.Keys == nil {
		deps.Keys = fakeKeys{ev: ev}
	}
	deps.Now = func() time.Time {
		ev.add("act:tell_time")
		return time.Date(2025, 6, 1, 9, 30, 0, 0, time.Local)
	}

	if cfg.Model == "" {
		cfg.Model = "mistral"
	}
	if cfg.SpeakDelay == 0 {
		cfg.SpeakDelay = DefaultSpeakDelay
	}
	if cfg.ActDelay == 0 {
		cfg.ActDelay = DefaultActDelay
	}

	o := New(llm, action.NewRegistry(deps), fakeVoice{ev: ev}, cfg)
	o.now = func() time.Time { return time.Date(2025, 6, 1, 9, 30, 0, 0, time.Local) }
	o.sleep = func(_ context.Context, d time.Duration) { ev.add("sleep:" + d.String()) }
	return o, ev
}

func TestTellTimeActsThenSpeaks(t *testing.T) {
	llm := &scriptedLLM{intent: `{"action":"tell_time","params":{}}`, ack: "It's nine thirty."}
	o, ev := newTestOrchestrator(t, llm, action.Deps{}, Config{})

	rep, err := o.Dispatch(context.Background(), "what time is it")
	require.NoError(t, err)

	assert.Equal(t, []string{"act:tell_time", "sleep:600ms", "speak:It's nine thirty."}, ev.all())
	assert.Equal(t, action.ActThenSpeak, rep.Timing)
	assert.Equal(t, intent.KindResolved, rep.Kind)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, 2, llm.calls())
}

func TestUnknownColorParallel(t *testing.T) {
	llm := &scriptedLLM{
		intent: `{"action":"monitor_backlight_color","params":{"color_name":"teal"}}`,
		ack:    "Setting your backlight to teal.",
	}
	o, ev := newTestOrchestrator(t, llm, action.Deps{}, Config{})

	rep, err := o.Dispatch(context.Background(), "make the backlight teal")
	require.NoError(t, err)

	// No bridge call, acknowledgement still spoken, no settling delay.
	assert.Equal(t, []string{"speak:Setting your backlight to teal."}, ev.all())
	assert.Equal(t, action.Parallel, rep.Timing)
}

func TestKnownColorParallel(t *testing.T) {
	llm := &scriptedLLM{intent: `{"action":"monitor_backlight_color","params":{"color_name":"red"}}`, ack: "Red it is."}
	o, ev := newTestOrchestrator(t, llm, action.Deps{LightName: "Desk"}, Config{})

	_, err := o.Dispatch(context.Background(), "backlight red")
	require.NoError(t, err)
	assert.Equal(t, []string{"speak:Red it is.", "color:Desk"}, ev.all())
}

func TestMalformedResponseAborts(t *testing.T) {
	llm := &scriptedLLM{intent: "Sure, I'll do that!", ack: "should never be asked"}
	o, ev := newTestOrchestrator(t, llm, action.Deps{}, Config{UnclearReply: "I didn't catch that."})

	_, err := o.Dispatch(context.Background(), "turn on the light")
	assert.ErrorIs(t, err, intent.ErrMalformed)
	assert.NotErrorIs(t, err, ErrUnclearCommand)
	assert.Empty(t, ev.all())
	assert.Equal(t, 1, llm.calls())
}

func TestUnsupportedActionIsUnclear(t *testing.T) {
	llm := &scriptedLLM{intent: `{"action":"fly_to_moon","params":{}}`}
	o, ev := newTestOrchestrator(t, llm, action.Deps{}, Config{})

	rep, err := o.Dispatch(context.Background(), "fly me to the moon")
	assert.ErrorIs(t, err, ErrUnclearCommand)
	assert.Equal(t, intent.KindUnsupported, rep.Kind)
	assert.Empty(t, ev.all())
	assert.Equal(t, 1, llm.calls())
}

func TestUnclearSpeaksConfiguredReply(t *testing.T) {
	llm := &scriptedLLM{intent: `{"action":"unclear_command","params":{}}`}
	o, ev := newTestOrchestrator(t, llm, action.Deps{}, Config{UnclearReply: "I didn't catch that."})

	rep, err := o.Dispatch(context.Background(), "mumble")
	assert.ErrorIs(t, err, ErrUnclearCommand)
	assert.Equal(t, intent.KindUnclear, rep.Kind)
	assert.Equal(t, []string{"speak:I didn't catch that."}, ev.all())
}

func TestServiceUnreachable(t *testing.T) {
	llm := &scriptedLLM{intentErr: context.DeadlineExceeded}
	o, ev := newTestOrchestrator(t, llm, action.Deps{}, Config{})

	_, err := o.Dispatch(context.Background(), "what time is it")
	assert.ErrorIs(t, err, ErrServiceUnreachable)
	assert.Empty(t, ev.all())
}

func TestServiceTimeoutIsBounded(t *testing.T) {
	block := completerFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	o := New(block, action.NewRegistry(action.Deps{}), fakeVoice{ev: &events{}}, Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := o.Dispatch(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrServiceUnreachable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAckFailureStillActs(t *testing.T) {
	llm := &scriptedLLM{intent: `{"action":"monitor_backlight_on","params":{}}`, ackErr: errors.New("boom")}
	o, ev := newTestOrchestrator(t, llm, action.Deps{}, Config{})

	rep, err := o.Dispatch(context.Background(), "backlight on")
	require.NoError(t, err)
	assert.Empty(t, rep.Ack)
	assert.Equal(t, []string{"power:Monitor Backlight:true"}, ev.all())
}

func TestUnmappedActionsSpeakThenAct(t *testing.T) {
	for _, id := range []action.ID{action.MonitorBacklightOn, action.MonitorBacklightOff, action.PlayMusic} {
		t.Run(string(id), func(t *testing.T) {
			llm := &scriptedLLM{intent: fmt.Sprintf(`{"action":%q,"params":{}}`, id), ack: `"On it."`}
			o, ev := newTestOrchestrator(t, llm, action.Deps{}, Config{})

			rep, err := o.Dispatch(context.Background(), "do it")
			require.NoError(t, err)
			assert.Equal(t, action.SpeakThenAct, rep.Timing)
			assert.Equal(t, "On it.", rep.Ack)

			got := ev.all()
			require.Len(t, got, 3)
			assert.Equal(t, "speak:On it.", got[0])
			assert.Equal(t, "sleep:1.2s", got[1])
		})
	}
}

func TestActionFailureIsContained(t *testing.T) {
	ev := &events{}
	keys := fakeKeys{ev: ev, err: errors.New("no player")}
	llm := &scriptedLLM{intent: `{"action":"music_next_track","params":{}}`, ack: "Skipping."}
	o, ev2 := newTestOrchestrator(t, llm, action.Deps{Keys: keys}, Config{})

	_, err := o.Dispatch(context.Background(), "next song")
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.ErrorIs(t, err, keys.err)
	assert.Equal(t, []string{"speak:Skipping."}, ev2.all())
	assert.Equal(t, []string{"key:next track"}, ev.all())
}

func TestActThenSpeakSkipsAckOnFailure(t *testing.T) {
	ev := &events{}
	keys := fakeKeys{ev: ev, err: errors.New("no player")}
	llm := &scriptedLLM{intent: `{"action":"pause_music","params":{}}`, ack: "Paused."}
	o, voiceEv := newTestOrchestrator(t, llm, action.Deps{Keys: keys}, Config{})

	_, err := o.Dispatch(context.Background(), "pause")
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Empty(t, voiceEv.all())
}

func TestActionPanicIsRecovered(t *testing.T) {
	llm := &scriptedLLM{intent: `{"action":"turn_on_lights","params":{"location":"kitchen"}}`, ack: "Kitchen lights on."}
	o, _ := newTestOrchestrator(t, llm, action.Deps{Rooms: panickyRooms{}}, Config{})

	var err error
	assert.NotPanics(t, func() {
		_, err = o.Dispatch(context.Background(), "kitchen lights on")
	})
	assert.ErrorIs(t, err, ErrActionFailed)
}

type stuckRooms struct{}

func (stuckRooms) Switch(ctx context.Context, _ string, _ bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestActionTimeoutIsBounded(t *testing.T) {
	llm := &scriptedLLM{intent: `{"action":"turn_off_lights","params":{"location":"hall"}}`}
	o, _ := newTestOrchestrator(t, llm, action.Deps{Rooms: stuckRooms{}}, Config{ActionTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := o.Dispatch(context.Background(), "hall lights off")
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCancelDuringSpeakDelaySkipsAction(t *testing.T) {
	llm := &scriptedLLM{intent: `{"action":"monitor_backlight_on","params":{}}`, ack: "Backlight on."}
	o, ev := newTestOrchestrator(t, llm, action.Deps{LightName: "Desk"}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.sleep = func(_ context.Context, d time.Duration) {
		ev.add("sleep:" + d.String())
		cancel()
	}

	_, err := o.Dispatch(ctx, "backlight on")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"speak:Backlight on.", "sleep:1.2s"}, ev.all())
}

func TestDispatchIsSerialized(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	slow := completerFunc(func(_ context.Context, prompt, _ string) (string, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return `{"action":"unclear_command","params":{}}`, nil
	})
	o := New(slow, action.NewRegistry(action.Deps{}), fakeVoice{ev: &events{}}, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.Dispatch(context.Background(), "x")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}

func TestPrompts(t *testing.T) {
	p := intentPrompt("turn on the kitchen lights")
	for _, id := range action.All {
		assert.Contains(t, p, string(id))
	}
	assert.Contains(t, p, "unclear_command")
	assert.True(t, strings.HasSuffix(p, "User command: turn on the kitchen lights"))

	a := ackPrompt("what time is it", action.TellTime, time.Date(2025, 1, 1, 15, 4, 0, 0, time.UTC))
	assert.Contains(t, a, "3:04 PM")
	assert.Contains(t, a, "tell_time")
}

type completerFunc func(ctx context.Context, prompt, model string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt, model string) (string, error) {
	return f(ctx, prompt, model)
}

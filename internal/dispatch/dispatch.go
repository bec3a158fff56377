package dispatch

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"athena/internal/action"
	"athena/internal/intent"
	"athena/internal/metrics"
)

var (
	ErrServiceUnreachable = errors.New("dispatch: language model unreachable")
	ErrUnclearCommand     = errors.New("dispatch: unclear command")
	ErrActionFailed       = errors.New("dispatch: action failed")
)

const (
	DefaultSpeakDelay = 1200 * time.Millisecond
	DefaultActDelay   = 600 * time.Millisecond
	DefaultTimeout    = 30 * time.Second

	DefaultActionTimeout = 10 * time.Second
)

type Completer interface {
	Complete(ctx context.Context, prompt, model string) (string, error)
}

// Announcer is the voice feedback channel as seen from dispatch.
type Announcer interface {
	Enqueue(text string)
}

type Config struct {
	Model    string
	AckModel string

	// SpeakDelay gives queued speech a head start before the action runs.
	SpeakDelay time.Duration
	// ActDelay lets a visible effect land before the acknowledgement.
	ActDelay time.Duration

	// Timeout bounds each model call.
	Timeout time.Duration
	// ActionTimeout bounds each handler call.
	ActionTimeout time.Duration

	// UnclearReply is spoken when the model cannot map a command. Empty means silence.
	UnclearReply string
}

type Report struct {
	ID      string
	Command string
	Intent  intent.Intent
	Kind    intent.Kind
	Timing  action.Timing
	Ack     string
}

type Orchestrator struct {
	llm   Completer
	reg   *action.Registry
	voice Announcer
	cfg   Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	mu sync.Mutex
}

func New(llm Completer, reg *action.Registry, voice Announcer, cfg Config) *Orchestrator {
	if cfg.AckModel == "" {
		cfg.AckModel = cfg.Model
	}
	if cfg.SpeakDelay < 0 {
		cfg.SpeakDelay = 0
	}
	if cfg.ActDelay < 0 {
		cfg.ActDelay = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}

	return &Orchestrator{
		llm:   llm,
		reg:   reg,
		voice: voice,
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Dispatch turns one recognized command into at most one action and at most one
// acknowledgement. Only one dispatch runs at a time.
func (o *Orchestrator) Dispatch(ctx context.Context, command string) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rep := Report{ID: uuid.NewString(), Command: command}
	lg := log.With("dispatch", rep.ID)
	start := time.Now()

	err := o.dispatch(ctx, lg, &rep)

	metrics.Dispatches.WithLabelValues(actionLabel(rep), outcome(err)).Inc()
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	return rep, err
}

func (o *Orchestrator) dispatch(ctx context.Context, lg *log.Logger, rep *Report) error {
	lg.Info("Dispatching", "command", rep.Command)

	raw, err := o.complete(ctx, intentPrompt(rep.Command), o.cfg.Model)
	if err != nil {
		lg.Error("Failed to reach language model", "err", err)
		return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}

	res, err := intent.Parse(raw, o.reg)
	if err != nil {
		lg.Error("Could not parse model response", "raw", raw, "err", err)
		return err
	}
	rep.Intent = res.Intent
	rep.Kind = res.Kind

	if !res.Dispatchable() {
		if res.Kind == intent.KindUnsupported {
			lg.Warn("Unknown action", "action", res.Intent.Action, "params", res.Intent.Params)
		} else {
			lg.Info("Unclear command", "command", rep.Command)
		}
		o.voice.Enqueue(o.cfg.UnclearReply)
		return ErrUnclearCommand
	}

	rep.Timing = res.Spec.Timing
	rep.Ack = o.acknowledge(ctx, lg, rep.Command, res.Spec.ID)

	lg.Info("Executing", "action", res.Spec.ID, "params", res.Intent.Params, "timing", rep.Timing.String())
	if err := o.execute(ctx, lg, res.Spec, res.Intent.Params, rep.Ack); err != nil {
		lg.Error("Action failed", "action", res.Spec.ID, "err", err)
		return err
	}

	lg.Info("Done", "action", res.Spec.ID)
	return nil
}

// acknowledge is best effort: any failure yields silence, never an abort.
func (o *Orchestrator) acknowledge(ctx context.Context, lg *log.Logger, command string, id action.ID) string {
	out, err := o.complete(ctx, ackPrompt(command, id, o.now()), o.cfg.AckModel)
	if err != nil {
		lg.Warn("Failed to get acknowledgement", "err", err)
		return ""
	}
	return cleanAck(out)
}

type state uint8

const (
	stateIdle state = iota
	stateSpeaking
	stateActing
	stateDone
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSpeaking:
		return "speaking"
	case stateActing:
		return "acting"
	default:
		return "done"
	}
}

// execute runs the timing state machine. The settling delays are skipped when
// there is nothing to say.
func (o *Orchestrator) execute(ctx context.Context, lg *log.Logger, spec action.Spec, params map[string]string, ack string) error {
	st := stateIdle
	to := func(next state) {
		lg.Debug("Timing transition", "from", st.String(), "to", next.String())
		st = next
	}

	switch spec.Timing {
	case action.ActThenSpeak:
		to(stateActing)
		if err := o.act(ctx, spec, params); err != nil {
			to(stateDone)
			return err
		}
		to(stateSpeaking)
		if ack != "" {
			o.sleep(ctx, o.cfg.ActDelay)
		}
		o.voice.Enqueue(ack)

	case action.Parallel:
		to(stateSpeaking)
		o.voice.Enqueue(ack)
		to(stateActing)
		if err := o.act(ctx, spec, params); err != nil {
			to(stateDone)
			return err
		}

	default:
		to(stateSpeaking)
		o.voice.Enqueue(ack)
		if ack != "" {
			o.sleep(ctx, o.cfg.SpeakDelay)
		}
		if err := ctx.Err(); err != nil {
			lg.Warn("Cancelled before acting", "action", spec.ID)
			to(stateDone)
			return err
		}
		to(stateActing)
		if err := o.act(ctx, spec, params); err != nil {
			to(stateDone)
			return err
		}
	}

	to(stateDone)
	return nil
}

func (o *Orchestrator) act(ctx context.Context, spec action.Spec, params map[string]string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrActionFailed, spec.ID, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
	defer cancel()

	if err := spec.Handler(ctx, params); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrActionFailed, spec.ID, err)
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, prompt, model string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	return o.llm.Complete(ctx, prompt, model)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func actionLabel(rep Report) string {
	switch {
	case rep.Kind == intent.KindResolved && rep.Intent.Action != "":
		return string(rep.Intent.Action)
	case rep.Kind == intent.KindUnsupported:
		return "unsupported"
	case rep.Intent.Action == action.Unclear:
		return string(action.Unclear)
	default:
		return "none"
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrServiceUnreachable):
		return "unreachable"
	case errors.Is(err, intent.ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnclearCommand):
		return "unclear"
	case errors.Is(err, ErrActionFailed):
		return "action_failed"
	default:
		return "error"
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"athena/internal/action"
	"athena/internal/audio"
	"athena/internal/config"
	"athena/internal/dispatch"
	"athena/internal/hub"
	"athena/internal/hue"
	"athena/internal/ipc"
	"athena/internal/llm"
	"athena/internal/media"
	"athena/internal/metrics"
	"athena/internal/notify"
	"athena/internal/proxy"
	"athena/internal/script"
	"athena/internal/tts"
	"athena/internal/voice"
	"athena/internal/wake"
	"athena/pkg/stt"
	"athena/pkg/stt/google"
	"athena/pkg/stt/whisper"
)

const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "athena:", err)
		os.Exit(1)
	}

	log.SetDefault(config.NewLogger(os.Stdout, cfg.Log.Level))
	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Exiting", "err", err)
		stop()
		os.Exit(1)
	}
	log.Info("Shut down")
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	completer, err := newCompleter(cfg)
	if err != nil {
		return err
	}
	log.Debug("Loaded language model client", "backend", cfg.LLM.Backend, "url", cfg.LLM.URL)

	tr, err := newTranscriber(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init speech recognition: %w", err)
	}
	defer tr.Close()
	log.Debug("Loaded transcriber", "backend", cfg.STT.Backend)

	listener, closeListener, err := newListener(ctx, cfg, tr)
	if err != nil {
		return err
	}
	defer closeListener()

	synth := tts.NewEspeak(cfg.Voice.Language, cfg.Voice.Rate)
	defer synth.Close()

	opts := []voice.Option{voice.WithObserver(metrics.ObserveUtterance)}
	if cfg.Voice.Duck {
		ducker := audio.NewDucker([]string{"athena", "eSpeak", "espeak-ng"}, cfg.Voice.DuckFloor)
		opts = append(opts, voice.WithDucker(ducker, cfg.Voice.DuckFactor, cfg.Voice.DuckFade))
	}
	ch := voice.New(synth, opts...)
	ch.Start()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer scancel()
		if err := ch.Close(sctx); err != nil {
			log.Warn("Voice channel did not drain", "err", err)
		}
	}()

	reg := action.NewRegistry(action.Deps{
		Lights:    hue.NewBridge(cfg.Hue.Address, cfg.Hue.Username),
		LightName: cfg.Hue.Light,
		Keys:      media.NewKeyboard(),
		Rooms:     hub.NewClient(cfg.Hub.URL, cfg.Hub.Shard, cfg.Hub.Timeout),
		Scripts:   script.NewRunner(cfg.Scripts.Commands, cfg.Scripts.Timeout),
	})

	orch := dispatch.New(completer, reg, ch, dispatch.Config{
		Model:         cfg.LLM.Model,
		AckModel:      cfg.LLM.AckModel,
		SpeakDelay:    cfg.Dispatch.SpeakDelay,
		ActDelay:      cfg.Dispatch.ActDelay,
		Timeout:       cfg.LLM.Timeout,
		ActionTimeout: cfg.Dispatch.ActionTimeout,
		UnclearReply:  cfg.Dispatch.UnclearReply,
	})

	srv, err := ipc.StartServer(ctx, cfg.IPC.Socket, func(ctx context.Context, msg ipc.ControlMessage) error {
		return control(ctx, cancel, ch, orch, msg)
	})
	if err != nil {
		return fmt.Errorf("ipc server: %w", err)
	}
	defer srv.Close()

	metrics.Serve(ctx, cfg.Metrics.Addr)

	chime := notify.NewChime(cfg.Notify.Chime)
	gate := wake.New(listener, cfg.Wake.Phrases, wake.WithOnWake(func(ctx context.Context) {
		if cfg.Notify.Desktop {
			if err := notify.Desktop(ctx, "Listening..."); err != nil {
				log.Debug("Desktop notification failed", "err", err)
			}
		}
		if err := chime.Play(ctx); err != nil {
			log.Debug("Chime failed", "err", err)
		}
	}))

	log.Info("Boot up - successful", "socket", srv.Path())

	err = gate.Run(ctx, func(ctx context.Context, command string) {
		// outcomes are logged by the orchestrator
		_, _ = orch.Dispatch(ctx, command)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func control(ctx context.Context, stop context.CancelFunc, ch *voice.Channel, orch *dispatch.Orchestrator, msg ipc.ControlMessage) error {
	switch msg.Cmd {
	case ipc.CmdStop:
		log.Info("Stop requested")
		stop()
		return nil
	case ipc.CmdSay:
		if strings.TrimSpace(msg.Text) == "" {
			return errors.New("nothing to say")
		}
		ch.Enqueue(msg.Text)
		return nil
	case ipc.CmdRun:
		command := strings.ToLower(strings.TrimSpace(msg.Text))
		if command == "" {
			return errors.New("empty command")
		}
		_, err := orch.Dispatch(ctx, command)
		return err
	default:
		log.Warn("Unknown command", "cmd", msg.Cmd)
		return fmt.Errorf("unknown command %q", msg.Cmd)
	}
}

func newCompleter(cfg *config.Config) (llm.Completer, error) {
	httpClient, err := proxy.NewHTTPClient(cfg.LLM.Proxy, cfg.LLM.Timeout)
	if err != nil {
		return nil, err
	}

	var c llm.Completer
	switch cfg.LLM.Backend {
	case "openai":
		c = llm.NewOpenAI(cfg.LLM.URL, cfg.LLM.APIKey, httpClient)
	default:
		c = llm.NewOllama(cfg.LLM.URL, httpClient)
	}
	return llm.NewBreaker(c, cfg.LLM.BreakerFailures, cfg.LLM.BreakerCooldown), nil
}

func newTranscriber(ctx context.Context, cfg *config.Config) (stt.Transcriber, error) {
	switch cfg.STT.Backend {
	case "google":
		return google.New(ctx, google.Options{
			LanguageCode:    cfg.STT.Language,
			CredentialsFile: cfg.STT.Credentials,
			Phrases:         cfg.Wake.Phrases,
		})
	default:
		return whisper.New(cfg.STT.Model, whisper.Options{
			Language:      cfg.STT.Language,
			Threads:       cfg.STT.Threads,
			InitialPrompt: strings.Join(cfg.Wake.Phrases, ", "),
		})
	}
}

func newListener(ctx context.Context, cfg *config.Config, tr stt.Transcriber) (wake.Listener, func(), error) {
	if len(cfg.Audio.Inputs) > 0 {
		log.Info("Replaying audio files", "count", len(cfg.Audio.Inputs))
		return audio.NewFiles(cfg.Audio.Inputs, tr), func() {}, nil
	}

	rec := audio.NewRecorder(audio.RecorderOptions{
		SilenceThreshold: cfg.Audio.SilenceThreshold,
		SilenceHold:      cfg.Audio.SilenceHold,
		MaxLength:        cfg.Audio.MaxLength,
	})
	if err := rec.Init(); err != nil {
		return nil, nil, fmt.Errorf("init audio: %w", err)
	}

	if cfg.Audio.Calibrate > 0 {
		log.Info("Calibrating for ambient noise", "duration", cfg.Audio.Calibrate)
		if err := rec.Calibrate(ctx, cfg.Audio.Calibrate); err != nil {
			log.Warn("Calibration failed, keeping default threshold", "err", err)
		}
	}
	log.Debug("Loaded recorder", "threshold", rec.Threshold())

	return audio.NewMicrophone(rec, tr), rec.Close, nil
}

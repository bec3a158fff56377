package action

import (
	"context"
	"fmt"
	"time"
)

type ID string

const (
	TellTime              ID = "tell_time"
	MonitorBacklightOn    ID = "monitor_backlight_on"
	MonitorBacklightOff   ID = "monitor_backlight_off"
	MonitorBacklightColor ID = "monitor_backlight_color"
	PlayMusic             ID = "play_music"
	PauseMusic            ID = "pause_music"
	MusicNextTrack        ID = "music_next_track"
	MusicPreviousTrack    ID = "music_previous_track"
	TurnOnLights          ID = "turn_on_lights"
	TurnOffLights         ID = "turn_off_lights"
	RunScript             ID = "run_script"

	// Unclear is what the model answers when it cannot map the command.
	Unclear ID = "unclear_command"
)

// All lists every dispatchable action in prompt order.
var All = []ID{
	TellTime,
	MonitorBacklightOn,
	MonitorBacklightOff,
	MonitorBacklightColor,
	PlayMusic,
	PauseMusic,
	MusicNextTrack,
	MusicPreviousTrack,
	TurnOnLights,
	TurnOffLights,
	RunScript,
}

type Timing uint8

const (
	SpeakThenAct Timing = iota
	ActThenSpeak
	Parallel
)

func (t Timing) String() string {
	switch t {
	case SpeakThenAct:
		return "speak-then-act"
	case ActThenSpeak:
		return "act-then-speak"
	case Parallel:
		return "parallel"
	default:
		return fmt.Sprintf("timing(%d)", uint8(t))
	}
}

// timings holds the explicit policies. Anything missing speaks first.
var timings = map[ID]Timing{
	TellTime:              ActThenSpeak,
	PauseMusic:            ActThenSpeak,
	MonitorBacklightColor: Parallel,
	MusicNextTrack:        Parallel,
	MusicPreviousTrack:    Parallel,
}

func TimingOf(id ID) Timing {
	if t, ok := timings[id]; ok {
		return t
	}
	return SpeakThenAct
}

type Handler func(ctx context.Context, params map[string]string) error

type Spec struct {
	ID      ID
	Handler Handler
	Timing  Timing
}

// Registry is the closed action table. It is built once and only read afterwards.
type Registry struct {
	specs map[ID]Spec
}

// Lights is the smart-light bridge.
type Lights interface {
	SetPower(ctx context.Context, light string, on bool) error
	SetColor(ctx context.Context, light string, xy XY, brightness uint8) error
}

// Keys injects media keys ("play/pause media", "next track", "previous track").
type Keys interface {
	SendKey(ctx context.Context, key string) error
}

// Rooms switches lamps by location.
type Rooms interface {
	Switch(ctx context.Context, location string, on bool) error
}

// Scripts runs allowlisted scripts by name.
type Scripts interface {
	Run(ctx context.Context, name string) error
}

type Deps struct {
	Lights    Lights
	LightName string
	Keys      Keys
	Rooms     Rooms
	Scripts   Scripts
	Now       func() time.Time
}

func NewRegistry(d Deps) *Registry {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.LightName == "" {
		d.LightName = DefaultLightName
	}

	h := handlers{deps: d}
	table := map[ID]Handler{
		TellTime:              h.tellTime,
		MonitorBacklightOn:    h.backlight(true),
		MonitorBacklightOff:   h.backlight(false),
		MonitorBacklightColor: h.backlightColor,
		PlayMusic:             h.key(KeyPlayPause),
		PauseMusic:            h.key(KeyPlayPause),
		MusicNextTrack:        h.key(KeyNextTrack),
		MusicPreviousTrack:    h.key(KeyPreviousTrack),
		TurnOnLights:          h.rooms(true),
		TurnOffLights:         h.rooms(false),
		RunScript:             h.runScript,
	}

	r := &Registry{specs: make(map[ID]Spec, len(table))}
	for id, fn := range table {
		r.specs[id] = Spec{ID: id, Handler: fn, Timing: TimingOf(id)}
	}
	return r
}

func (r *Registry) Lookup(id ID) (Spec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// Len reports the number of registered actions.
func (r *Registry) Len() int { return len(r.specs) }

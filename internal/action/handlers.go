package action

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
)

const (
	DefaultLightName = "Monitor Backlight"

	KeyPlayPause     = "play/pause media"
	KeyNextTrack     = "next track"
	KeyPreviousTrack = "previous track"

	backlightBrightness uint8 = 240
)

var ErrNotConfigured = errors.New("action: collaborator not configured")

type handlers struct {
	deps Deps
}

func (h handlers) tellTime(_ context.Context, _ map[string]string) error {
	now := h.deps.Now().Format("03:04 PM")
	log.Info("The current time", "time", now)
	return nil
}

func (h handlers) backlight(on bool) Handler {
	return func(ctx context.Context, _ map[string]string) error {
		if h.deps.Lights == nil {
			return ErrNotConfigured
		}
		if err := h.deps.Lights.SetPower(ctx, h.deps.LightName, on); err != nil {
			return fmt.Errorf("set power %q: %w", h.deps.LightName, err)
		}
		return nil
	}
}

func (h handlers) backlightColor(ctx context.Context, params map[string]string) error {
	name := strings.ToLower(strings.TrimSpace(params["color_name"]))
	xy, ok := ColorXY(name)
	if !ok {
		// An unknown colour is the model's problem, not a bridge failure.
		log.Error("Unknown color", "color", name)
		return nil
	}
	if h.deps.Lights == nil {
		return ErrNotConfigured
	}

	if err := h.deps.Lights.SetColor(ctx, h.deps.LightName, xy, backlightBrightness); err != nil {
		return fmt.Errorf("set color %q: %w", name, err)
	}

	log.Info("Set monitor backlight", "color", name, "x", xy.X, "y", xy.Y)
	return nil
}

func (h handlers) key(key string) Handler {
	return func(ctx context.Context, _ map[string]string) error {
		if h.deps.Keys == nil {
			return ErrNotConfigured
		}
		return h.deps.Keys.SendKey(ctx, key)
	}
}

func (h handlers) rooms(on bool) Handler {
	return func(ctx context.Context, params map[string]string) error {
		if h.deps.Rooms == nil {
			return ErrNotConfigured
		}
		loc := strings.TrimSpace(params["location"])
		if loc == "" {
			return errors.New("missing location")
		}
		return h.deps.Rooms.Switch(ctx, loc, on)
	}
}

func (h handlers) runScript(ctx context.Context, params map[string]string) error {
	if h.deps.Scripts == nil {
		return ErrNotConfigured
	}
	name := strings.TrimSpace(params["name"])
	if name == "" {
		return errors.New("missing script name")
	}
	return h.deps.Scripts.Run(ctx, name)
}

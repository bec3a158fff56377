// Package hue drives Philips Hue lights by name. Every call opens a fresh
// bridge client, so no connection state is shared between commands.
package hue

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	"github.com/amimof/huego"

	"athena/internal/action"
)

var ErrLightNotFound = errors.New("hue: light not found")

type Bridge struct {
	host string
	user string
}

func NewBridge(host, user string) *Bridge {
	return &Bridge{host: host, user: user}
}

func (b *Bridge) SetPower(ctx context.Context, name string, on bool) error {
	l, err := b.light(ctx, name)
	if err != nil {
		return err
	}
	if on {
		return l.OnContext(ctx)
	}
	return l.OffContext(ctx)
}

func (b *Bridge) SetColor(ctx context.Context, name string, xy action.XY, brightness uint8) error {
	l, err := b.light(ctx, name)
	if err != nil {
		return err
	}
	if err := l.OnContext(ctx); err != nil {
		return fmt.Errorf("on: %w", err)
	}
	if err := l.BriContext(ctx, brightness); err != nil {
		return fmt.Errorf("brightness: %w", err)
	}
	if err := l.XyContext(ctx, []float32{float32(xy.X), float32(xy.Y)}); err != nil {
		return fmt.Errorf("xy: %w", err)
	}
	return nil
}

func (b *Bridge) light(ctx context.Context, name string) (*huego.Light, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.host == "" {
		return nil, errors.New("hue: bridge address not configured")
	}

	lights, err := huego.New(b.host, b.user).GetLightsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("hue: list lights on %s: %w", b.host, err)
	}

	l, ok := findLight(lights, name)
	if !ok {
		log.Warn("Light not on bridge", "light", name, "bridge", b.host)
		return nil, fmt.Errorf("%w: %q", ErrLightNotFound, name)
	}
	return l, nil
}

func findLight(lights []huego.Light, name string) (*huego.Light, bool) {
	for i := range lights {
		if lights[i].Name == name {
			return &lights[i], true
		}
	}
	return nil, false
}

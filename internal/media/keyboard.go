// Package media presses the media keys on a virtual keyboard, so whichever
// player has focus reacts as if the user hit them.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
)

// uinput needs a moment before a freshly created device delivers events.
const settle = 2 * time.Second

type Keyboard struct {
	mu sync.Mutex

	kb      keybd_event.KeyBonding
	ready   bool
	initErr error

	press func(ctx context.Context, code int) error
}

func NewKeyboard() *Keyboard {
	k := &Keyboard{}
	k.press = k.launch
	return k
}

// SendKey taps the key named "play/pause media", "next track" or "previous track".
func (k *Keyboard) SendKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	code, ok := keyCodes[key]
	if !ok {
		return fmt.Errorf("media: unsupported key %q", key)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	return k.press(ctx, code)
}

func (k *Keyboard) launch(ctx context.Context, code int) error {
	if !k.ready {
		if k.initErr != nil {
			return k.initErr
		}
		kb, err := keybd_event.NewKeyBonding()
		if err != nil {
			k.initErr = fmt.Errorf("media: virtual keyboard: %w", err)
			return k.initErr
		}
		k.kb = kb
		k.ready = true

		t := time.NewTimer(settle)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	k.kb.Clear()
	k.kb.SetKeys(code)
	if err := k.kb.Launching(); err != nil {
		return fmt.Errorf("media: press key %d: %w", code, err)
	}
	return nil
}

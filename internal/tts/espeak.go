package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

static int
athena_espeak_init(const char *lang, int rate)
{
	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -1; }

	espeak_VOICE specs = { 0 };
	specs.languages = lang;
	if (espeak_SetVoiceByProperties(&specs) != EE_OK)
	{ return -2; }

	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }

	return 0;
}

static int
athena_espeak_say(const char *text, size_t len)
{
	if (!text)
	{ return -1; }

	if (espeak_Synth(text, len + 1, 0, POS_CHARACTER, 0, espeakCHARS_UTF8, NULL, NULL) != EE_OK)
	{ return -2; }

	return espeak_Synchronize() == EE_OK ? 0 : -3;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

// Espeak speaks through espeak-ng in synchronous playback mode: Speak returns
// once the audio has finished playing.
type Espeak struct {
	lang string
	rate int

	once    sync.Once
	initErr error
	mu      sync.Mutex
}

func NewEspeak(lang string, wordsPerMinute int) *Espeak {
	if lang == "" {
		lang = "en"
	}
	return &Espeak{lang: lang, rate: wordsPerMinute}
}

func (e *Espeak) init() error {
	e.once.Do(func() {
		clang := C.CString(e.lang)
		// espeak keeps the pointer only for the duration of the call.
		defer C.free(unsafe.Pointer(clang))

		if rc := C.athena_espeak_init(clang, C.int(e.rate)); rc != 0 {
			e.initErr = fmt.Errorf("espeak init failed: %d", int(rc))
		}
	})
	return e.initErr
}

func (e *Espeak) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.init(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	if rc := C.athena_espeak_say(ctext, C.size_t(len(text))); rc != 0 {
		return fmt.Errorf("espeak_say failed: %d", int(rc))
	}
	return nil
}

func (e *Espeak) Close() error {
	if e.init() == nil {
		C.espeak_Terminate()
	}
	return nil
}

package audio

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"sync"

	"athena/pkg/audioconv"
	"athena/pkg/stt"
)

// Microphone is the live speech front end: record one utterance, transcribe it.
type Microphone struct {
	rec *Recorder
	tr  stt.Transcriber
}

func NewMicrophone(rec *Recorder, tr stt.Transcriber) *Microphone {
	return &Microphone{rec: rec, tr: tr}
}

func (m *Microphone) Listen(ctx context.Context) (string, error) {
	pcm, err := m.rec.Record(ctx)
	if err != nil {
		return "", fmt.Errorf("record: %w", err)
	}
	if len(pcm) == 0 {
		return "", stt.ErrNoMatch
	}
	log.Debug("Recorded", "samples", len(pcm))
	return m.tr.Transcribe(ctx, pcm)
}

// Files replays recorded utterances in order, one per Listen. It stands in for
// the microphone when testing a setup without speaking to it.
type Files struct {
	tr stt.Transcriber

	mu    sync.Mutex
	paths []string
}

func NewFiles(paths []string, tr stt.Transcriber) *Files {
	return &Files{paths: append([]string(nil), paths...), tr: tr}
}

func (f *Files) Listen(ctx context.Context) (string, error) {
	f.mu.Lock()
	if len(f.paths) == 0 {
		f.mu.Unlock()
		return "", io.EOF
	}
	path := f.paths[0]
	f.paths = f.paths[1:]
	f.mu.Unlock()

	pcm, err := audioconv.DecodeFile(path)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	log.Debug("Replaying", "file", path, "samples", len(pcm))
	return f.tr.Transcribe(ctx, pcm)
}

// Package google is the network speech backend on Cloud Speech-to-Text.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"athena/pkg/audioconv"
	"athena/pkg/stt"
)

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

type Options struct {
	LanguageCode    string // BCP-47, defaults to en-US
	CredentialsFile string // empty uses application default credentials
	Phrases         []string
}

// Transcriber sends each utterance to Cloud Speech-to-Text in one synchronous request.
type Transcriber struct {
	client recognizer
	opt    Options
}

func New(ctx context.Context, opt Options) (*Transcriber, error) {
	var opts []option.ClientOption
	if opt.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(opt.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return newTranscriber(client, opt), nil
}

func newTranscriber(client recognizer, opt Options) *Transcriber {
	if opt.LanguageCode == "" {
		opt.LanguageCode = "en-US"
	}
	return &Transcriber{client: client, opt: opt}
}

func (g *Transcriber) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Transcriber) Transcribe(ctx context.Context, pcm16k []float32) (string, error) {
	if len(pcm16k) == 0 {
		return "", stt.ErrNoMatch
	}

	cfg := &speechpb.RecognitionConfig{
		Encoding:        speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz: stt.SampleRate,
		LanguageCode:    g.opt.LanguageCode,
	}
	if len(g.opt.Phrases) > 0 {
		cfg.SpeechContexts = []*speechpb.SpeechContext{{Phrases: g.opt.Phrases}}
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: cfg,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioconv.PCM16LE(pcm16k)},
		},
	})
	if err != nil {
		return "", classify(err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			parts = append(parts, alts[0].GetTranscript())
		}
	}

	text := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if text == "" {
		return "", stt.ErrNoMatch
	}
	return text, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", stt.ErrUnreachable, err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.PermissionDenied, codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", stt.ErrUnreachable, err)
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %v", stt.ErrNoMatch, err)
	default:
		return fmt.Errorf("recognize: %w", err)
	}
}

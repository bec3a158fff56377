package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable covers every way the inference server can fail to answer:
// transport errors, timeouts, non-200 statuses and an open breaker.
var ErrUnavailable = errors.New("llm: service unavailable")

type Completer interface {
	Complete(ctx context.Context, prompt, model string) (string, error)
}

type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: server returned status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnavailable
}

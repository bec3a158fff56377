// Package script runs operator-configured commands by name. Spoken names are
// only ever used as lookup keys, never as paths.
package script

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os/exec"
	"strings"
	"time"
)

var ErrUnknown = errors.New("script: not in allowlist")

type Runner struct {
	commands map[string][]string
	timeout  time.Duration
}

// NewRunner takes name -> command line. Names are matched case-insensitively.
func NewRunner(commands map[string]string, timeout time.Duration) *Runner {
	r := &Runner{commands: make(map[string][]string, len(commands)), timeout: timeout}
	for name, line := range commands {
		argv := strings.Fields(line)
		if len(argv) == 0 {
			log.Warn("Skipping empty script", "name", name)
			continue
		}
		r.commands[normalize(name)] = argv
	}
	return r
}

func (r *Runner) Run(ctx context.Context, name string) error {
	argv, ok := r.commands[normalize(name)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log.Info("Running script", "name", name, "cmd", argv[0])
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("script %s: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

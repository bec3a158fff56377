package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	r := NewRunner(map[string]string{
		"Backup Notes": "true",
		"broken":       "false",
		"blank":        "   ",
	}, time.Second)

	require.NoError(t, r.Run(context.Background(), "backup   notes"))
	assert.Error(t, r.Run(context.Background(), "broken"))
	assert.ErrorIs(t, r.Run(context.Background(), "blank"), ErrUnknown)
}

func TestRunRejectsUnknown(t *testing.T) {
	r := NewRunner(map[string]string{"ok": "true"}, 0)

	for _, name := range []string{"/bin/true", "true", "../ok", ""} {
		assert.ErrorIs(t, r.Run(context.Background(), name), ErrUnknown, name)
	}
}

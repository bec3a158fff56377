package audio

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id       int
	from, to int
}

// Ducker fades every PulseAudio sink input down while we speak and restores
// it afterwards. Streams owned by selfNames are left alone.
type Ducker struct {
	mu       sync.Mutex
	active   bool
	self     map[string]bool
	original map[int]int
	floor    int

	pactl func(ctx context.Context, args ...string) ([]byte, error)
}

func NewDucker(selfNames []string, floor int) *Ducker {
	d := &Ducker{
		self:     make(map[string]bool, len(selfNames)),
		original: make(map[int]int),
		floor:    clampVolume(floor),
		pactl:    runPactl,
	}
	for _, n := range selfNames {
		d.self[n] = true
	}
	return d
}

// DuckOthers scales foreign streams by factor, never below the floor.
func (d *Ducker) DuckOthers(ctx context.Context, factor float64, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.original = make(map[int]int)
	var fades []fade
	for _, in := range inputs {
		to := int(math.Round(float64(in.Volume) * factor))
		if to < d.floor {
			to = d.floor
		}
		d.original[in.ID] = in.Volume
		fades = append(fades, fade{id: in.ID, from: in.Volume, to: clampVolume(to)})
	}

	if err := d.fade(ctx, fades, duration); err != nil {
		return err
	}
	d.active = true
	return nil
}

// UnduckOthers fades ducked streams back. Streams that appeared meanwhile are untouched.
func (d *Ducker) UnduckOthers(ctx context.Context, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var fades []fade
	for _, in := range inputs {
		if orig, ok := d.original[in.ID]; ok {
			fades = append(fades, fade{id: in.ID, from: in.Volume, to: orig})
		}
	}

	if err := d.fade(ctx, fades, duration); err != nil {
		return err
	}
	d.original = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.pactl(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}

	var res []sinkInput
	for _, in := range parseSinkInputs(string(out)) {
		if !d.self[in.AppName] {
			res = append(res, in)
		}
	}
	return res, nil
}

func (d *Ducker) fade(ctx context.Context, fades []fade, duration time.Duration) error {
	if len(fades) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond
	steps := int(duration / minStep)
	if steps < 1 {
		steps = 1
	}
	step := duration / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := float64(i) / float64(steps)
		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if _, err := d.pactl(ctx, "set-sink-input-volume", strconv.Itoa(f.id), fmt.Sprintf("%d%%", clampVolume(v))); err != nil {
				return fmt.Errorf("set volume id=%d: %w", f.id, err)
			}
		}

		if i < steps && step > 0 {
			time.Sleep(step)
		}
	}
	return nil
}

// parseSinkInputs reads `pactl list sink-inputs` output.
func parseSinkInputs(text string) []sinkInput {
	var (
		res []sinkInput
		cur *sinkInput
	)
	flush := func() {
		if cur != nil && (cur.Volume != 0 || cur.AppName != "") {
			res = append(res, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if rest, ok := strings.CutPrefix(line, "Sink Input #"); ok {
			flush()
			if id, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				cur = &sinkInput{ID: id}
			}
			continue
		}
		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "Volume:") && cur.Volume == 0:
			if m := percentRe.FindStringSubmatch(line); len(m) == 2 {
				cur.Volume, _ = strconv.Atoi(m[1])
			}
		case strings.HasPrefix(line, "application.name =") && cur.AppName == "":
			_, v, _ := strings.Cut(line, "=")
			cur.AppName = strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	flush()
	return res
}

func runPactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

func clampVolume(v int) int {
	return max(0, min(maxVolume, v))
}

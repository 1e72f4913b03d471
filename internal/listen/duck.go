package listen

import (
	"context"
	"fmt"
	log "log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

// Ducker lowers the volume of other PulseAudio playback streams while the
// microphone is capturing a command, so speaker output does not bleed into
// the recognition. Streams whose application.name matches selfNames are left
// alone. Best effort: a machine without pactl simply never ducks.
type Ducker struct {
	mu          sync.Mutex
	active      bool
	selfNames   []string
	duckPercent int
	originalVol map[int]int
	enabled     bool
}

// NewDucker lowers foreign streams to duckPercent of full volume while
// active.
func NewDucker(selfNames []string, duckPercent int) *Ducker {
	if duckPercent < 0 {
		duckPercent = 0
	}
	if duckPercent > 100 {
		duckPercent = 100
	}
	_, err := exec.LookPath("pactl")
	return &Ducker{
		selfNames:   append([]string(nil), selfNames...),
		duckPercent: duckPercent,
		originalVol: make(map[int]int),
		enabled:     err == nil,
	}
}

// Duck lowers every foreign stream and remembers its original volume.
func (d *Ducker) Duck(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled || d.active {
		return
	}

	streams, err := listSinkInputs(ctx)
	if err != nil {
		log.Debug("Ducking unavailable", "err", err)
		return
	}

	d.originalVol = make(map[int]int)
	for _, s := range streams {
		if d.isSelf(s) {
			continue
		}
		d.originalVol[s.ID] = s.Volume
		target := s.Volume * d.duckPercent / 100
		if err := setSinkInputVolume(ctx, s.ID, target); err != nil {
			log.Debug("Failed to duck stream", "id", s.ID, "err", err)
		}
	}
	d.active = true
}

// Restore returns previously ducked streams to their original volume.
// Streams that appeared after Duck are untouched.
func (d *Ducker) Restore(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled || !d.active {
		return
	}

	for id, vol := range d.originalVol {
		if err := setSinkInputVolume(ctx, id, vol); err != nil {
			log.Debug("Failed to restore stream volume", "id", id, "err", err)
		}
	}
	d.originalVol = make(map[int]int)
	d.active = false
}

func (d *Ducker) isSelf(s sinkInput) bool {
	for _, name := range d.selfNames {
		if strings.EqualFold(s.AppName, name) {
			return true
		}
	}
	return false
}

func listSinkInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	var res []sinkInput

	for _, block := range blocks[1:] {
		newline := strings.IndexByte(block, '\n')
		if newline <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:newline]))
		if err != nil {
			continue
		}

		s := sinkInput{ID: id}
		for _, line := range strings.Split(block[newline+1:], "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					s.Volume, _ = strconv.Atoi(m[1])
				}
			}
			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if _, quoted, ok := strings.Cut(line, `"`); ok {
					s.AppName, _, _ = strings.Cut(quoted, `"`)
				}
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}

	return res
}

func setSinkInputVolume(ctx context.Context, id, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return exec.CommandContext(ctx, "pactl",
		"set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)).Run()
}

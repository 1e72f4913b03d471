// Package tts speaks through espeak-ng. The wait variant blocks until the
// phrase has audibly completed; the async variant detaches a goroutine. TTS
// errors are logged and never propagate into the control loop.
package tts

import (
	log "log/slog"
	"os/exec"
	"strconv"
)

const (
	wordsPerMinute = 160
	amplitude      = 180
)

type Speaker struct {
	binary string
}

// New probes for espeak-ng, falling back to espeak. A machine with neither
// gets a silent speaker.
func New() *Speaker {
	for _, cand := range []string{"espeak-ng", "espeak"} {
		if _, err := exec.LookPath(cand); err == nil {
			return &Speaker{binary: cand}
		}
	}
	log.Warn("No espeak binary found, speech output disabled")
	return &Speaker{}
}

// Speak voices text. With wait=true it returns after playback finishes.
func (s *Speaker) Speak(text string, wait bool) {
	if s.binary == "" || text == "" {
		return
	}

	run := func() {
		cmd := exec.Command(s.binary,
			"-s", strconv.Itoa(wordsPerMinute),
			"-a", strconv.Itoa(amplitude),
			text,
		)
		if err := cmd.Run(); err != nil {
			log.Warn("Speech output failed", "err", err)
		}
	}

	if wait {
		run()
		return
	}
	go run()
}

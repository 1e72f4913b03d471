package notify

import (
	log "log/slog"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Chime plays the wake-acknowledgment sound and blocks until it finishes.
// A missing or undecodable asset is logged and skipped.
type Chime struct {
	path string
}

func NewChime(path string) *Chime {
	return &Chime{path: path}
}

func (c *Chime) Play() {
	if c.path == "" {
		return
	}

	f, err := os.Open(c.path)
	if err != nil {
		log.Debug("Chime asset unavailable", "path", c.path, "err", err)
		return
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		log.Warn("Failed to decode chime", "path", c.path, "err", err)
		return
	}
	defer streamer.Close()

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		log.Warn("Failed to init speaker", "err", err)
		return
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))
	<-done
}

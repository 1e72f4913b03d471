// Package listen owns microphone capture. The input device is a single
// shared resource; every capture acquires the stream, uses it, and releases
// it under one mutex so concurrent handles are impossible.
package listen

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	// SampleRate is the capture rate everything downstream expects.
	SampleRate = 16000

	frameSize = 320 // 20ms at 16 kHz

	frameDuration = 20 * time.Millisecond

	// int16Scale maps frame RMS in [0,1] onto the historical int16-based
	// energy-threshold scale, keeping persisted profiles comparable.
	int16Scale = 32768.0

	// ambientRatio is the headroom applied above measured background noise
	// when deriving an energy threshold.
	ambientRatio = 1.5
)

// ErrNoSpeech is returned when the energy gate never opened before the
// capture timeout.
var ErrNoSpeech = errors.New("no speech detected before timeout")

// CaptureParams bound a single listen call. Every field must be set.
type CaptureParams struct {
	// Timeout is the maximum wait for speech to begin.
	Timeout time.Duration
	// PhraseLimit caps the phrase duration once speech has started.
	PhraseLimit time.Duration
	// EnergyThreshold is the minimum frame energy treated as speech,
	// on the int16 RMS scale.
	EnergyThreshold float64
	// PauseThreshold is the silence run that ends the phrase.
	PauseThreshold time.Duration
}

// Recorder captures mono 16 kHz PCM from the default input device.
type Recorder struct {
	mu      sync.Mutex
	dumpDir string
}

// NewRecorder returns a recorder; when dumpDir is non-empty every captured
// clip is also written there as a WAV file for offline inspection.
func NewRecorder(dumpDir string) *Recorder {
	return &Recorder{dumpDir: dumpDir}
}

// Init brings up the audio subsystem. A failure here is fatal to the caller:
// nothing works without audio.
func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// MicrophoneCount reports how many input-capable devices are present.
func (r *Recorder) MicrophoneCount() int {
	devices, err := portaudio.Devices()
	if err != nil {
		log.Warn("Failed to enumerate audio devices", "err", err)
		return 0
	}
	n := 0
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			n++
		}
	}
	return n
}

// MeasureAmbient samples background noise for d and derives an energy
// threshold with headroom above it.
func (r *Recorder) MeasureAmbient(ctx context.Context, d time.Duration) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return 0, err
	}
	defer stream.Stop()

	frames := int(d / frameDuration)
	if frames < 1 {
		frames = 1
	}

	var sum float64
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := stream.Read(); err != nil {
			return 0, err
		}
		sum += frameRMS(buf)
	}

	threshold := (sum / float64(frames)) * int16Scale * ambientRatio
	log.Debug("Measured ambient noise", "duration", d, "energy_threshold", threshold)
	return threshold, nil
}

// Capture waits for speech to open the energy gate, then records until the
// silence run reaches PauseThreshold or the phrase limit is hit. The context
// cancels the capture between frames.
func (r *Recorder) Capture(ctx context.Context, p CaptureParams) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	var (
		out           = make([]float32, 0, SampleRate*3)
		speaking      bool
		silenceFrames int
	)

	waitFrames := int(p.Timeout / frameDuration)
	phraseFrames := int(p.PhraseLimit / frameDuration)
	pauseFrames := int(p.PauseThreshold / frameDuration)
	if pauseFrames < 1 {
		pauseFrames = 1
	}

	gate := p.EnergyThreshold / int16Scale

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !speaking && i >= waitFrames {
			return nil, ErrNoSpeech
		}

		if err := stream.Read(); err != nil {
			return nil, err
		}
		rms := frameRMS(buf)

		if !speaking {
			if rms > gate {
				speaking = true
				out = append(out, buf...)
			}
			continue
		}

		out = append(out, buf...)
		if rms > gate {
			silenceFrames = 0
		} else {
			silenceFrames++
			if silenceFrames >= pauseFrames {
				break
			}
		}
		if len(out) >= phraseFrames*frameSize {
			break
		}
	}

	if r.dumpDir != "" {
		if err := dumpWAV(r.dumpDir, out); err != nil {
			log.Warn("Failed to dump captured clip", "err", err)
		}
	}

	return out, nil
}

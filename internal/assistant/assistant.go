// Package assistant contains the wake/command control loop: a small state
// machine that sleeps until the activation phrase is heard, captures exactly
// one command, dispatches it, and goes back to sleep.
package assistant

import (
	"context"
	"errors"
	"io"
	"time"

	"maestro/internal/calib"
	"maestro/internal/listen"
	"maestro/internal/transcribe"
)

// ErrNoTrackFound reports that a requested title matched nothing.
var ErrNoTrackFound = errors.New("no matching track found")

// Mode is the loop's current state.
type Mode int

const (
	ModeAsleep Mode = iota
	ModeAwake
	ModeText
)

func (m Mode) String() string {
	switch m {
	case ModeAwake:
		return "awake"
	case ModeText:
		return "text"
	default:
		return "asleep"
	}
}

// TrackInfo describes a playable or playing track.
type TrackInfo struct {
	Name   string
	Artist string
	Album  string
}

// Listener captures audio from the shared input device.
type Listener interface {
	Capture(ctx context.Context, p listen.CaptureParams) ([]float32, error)
	MeasureAmbient(ctx context.Context, d time.Duration) (float64, error)
	MicrophoneCount() int
}

// Transcriber converts a captured clip to text; false means the fallback
// chain was exhausted.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (transcribe.Result, bool)
}

// Playback is the remote playback-control collaborator. Implementations own
// their recovery (launch-and-retry); the loop never retries.
type Playback interface {
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	AdjustVolume(ctx context.Context, delta int) (int, error)
	QueryCurrent(ctx context.Context) (*TrackInfo, error)
	PlaySpecific(ctx context.Context, title string) (*TrackInfo, error)
}

// Notifier delivers best-effort desktop notifications; it must never fail
// into the loop.
type Notifier interface {
	Notify(title, message, icon, urgency string, timeoutMs int)
}

// SpeechOutput voices text; wait=true blocks until audible completion.
type SpeechOutput interface {
	Speak(text string, wait bool)
}

// Ducker quiets other playback streams around a command capture.
type Ducker interface {
	Duck(ctx context.Context)
	Restore(ctx context.Context)
}

// Chime plays the wake acknowledgment sound synchronously.
type Chime interface {
	Play()
}

// EventSink receives state-change events, fire and forget.
type EventSink interface {
	Publish(kind, message string)
}

// ProfileStore persists calibration profiles. *calib.Store satisfies it.
type ProfileStore interface {
	Load() (*calib.Profile, bool)
	Save(energyThreshold, pauseThreshold, successRate float64) bool
	SetWakeWord(w string)
	SetMicrophoneCount(n int)
}

// Config wires a Loop. Listener, Transcriber, Store and Playback are
// required; the feedback collaborators default to no-ops when nil.
type Config struct {
	Listener    Listener
	Transcriber Transcriber
	Store       ProfileStore
	Playback    Playback
	Notifier    Notifier
	Speech      SpeechOutput
	Ducker      Ducker
	Chime       Chime
	Events      EventSink

	// WakeWord is the initial activation phrase; a fresh stored profile
	// may override it. Defaults to "jarvis".
	WakeWord string

	// ListenTimeout bounds each wake-word listen cycle. Defaults to 30s.
	ListenTimeout time.Duration

	// Input and Output are the text-mode console, defaulting to the
	// process's stdin/stdout.
	Input  io.Reader
	Output io.Writer
}

type noopNotifier struct{}

func (noopNotifier) Notify(_, _, _, _ string, _ int) {}

type noopSpeech struct{}

func (noopSpeech) Speak(string, bool) {}

type noopDucker struct{}

func (noopDucker) Duck(context.Context)    {}
func (noopDucker) Restore(context.Context) {}

type noopChime struct{}

func (noopChime) Play() {}

type noopEvents struct{}

func (noopEvents) Publish(string, string) {}

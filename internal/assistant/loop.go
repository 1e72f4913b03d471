package assistant

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"maestro/internal/calib"
	"maestro/internal/command"
	"maestro/internal/listen"
)

const (
	defaultWakeWord      = "jarvis"
	defaultListenTimeout = 30 * time.Second

	// A wake word is short; commands get more room.
	wakePhraseLimit    = 5 * time.Second
	commandWaitTimeout = 3 * time.Second
	commandPhraseLimit = 7 * time.Second

	defaultEnergyThreshold = 200.0
	defaultPauseThreshold  = 1.0 // seconds
)

// Loop is the wake/command state machine. All state transitions happen on
// the goroutine running Run; external control (signals, IPC) only sets
// request flags and cancels the in-flight listen.
type Loop struct {
	listener Listener
	stt      Transcriber
	store    ProfileStore
	sens     *calib.Sensitivity
	playback Playback
	notifier Notifier
	voice    SpeechOutput
	ducker   Ducker
	chime    Chime
	events   EventSink

	input  *bufio.Scanner
	output io.Writer

	listenTimeout time.Duration

	// mode is written by the Run goroutine but read from signal and IPC
	// goroutines via Mode().
	mode atomic.Int32

	// Loop-owned state, mutated only from Run's goroutine.
	wakeWord string
	energy   float64
	pause    float64 // seconds

	running     atomic.Bool
	textRequest atomic.Bool
	recalibrate atomic.Bool
	pendingWake atomic.Value // string

	mu           sync.Mutex
	cancelListen context.CancelFunc
}

func New(cfg Config) *Loop {
	l := &Loop{
		listener:      cfg.Listener,
		stt:           cfg.Transcriber,
		store:         cfg.Store,
		sens:          calib.NewSensitivity(),
		playback:      cfg.Playback,
		notifier:      cfg.Notifier,
		voice:         cfg.Speech,
		ducker:        cfg.Ducker,
		chime:         cfg.Chime,
		events:        cfg.Events,
		listenTimeout: cfg.ListenTimeout,
		wakeWord:      cfg.WakeWord,
		energy:        defaultEnergyThreshold,
		pause:         defaultPauseThreshold,
	}

	if l.wakeWord == "" {
		l.wakeWord = defaultWakeWord
	}
	if l.listenTimeout <= 0 {
		l.listenTimeout = defaultListenTimeout
	}
	if l.notifier == nil {
		l.notifier = noopNotifier{}
	}
	if l.voice == nil {
		l.voice = noopSpeech{}
	}
	if l.ducker == nil {
		l.ducker = noopDucker{}
	}
	if l.chime == nil {
		l.chime = noopChime{}
	}
	if l.events == nil {
		l.events = noopEvents{}
	}

	in := cfg.Input
	if in == nil {
		in = os.Stdin
	}
	l.input = bufio.NewScanner(in)
	l.output = cfg.Output
	if l.output == nil {
		l.output = os.Stdout
	}

	return l
}

// Mode reports the current state. Safe from any goroutine.
func (l *Loop) Mode() Mode { return Mode(l.mode.Load()) }

// WakeWord reports the current activation phrase.
func (l *Loop) WakeWord() string { return l.wakeWord }

// Stop requests termination. Checked at the top of every iteration;
// in-flight operations complete first.
func (l *Loop) Stop() {
	l.running.Store(false)
	l.interruptListen()
}

// EnterTextMode pauses voice listening and switches to line-oriented input.
// Any in-flight listen is cancelled.
func (l *Loop) EnterTextMode() {
	l.textRequest.Store(true)
	l.interruptListen()
}

// RequestRecalibrate schedules a full calibration before the next cycle.
func (l *Loop) RequestRecalibrate() {
	l.recalibrate.Store(true)
	l.interruptListen()
}

// RenameWakeWord schedules adoption of a new activation phrase. Invalid
// phrases are rejected here so the loop never sees them.
func (l *Loop) RenameWakeWord(w string) error {
	w = strings.ToLower(strings.TrimSpace(w))
	if !calib.ValidWakeWord(w) {
		return fmt.Errorf("invalid wake word %q: letters and digits only, at most 50 characters", w)
	}
	l.pendingWake.Store(w)
	l.interruptListen()
	return nil
}

// Run calibrates and then drives the state machine until Stop. Only audio
// setup failures escape before the loop starts; a failing iteration is
// logged and the loop continues.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)

	l.calibrate(ctx)

	log.Info("Assistant ready", "wake_word", l.wakeWord,
		"energy_threshold", l.energy, "pause_threshold", l.pause)
	l.notifier.Notify("Wake word mode active",
		fmt.Sprintf("Say %q to wake me up!", l.wakeWord),
		"audio-input-microphone", "", 8000)
	l.events.Publish("state", l.Mode().String())

	for l.running.Load() && ctx.Err() == nil {
		l.iterate(ctx)
	}

	log.Info("Assistant stopped", "success_rate", l.sens.SuccessRate())
	return nil
}

// iterate runs one state-machine step, absorbing panics so a single bad
// cycle cannot take the process down.
func (l *Loop) iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Loop iteration panicked", "panic", r)
		}
	}()

	if w, ok := l.pendingWake.Load().(string); ok && w != "" && w != l.wakeWord {
		l.adoptWakeWord(w)
	}
	if l.recalibrate.Swap(false) {
		l.fullCalibrate(ctx)
	}
	if l.textRequest.Swap(false) {
		l.setMode(ModeText)
	}

	switch l.Mode() {
	case ModeAsleep:
		l.sleepCycle(ctx)
	case ModeAwake:
		l.awakeCycle(ctx)
	case ModeText:
		l.textCycle(ctx)
	}
}

// sleepCycle listens for the wake word. Timeouts and transcripts without the
// phrase both keep the loop asleep.
func (l *Loop) sleepCycle(ctx context.Context) {
	log.Debug("Sleeping, listening for wake word", "wake_word", l.wakeWord)

	lctx := l.listenContext(ctx)
	clip, err := l.listener.Capture(lctx, listen.CaptureParams{
		Timeout:         l.listenTimeout,
		PhraseLimit:     wakePhraseLimit,
		EnergyThreshold: l.energy,
		PauseThreshold:  l.pauseDuration(),
	})
	l.clearListenCancel()
	if err != nil {
		if !errors.Is(err, listen.ErrNoSpeech) && !errors.Is(err, context.Canceled) {
			log.Warn("Wake-word listen failed", "err", err)
		}
		return
	}

	res, ok := l.stt.Transcribe(ctx, clip)
	if !ok {
		return
	}

	heard := strings.ToLower(res.Transcript)
	log.Debug("Heard while asleep", "transcript", heard)
	if !strings.Contains(heard, strings.ToLower(l.wakeWord)) {
		return
	}

	log.Info("Wake word detected", "transcript", heard)
	l.events.Publish("wake", heard)
	l.notifier.Notify("Assistant awake", "Wake word detected, listening for a command",
		"audio-input-microphone", "", 4000)
	l.chime.Play()
	// The acknowledgment must finish before the command capture starts,
	// or the microphone hears the speaker.
	l.voice.Speak("yes sir", true)

	l.setMode(ModeAwake)
}

// awakeCycle makes exactly one command attempt, then returns to sleep
// whatever the outcome.
func (l *Loop) awakeCycle(ctx context.Context) {
	defer l.setMode(ModeAsleep)

	l.ducker.Duck(ctx)
	defer l.ducker.Restore(ctx)

	lctx := l.listenContext(ctx)
	clip, err := l.listener.Capture(lctx, listen.CaptureParams{
		Timeout:         commandWaitTimeout,
		PhraseLimit:     commandPhraseLimit,
		EnergyThreshold: l.energy,
		PauseThreshold:  l.pauseDuration(),
	})
	l.clearListenCancel()

	if err != nil {
		l.sens.Record(false)
		switch {
		case errors.Is(err, context.Canceled):
			// Interrupted from outside; the next iterate handles it.
		case errors.Is(err, listen.ErrNoSpeech):
			l.voice.Speak("No speech detected. Going back to sleep.", false)
			l.notifier.Notify("Voice timeout", "No speech detected within timeout", "dialog-warning", "", 4000)
		default:
			log.Warn("Command capture failed", "err", err)
			l.voice.Speak("Sorry, something went wrong. Going back to sleep.", false)
			l.notifier.Notify("Capture failed", "Microphone capture failed", "dialog-warning", "", 4000)
		}
		return
	}

	res, ok := l.stt.Transcribe(ctx, clip)
	if !ok {
		l.sens.Record(false)
		l.voice.Speak("Sorry, I couldn't understand that. Going back to sleep.", false)
		l.notifier.Notify("Voice recognition failed", "Could not understand the command", "dialog-warning", "", 4000)
		l.relaxSensitivity()
		return
	}

	l.sens.Record(true)
	log.Info("Command recognized", "transcript", res.Transcript,
		"strategy", res.Strategy, "confidence", res.Confidence)
	l.dispatch(ctx, res.Transcript)
}

// textCycle reads one line command. EOF on input terminates the loop.
func (l *Loop) textCycle(ctx context.Context) {
	fmt.Fprint(l.output, "text> ")
	if !l.input.Scan() {
		l.Stop()
		return
	}
	line := strings.TrimSpace(l.input.Text())

	switch strings.ToLower(line) {
	case "":
		return
	case "voice":
		l.notifier.Notify("Voice mode restored", "Returning to voice-first mode",
			"audio-input-microphone", "low", 3000)
		l.setMode(ModeAsleep)
	case "recalibrate":
		l.fullCalibrate(ctx)
		l.setMode(ModeAsleep)
	case "quit", "exit", "q":
		l.voice.Speak("Goodbye!", false)
		l.notifier.Notify("Assistant stopping", "Shutting down", "application-exit", "low", 3000)
		l.Stop()
	default:
		if rest, ok := strings.CutPrefix(strings.ToLower(line), "wake "); ok {
			l.renameFromText(rest)
			return
		}
		l.dispatch(ctx, line)
	}
}

func (l *Loop) renameFromText(w string) {
	if err := l.RenameWakeWord(w); err != nil {
		fmt.Fprintf(l.output, "%v\n", err)
		return
	}
	// Adopt immediately; we are on the loop goroutine.
	if p, ok := l.pendingWake.Load().(string); ok && p != "" {
		l.adoptWakeWord(p)
	}
}

func (l *Loop) adoptWakeWord(w string) {
	l.pendingWake.Store("")
	l.wakeWord = w
	l.store.SetWakeWord(w)
	if !l.store.Save(l.energy, l.pause, l.sens.SuccessRate()) {
		log.Warn("Failed to persist renamed wake word")
	}
	log.Info("Wake word changed", "wake_word", w)
	l.notifier.Notify("Wake word changed",
		fmt.Sprintf("New wake word: %q. Say this to wake the assistant.", w),
		"dialog-information", "", 5000)
}

// dispatch interprets one transcript and hands the action to the playback
// collaborator. Failures surface as spoken messages, never as loop errors.
func (l *Loop) dispatch(ctx context.Context, transcript string) {
	act := command.Interpret(transcript)
	log.Info("Dispatching", "action", act.Kind.String(), "transcript", transcript)
	l.events.Publish("command", act.Kind.String())

	switch act.Kind {
	case command.PlaySpecific:
		info, err := l.playback.PlaySpecific(ctx, act.Title)
		switch {
		case err == nil:
			l.speakTrack(info)
		case errors.Is(err, ErrNoTrackFound):
			l.voice.Speak(fmt.Sprintf("Couldn't find %s", act.Title), false)
		default:
			l.voice.Speak("Sorry, couldn't play that song.", false)
		}

	case command.Resume:
		if err := l.playback.Resume(ctx); err != nil {
			l.voice.Speak("No active device found. Start Spotify first.", false)
		} else {
			l.voice.Speak("Resuming playback", false)
		}

	case command.Pause:
		if err := l.playback.Pause(ctx); err != nil {
			l.voice.Speak("Couldn't pause playback.", false)
		} else {
			l.voice.Speak("Pausing", false)
		}

	case command.Next:
		if err := l.playback.Next(ctx); err != nil {
			l.voice.Speak("Couldn't skip track.", false)
		} else {
			l.voice.Speak("Next track", false)
		}

	case command.Previous:
		if err := l.playback.Previous(ctx); err != nil {
			l.voice.Speak("Couldn't go back.", false)
		} else {
			l.voice.Speak("Previous track", false)
		}

	case command.Volume:
		volume, err := l.playback.AdjustVolume(ctx, act.VolumeDelta)
		if err != nil {
			l.voice.Speak("Couldn't adjust volume.", false)
		} else {
			l.voice.Speak(fmt.Sprintf("Volume %d percent", volume), false)
		}

	case command.QueryCurrent:
		info, err := l.playback.QueryCurrent(ctx)
		switch {
		case err != nil:
			l.voice.Speak("Couldn't get track info.", false)
		case info == nil:
			l.voice.Speak("Nothing is playing", false)
		default:
			l.speakTrack(info)
		}

	case command.Quit:
		l.voice.Speak("Goodbye!", false)
		l.notifier.Notify("Assistant stopping", "Maestro is shutting down",
			"application-exit", "low", 3000)
		l.Stop()

	default:
		l.voice.Speak(fmt.Sprintf(
			"I heard '%s' but didn't understand the command. Try 'play' followed by a song name, or other basic commands.",
			transcript), false)
	}
}

func (l *Loop) speakTrack(info *TrackInfo) {
	if info == nil {
		return
	}
	l.voice.Speak(fmt.Sprintf("Playing %s by %s", info.Name, info.Artist), false)
}

// relaxSensitivity applies and persists a threshold adjustment when the
// controller decides one is due.
func (l *Loop) relaxSensitivity() {
	energy, pause, changed := l.sens.MaybeAdjust(l.energy, l.pause)
	if !changed {
		return
	}
	l.energy, l.pause = energy, pause
	l.notifier.Notify("Sensitivity adjusted",
		"Made recognition more sensitive for better phrase capture",
		"dialog-information", "low", 3000)
	if !l.store.Save(l.energy, l.pause, l.sens.SuccessRate()) {
		log.Warn("Failed to persist adjusted thresholds")
	}
}

func (l *Loop) setMode(m Mode) {
	old := Mode(l.mode.Swap(int32(m)))
	if old == m {
		return
	}
	log.Debug("State transition", "from", old.String(), "to", m.String())
	l.events.Publish("state", m.String())
	if m == ModeText {
		l.notifier.Notify("Text mode active",
			"Type commands manually. Type 'voice' to return to voice mode.",
			"input-keyboard", "", 5000)
	}
}

func (l *Loop) pauseDuration() time.Duration {
	return time.Duration(l.pause * float64(time.Second))
}

// listenContext registers a cancellable context for the next capture so
// external control can interrupt it.
func (l *Loop) listenContext(ctx context.Context) context.Context {
	lctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancelListen = cancel
	l.mu.Unlock()
	return lctx
}

func (l *Loop) clearListenCancel() {
	l.mu.Lock()
	if l.cancelListen != nil {
		l.cancelListen()
		l.cancelListen = nil
	}
	l.mu.Unlock()
}

func (l *Loop) interruptListen() {
	l.mu.Lock()
	if l.cancelListen != nil {
		l.cancelListen()
	}
	l.mu.Unlock()
}


package assistant

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"maestro/internal/listen"
)

const (
	ambientSampleTime = 4 * time.Second
	quickSampleTime   = 2 * time.Second

	trialWaitTimeout = 8 * time.Second
	trialPhraseLimit = 15 * time.Second

	// Conservative fallbacks when the environment cannot be measured.
	fallbackEnergy  = 300.0
	fallbackPause   = 4.0
	fallbackSuccess = 0.3

	// Gentler fallbacks when ambient worked but the trial phrase did not.
	trialFailEnergy = 250.0
	trialFailPause  = 3.5

	weakTrialFloor   = 150.0
	weakTrialScale   = 0.8
	weakTrialSuccess = 0.5
)

// calibrate loads a recent profile when one exists, otherwise runs the full
// measurement sequence. A reused profile still gets a short ambient check so
// the log shows whether the room has changed.
func (l *Loop) calibrate(ctx context.Context) {
	p, ok := l.store.Load()
	if !ok {
		l.fullCalibrate(ctx)
		return
	}

	l.energy = p.EnergyThreshold
	l.pause = p.PauseThreshold
	if p.WakeWord != "" {
		l.wakeWord = p.WakeWord
	}
	log.Info("Reusing calibration profile",
		"energy_threshold", l.energy, "pause_threshold", l.pause,
		"success_rate", p.SuccessRate, "wake_word", l.wakeWord)

	ambient, err := l.listener.MeasureAmbient(ctx, quickSampleTime)
	if err != nil {
		log.Warn("Ambient check failed, keeping saved thresholds", "err", err)
		return
	}
	log.Debug("Ambient check", "level", ambient, "saved_threshold", l.energy)
	if ambient > l.energy {
		// A louder room than last time; raise the floor so silence
		// detection still works, but keep the saved pause gap.
		l.energy = ambient
		log.Info("Raised energy threshold for noisier room", "energy_threshold", l.energy)
	}
}

// fullCalibrate measures ambient noise and runs one trial phrase. It never
// fails: every branch ends with usable thresholds and a saved profile.
func (l *Loop) fullCalibrate(ctx context.Context) {
	l.events.Publish("calibration", "started")
	l.notifier.Notify("Calibrating microphone",
		"Stay quiet for a few seconds while ambient noise is measured",
		"audio-input-microphone", "", 5000)

	ambient, err := l.listener.MeasureAmbient(ctx, ambientSampleTime)
	if err != nil {
		log.Warn("Ambient measurement failed, using conservative defaults", "err", err)
		l.adopt(fallbackEnergy, fallbackPause, fallbackSuccess)
		return
	}
	l.energy = ambient
	l.pause = defaultPauseThreshold
	log.Info("Ambient noise measured", "energy_threshold", l.energy)

	l.voice.Speak("Please say a short test phrase", true)
	l.notifier.Notify("Say a test phrase",
		"Speak a full sentence so recognition can be verified",
		"audio-input-microphone", "", 8000)

	clip, err := l.listener.Capture(ctx, listen.CaptureParams{
		Timeout:         trialWaitTimeout,
		PhraseLimit:     trialPhraseLimit,
		EnergyThreshold: l.energy,
		PauseThreshold:  l.pauseDuration(),
	})
	if err != nil {
		log.Warn("Trial capture failed, relaxing thresholds", "err", err)
		l.adopt(trialFailEnergy, trialFailPause, fallbackSuccess)
		return
	}

	res, ok := l.stt.Transcribe(ctx, clip)
	if !ok {
		log.Warn("Trial phrase not recognized, relaxing thresholds")
		l.adopt(trialFailEnergy, trialFailPause, fallbackSuccess)
		return
	}

	words := len(strings.Fields(res.Transcript))
	if words >= 3 {
		log.Info("Calibration succeeded", "transcript", res.Transcript, "words", words)
		l.adopt(l.energy, l.pause, 1.0)
		return
	}

	// Heard something, but too little. Lower the gate so quiet speech
	// still passes.
	relaxed := weakTrialScale * l.energy
	if relaxed < weakTrialFloor {
		relaxed = weakTrialFloor
	}
	log.Info("Trial phrase too short, lowering energy threshold",
		"transcript", res.Transcript, "energy_threshold", relaxed)
	l.adopt(relaxed, l.pause, weakTrialSuccess)
}

// adopt installs thresholds and persists the profile.
func (l *Loop) adopt(energy, pause, success float64) {
	l.energy = energy
	l.pause = pause
	l.store.SetMicrophoneCount(l.listener.MicrophoneCount())
	l.store.SetWakeWord(l.wakeWord)
	if !l.store.Save(energy, pause, success) {
		log.Warn("Failed to persist calibration profile")
	}
	l.events.Publish("calibration",
		fmt.Sprintf("done energy=%.0f pause=%.1f", energy, pause))
	l.notifier.Notify("Calibration complete",
		fmt.Sprintf("Energy threshold %.0f, pause threshold %.1fs", energy, pause),
		"dialog-information", "low", 4000)
}

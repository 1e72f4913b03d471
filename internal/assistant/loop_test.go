package assistant

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/calib"
	"maestro/internal/listen"
	"maestro/internal/transcribe"
)

type captureResult struct {
	clip []float32
	err  error
}

type fakeListener struct {
	captures   []captureResult
	params     []listen.CaptureParams
	ambient    float64
	ambientErr error
	mics       int
}

func (f *fakeListener) Capture(_ context.Context, p listen.CaptureParams) ([]float32, error) {
	f.params = append(f.params, p)
	if len(f.captures) == 0 {
		return nil, listen.ErrNoSpeech
	}
	r := f.captures[0]
	f.captures = f.captures[1:]
	return r.clip, r.err
}

func (f *fakeListener) MeasureAmbient(context.Context, time.Duration) (float64, error) {
	return f.ambient, f.ambientErr
}

func (f *fakeListener) MicrophoneCount() int { return f.mics }

type transcription struct {
	res transcribe.Result
	ok  bool
}

type fakeTranscriber struct {
	queue []transcription
}

func (f *fakeTranscriber) Transcribe(context.Context, []float32) (transcribe.Result, bool) {
	if len(f.queue) == 0 {
		return transcribe.Result{}, false
	}
	t := f.queue[0]
	f.queue = f.queue[1:]
	return t.res, t.ok
}

func heard(texts ...string) *fakeTranscriber {
	f := &fakeTranscriber{}
	for _, t := range texts {
		f.queue = append(f.queue, transcription{
			res: transcribe.Result{Transcript: t, Confidence: 0.9, Strategy: transcribe.StrategyPrimaryLocale},
			ok:  true,
		})
	}
	return f
}

type savedProfile struct {
	energy, pause, success float64
}

type fakeStore struct {
	profile  *calib.Profile
	saved    []savedProfile
	wakeWord string
	mics     int
}

func (f *fakeStore) Load() (*calib.Profile, bool) { return f.profile, f.profile != nil }

func (f *fakeStore) Save(energy, pause, success float64) bool {
	f.saved = append(f.saved, savedProfile{energy, pause, success})
	return true
}

func (f *fakeStore) SetWakeWord(w string)     { f.wakeWord = w }
func (f *fakeStore) SetMicrophoneCount(n int) { f.mics = n }
func (f *fakeStore) lastSaved() savedProfile  { return f.saved[len(f.saved)-1] }

type spokenLine struct {
	text string
	wait bool
}

type fakeSpeech struct {
	lines []spokenLine
}

func (f *fakeSpeech) Speak(text string, wait bool) {
	f.lines = append(f.lines, spokenLine{text, wait})
}

func (f *fakeSpeech) said(substr string) bool {
	for _, l := range f.lines {
		if strings.Contains(strings.ToLower(l.text), strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

type fakePlayback struct {
	calls     []string
	playErr   error
	pauseErr  error
	volume    int
	volumeErr error
	current   *TrackInfo
	title     string
	delta     int
}

func (f *fakePlayback) Resume(context.Context) error {
	f.calls = append(f.calls, "resume")
	return f.playErr
}

func (f *fakePlayback) Pause(context.Context) error {
	f.calls = append(f.calls, "pause")
	return f.pauseErr
}

func (f *fakePlayback) Next(context.Context) error {
	f.calls = append(f.calls, "next")
	return nil
}

func (f *fakePlayback) Previous(context.Context) error {
	f.calls = append(f.calls, "previous")
	return nil
}

func (f *fakePlayback) AdjustVolume(_ context.Context, delta int) (int, error) {
	f.calls = append(f.calls, "volume")
	f.delta = delta
	return f.volume, f.volumeErr
}

func (f *fakePlayback) QueryCurrent(context.Context) (*TrackInfo, error) {
	f.calls = append(f.calls, "query")
	return f.current, nil
}

func (f *fakePlayback) PlaySpecific(_ context.Context, title string) (*TrackInfo, error) {
	f.calls = append(f.calls, "play")
	f.title = title
	if f.playErr != nil {
		return nil, f.playErr
	}
	return &TrackInfo{Name: title, Artist: "someone"}, nil
}

type loopFixture struct {
	loop     *Loop
	listener *fakeListener
	stt      *fakeTranscriber
	store    *fakeStore
	playback *fakePlayback
	speech   *fakeSpeech
}

func newFixture(stt *fakeTranscriber, captures ...captureResult) *loopFixture {
	f := &loopFixture{
		listener: &fakeListener{captures: captures, ambient: 180, mics: 1},
		stt:      stt,
		store:    &fakeStore{},
		playback: &fakePlayback{volume: 65},
		speech:   &fakeSpeech{},
	}
	f.loop = New(Config{
		Listener:    f.listener,
		Transcriber: f.stt,
		Store:       f.store,
		Playback:    f.playback,
		Speech:      f.speech,
	})
	return f
}

func newScanner(s string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(s))
}

func speech(samples ...float32) captureResult {
	if len(samples) == 0 {
		samples = []float32{0.1, 0.2, 0.1}
	}
	return captureResult{clip: samples}
}

func TestSleepCycleWakesOnWakeWord(t *testing.T) {
	f := newFixture(heard("hey jarvis"), speech())
	f.loop.sleepCycle(context.Background())

	assert.Equal(t, ModeAwake, f.loop.Mode())
	require.NotEmpty(t, f.speech.lines)
	assert.Equal(t, spokenLine{"yes sir", true}, f.speech.lines[0])
}

func TestSleepCycleIgnoresOtherPhrases(t *testing.T) {
	f := newFixture(heard("hey there"), speech())
	f.loop.sleepCycle(context.Background())

	assert.Equal(t, ModeAsleep, f.loop.Mode())
	assert.Empty(t, f.speech.lines)
}

func TestSleepCycleStaysAsleepOnTimeout(t *testing.T) {
	f := newFixture(heard(), captureResult{err: listen.ErrNoSpeech})
	f.loop.sleepCycle(context.Background())

	assert.Equal(t, ModeAsleep, f.loop.Mode())
}

func TestWakeWordMatchIsCaseInsensitiveSubstring(t *testing.T) {
	f := newFixture(heard("OK Jarvis, wake up"), speech())
	f.loop.sleepCycle(context.Background())

	assert.Equal(t, ModeAwake, f.loop.Mode())
}

func TestAwakeCycleDispatchesAndSleeps(t *testing.T) {
	f := newFixture(heard("pause the music"), speech())
	f.loop.mode.Store(int32(ModeAwake))
	f.loop.awakeCycle(context.Background())

	assert.Equal(t, []string{"pause"}, f.playback.calls)
	assert.Equal(t, ModeAsleep, f.loop.Mode())
	assert.Equal(t, 1.0, f.loop.sens.SuccessRate())
}

func TestAwakeCycleUsesCommandTimeouts(t *testing.T) {
	f := newFixture(heard("pause"), speech())
	f.loop.mode.Store(int32(ModeAwake))
	f.loop.awakeCycle(context.Background())

	require.Len(t, f.listener.params, 1)
	assert.Equal(t, commandWaitTimeout, f.listener.params[0].Timeout)
	assert.Equal(t, commandPhraseLimit, f.listener.params[0].PhraseLimit)
}

func TestAwakeCycleRecognitionFailure(t *testing.T) {
	f := newFixture(&fakeTranscriber{}, speech())
	f.loop.mode.Store(int32(ModeAwake))
	f.loop.awakeCycle(context.Background())

	assert.Equal(t, ModeAsleep, f.loop.Mode())
	assert.Empty(t, f.playback.calls)
	assert.True(t, f.speech.said("couldn't understand"))
	assert.Equal(t, 0.0, f.loop.sens.SuccessRate())
}

func TestAwakeCycleCaptureErrorSpeaksFailure(t *testing.T) {
	f := newFixture(heard(), captureResult{err: errors.New("input stream read failed")})
	f.loop.mode.Store(int32(ModeAwake))
	f.loop.awakeCycle(context.Background())

	assert.Equal(t, ModeAsleep, f.loop.Mode())
	assert.True(t, f.speech.said("something went wrong"))
	assert.Equal(t, 0.0, f.loop.sens.SuccessRate())
}

func TestAwakeCycleCancelledCaptureIsSilent(t *testing.T) {
	f := newFixture(heard(), captureResult{err: context.Canceled})
	f.loop.mode.Store(int32(ModeAwake))
	f.loop.awakeCycle(context.Background())

	assert.Equal(t, ModeAsleep, f.loop.Mode())
	assert.Empty(t, f.speech.lines)
}

func TestRepeatedFailuresRelaxThresholds(t *testing.T) {
	f := newFixture(&fakeTranscriber{}, speech(), speech(), speech())
	f.loop.energy = 200
	f.loop.pause = 1.0

	for i := 0; i < 3; i++ {
		f.loop.mode.Store(int32(ModeAwake))
		f.loop.awakeCycle(context.Background())
	}

	assert.InDelta(t, 140.0, f.loop.energy, 0.001)
	assert.InDelta(t, 1.2, f.loop.pause, 0.001)
	require.NotEmpty(t, f.store.saved)
	assert.InDelta(t, 140.0, f.store.lastSaved().energy, 0.001)
}

func TestDispatchVolume(t *testing.T) {
	f := newFixture(heard())
	f.loop.dispatch(context.Background(), "volume up please")

	assert.Equal(t, []string{"volume"}, f.playback.calls)
	assert.Equal(t, 15, f.playback.delta)
	assert.True(t, f.speech.said("volume 65 percent"))
}

func TestDispatchPlaySpecific(t *testing.T) {
	f := newFixture(heard())
	f.loop.dispatch(context.Background(), "play hotel california by eagles")

	assert.Equal(t, []string{"play"}, f.playback.calls)
	assert.Equal(t, "hotel california by eagles", f.playback.title)
	assert.True(t, f.speech.said("playing hotel california by eagles"))
}

func TestDispatchPlayNotFound(t *testing.T) {
	f := newFixture(heard())
	f.playback.playErr = ErrNoTrackFound
	f.loop.dispatch(context.Background(), "play zzzz")

	assert.True(t, f.speech.said("couldn't find zzzz"))
}

func TestDispatchQueryNothingPlaying(t *testing.T) {
	f := newFixture(heard())
	f.loop.dispatch(context.Background(), "what song is this")

	assert.True(t, f.speech.said("nothing is playing"))
}

func TestDispatchUnknown(t *testing.T) {
	f := newFixture(heard())
	f.loop.dispatch(context.Background(), "turn it up")

	assert.Empty(t, f.playback.calls)
	assert.True(t, f.speech.said("didn't understand"))
}

func TestDispatchQuitStopsLoop(t *testing.T) {
	f := newFixture(heard())
	f.loop.running.Store(true)
	f.loop.dispatch(context.Background(), "quit")

	assert.False(t, f.loop.running.Load())
	assert.True(t, f.speech.said("goodbye"))
}

func TestTextModeCommands(t *testing.T) {
	f := newFixture(heard())
	f.loop.input = newScanner("pause\nvoice\n")
	f.loop.output = &strings.Builder{}
	f.loop.mode.Store(int32(ModeText))

	f.loop.textCycle(context.Background())
	assert.Equal(t, []string{"pause"}, f.playback.calls)
	assert.Equal(t, ModeText, f.loop.Mode())

	f.loop.textCycle(context.Background())
	assert.Equal(t, ModeAsleep, f.loop.Mode())
}

func TestTextModeQuit(t *testing.T) {
	f := newFixture(heard())
	f.loop.input = newScanner("quit\n")
	f.loop.output = &strings.Builder{}
	f.loop.mode.Store(int32(ModeText))
	f.loop.running.Store(true)

	f.loop.textCycle(context.Background())
	assert.False(t, f.loop.running.Load())
}

func TestTextModeEOFStops(t *testing.T) {
	f := newFixture(heard())
	f.loop.input = newScanner("")
	f.loop.output = &strings.Builder{}
	f.loop.mode.Store(int32(ModeText))
	f.loop.running.Store(true)

	f.loop.textCycle(context.Background())
	assert.False(t, f.loop.running.Load())
}

func TestTextModeWakeRename(t *testing.T) {
	f := newFixture(heard())
	f.loop.input = newScanner("wake computer\n")
	f.loop.output = &strings.Builder{}
	f.loop.mode.Store(int32(ModeText))

	f.loop.textCycle(context.Background())
	assert.Equal(t, "computer", f.loop.WakeWord())
	assert.Equal(t, "computer", f.store.wakeWord)
	require.NotEmpty(t, f.store.saved)
}

func TestTextModeWakeRenameRejected(t *testing.T) {
	f := newFixture(heard())
	out := &strings.Builder{}
	f.loop.input = newScanner("wake hey there\n")
	f.loop.output = out
	f.loop.mode.Store(int32(ModeText))

	f.loop.textCycle(context.Background())
	assert.Equal(t, defaultWakeWord, f.loop.WakeWord())
	assert.Contains(t, out.String(), "invalid wake word")
}

func TestRenameWakeWordValidation(t *testing.T) {
	f := newFixture(heard())

	assert.Error(t, f.loop.RenameWakeWord("two words"))
	assert.Error(t, f.loop.RenameWakeWord(""))
	assert.Error(t, f.loop.RenameWakeWord(strings.Repeat("a", 51)))
	assert.NoError(t, f.loop.RenameWakeWord("Computer"))

	f.loop.iterate(context.Background())
	assert.Equal(t, "computer", f.loop.WakeWord())
}

func TestModeIsSafeForConcurrentReads(t *testing.T) {
	f := newFixture(heard())

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Mirrors the daemon's signal handler deciding text-mode vs
		// quit while the loop goroutine keeps transitioning.
		for i := 0; i < 1000; i++ {
			if f.loop.Mode() == ModeText {
				f.loop.Stop()
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		f.loop.setMode(ModeAwake)
		f.loop.setMode(ModeAsleep)
	}
	<-done

	assert.Equal(t, ModeAsleep, f.loop.Mode())
}

func TestCalibrateReusesFreshProfile(t *testing.T) {
	f := newFixture(heard())
	f.listener.ambient = 150
	f.store.profile = &calib.Profile{
		Date:            time.Now(),
		EnergyThreshold: 220,
		PauseThreshold:  1.4,
		SuccessRate:     0.9,
		WakeWord:        "computer",
	}

	f.loop.calibrate(context.Background())

	assert.Equal(t, 220.0, f.loop.energy)
	assert.Equal(t, 1.4, f.loop.pause)
	assert.Equal(t, "computer", f.loop.WakeWord())
	assert.Empty(t, f.store.saved)
}

func TestCalibrateRaisesThresholdInLoudRoom(t *testing.T) {
	f := newFixture(heard())
	f.listener.ambient = 320
	f.store.profile = &calib.Profile{
		Date:            time.Now(),
		EnergyThreshold: 220,
		PauseThreshold:  1.0,
	}

	f.loop.calibrate(context.Background())
	assert.Equal(t, 320.0, f.loop.energy)
}

func TestFullCalibrateAmbientFailure(t *testing.T) {
	f := newFixture(heard())
	f.listener.ambientErr = errors.New("no device")

	f.loop.fullCalibrate(context.Background())

	assert.Equal(t, fallbackEnergy, f.loop.energy)
	assert.Equal(t, fallbackPause, f.loop.pause)
	require.NotEmpty(t, f.store.saved)
	assert.Equal(t, savedProfile{fallbackEnergy, fallbackPause, fallbackSuccess}, f.store.lastSaved())
}

func TestFullCalibrateTrialCaptureFailure(t *testing.T) {
	f := newFixture(heard()) // no queued captures: trial listen fails
	f.listener.ambient = 180

	f.loop.fullCalibrate(context.Background())

	assert.Equal(t, savedProfile{trialFailEnergy, trialFailPause, fallbackSuccess}, f.store.lastSaved())
}

func TestFullCalibrateGoodTrial(t *testing.T) {
	f := newFixture(heard("this is my test phrase"), speech())
	f.listener.ambient = 180
	f.listener.mics = 2

	f.loop.fullCalibrate(context.Background())

	assert.Equal(t, savedProfile{180, defaultPauseThreshold, 1.0}, f.store.lastSaved())
	assert.Equal(t, 2, f.store.mics)
}

func TestFullCalibrateWeakTrialLowersEnergy(t *testing.T) {
	f := newFixture(heard("hello"), speech())
	f.listener.ambient = 400

	f.loop.fullCalibrate(context.Background())

	assert.Equal(t, savedProfile{320, defaultPauseThreshold, weakTrialSuccess}, f.store.lastSaved())
}

func TestFullCalibrateWeakTrialFloor(t *testing.T) {
	f := newFixture(heard("hello"), speech())
	f.listener.ambient = 120

	f.loop.fullCalibrate(context.Background())

	assert.Equal(t, weakTrialFloor, f.loop.energy)
}

func TestRunFullScenario(t *testing.T) {
	// Calibration trial, a wake + command round, then a wake + quit round.
	f := newFixture(
		heard("ok my test phrase here", "hey jarvis", "play hotel california", "hey jarvis", "quit"),
		speech(), speech(), speech(), speech(), speech(),
	)
	f.listener.ambient = 180

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, f.loop.Run(ctx))

	assert.Contains(t, f.playback.calls, "play")
	assert.Equal(t, "hotel california", f.playback.title)
	assert.True(t, f.speech.said("yes sir"))
	assert.True(t, f.speech.said("goodbye"))
	assert.False(t, f.loop.running.Load())
}

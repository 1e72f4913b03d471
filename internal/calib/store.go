package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const (
	// Profiles older than this are recalibrated from scratch.
	maxProfileAge = 7 * 24 * time.Hour

	maxWakeWordLen = 50

	formatVersion = "1.0"
)

// ErrOutsideCalibrationDir is returned by NewStore when the resolved profile
// path escapes the designated calibration directory.
var ErrOutsideCalibrationDir = errors.New("calibration file resolves outside the calibration directory")

// Profile is the persisted calibration record. Field names match the on-disk
// format used by every prior version of the assistant.
type Profile struct {
	Date            time.Time `json:"date"`
	EnergyThreshold float64   `json:"energy_threshold"`
	PauseThreshold  float64   `json:"pause_threshold"`
	SuccessRate     float64   `json:"success_rate"`
	MicrophoneCount int       `json:"microphone_count"`
	WakeWord        string    `json:"wake_word,omitempty"`
	Version         string    `json:"version"`
}

// Store owns the on-disk calibration profile. Access is single-writer,
// single-process; atomic replace stands in for locking.
type Store struct {
	path string
	dir  string

	wakeWord string
	micCount int
}

// NewStore resolves the profile path under dir and refuses paths that
// escape it.
func NewStore(dir, filename string) (*Store, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve calibration dir: %w", err)
	}
	path := filepath.Clean(filepath.Join(absDir, filename))
	if path != absDir && !strings.HasPrefix(path, absDir+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideCalibrationDir, filename)
	}
	if err := os.MkdirAll(absDir, 0o700); err != nil {
		return nil, fmt.Errorf("create calibration dir: %w", err)
	}
	return &Store{path: path, dir: absDir}, nil
}

// SetWakeWord records the wake word to persist with the next Save.
func (s *Store) SetWakeWord(w string) { s.wakeWord = w }

// SetMicrophoneCount records the device count to persist with the next Save.
func (s *Store) SetMicrophoneCount(n int) { s.micCount = n }

// Load reads the persisted profile. It fails soft: a missing file, malformed
// JSON, missing fields or a stale timestamp all return (nil, false). A wake
// word that does not pass ValidWakeWord is blanked rather than adopted.
func (s *Store) Load() (*Profile, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to read calibration profile", "path", s.path, "err", err)
		}
		return nil, false
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn("Malformed calibration profile", "path", s.path, "err", err)
		return nil, false
	}
	if p.EnergyThreshold <= 0 || p.PauseThreshold <= 0 || p.SuccessRate < 0 || p.SuccessRate > 1 {
		log.Warn("Calibration profile missing required fields", "path", s.path)
		return nil, false
	}
	if time.Since(p.Date) > maxProfileAge {
		log.Info("Calibration profile is stale, recalibrating", "date", p.Date)
		return nil, false
	}

	if p.WakeWord != "" && !ValidWakeWord(p.WakeWord) {
		log.Warn("Ignoring invalid stored wake word")
		p.WakeWord = ""
	}
	if p.WakeWord != "" {
		s.wakeWord = p.WakeWord
	}
	s.micCount = p.MicrophoneCount

	return &p, true
}

// Save validates the thresholds and atomically replaces the profile. It never
// panics or returns an error; failures are logged and reported as false.
func (s *Store) Save(energyThreshold, pauseThreshold, successRate float64) bool {
	if energyThreshold <= 0 || pauseThreshold <= 0 || successRate < 0 || successRate > 1 {
		log.Warn("Rejecting invalid calibration values",
			"energy", energyThreshold, "pause", pauseThreshold, "success_rate", successRate)
		return false
	}

	p := Profile{
		Date:            time.Now(),
		EnergyThreshold: energyThreshold,
		PauseThreshold:  pauseThreshold,
		SuccessRate:     successRate,
		MicrophoneCount: s.micCount,
		WakeWord:        s.wakeWord,
		Version:         formatVersion,
	}

	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		log.Warn("Failed to encode calibration profile", "err", err)
		return false
	}

	tmp, err := os.CreateTemp(s.dir, ".profile-*.json")
	if err != nil {
		log.Warn("Failed to create temp calibration file", "err", err)
		return false
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		log.Warn("Failed to restrict calibration file permissions", "err", err)
		return false
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		log.Warn("Failed to write calibration profile", "err", err)
		return false
	}
	if err := tmp.Close(); err != nil {
		log.Warn("Failed to close calibration profile", "err", err)
		return false
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		log.Warn("Failed to replace calibration profile", "err", err)
		return false
	}

	log.Debug("Calibration profile saved",
		"energy", energyThreshold, "pause", pauseThreshold, "success_rate", successRate)
	return true
}

// ValidWakeWord reports whether w is safe to adopt as an activation phrase:
// non-empty, at most 50 characters, letters and digits only.
func ValidWakeWord(w string) bool {
	if w == "" || len(w) > maxWakeWordLen {
		return false
	}
	for _, r := range w {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

package calib

import (
	log "log/slog"
)

const (
	minAttemptsForAdjust = 2 // only act once attempts > 2
	adjustBelowRate      = 0.3

	energyRelaxFactor = 0.7
	energyFloor       = 100.0
	pauseRelaxFactor  = 1.2
	pauseCeiling      = 5.0
)

// Sensitivity tracks recognition outcomes for the lifetime of the process and
// relaxes detection thresholds when the success rate stays low. It only ever
// loosens: energy goes down, pause goes up, both bounded.
type Sensitivity struct {
	attempts  int
	successes int
}

func NewSensitivity() *Sensitivity { return &Sensitivity{} }

// Record counts one listen attempt and its outcome.
func (c *Sensitivity) Record(success bool) {
	c.attempts++
	if success {
		c.successes++
	}
}

func (c *Sensitivity) Attempts() int { return c.attempts }

// SuccessRate is successes/attempts, or 0 before any attempt.
func (c *Sensitivity) SuccessRate() float64 {
	if c.attempts == 0 {
		return 0
	}
	return float64(c.successes) / float64(c.attempts)
}

// MaybeAdjust returns relaxed thresholds when the sample is large enough and
// the success rate is below 30%. Otherwise the inputs come back unchanged.
func (c *Sensitivity) MaybeAdjust(energyThreshold, pauseThreshold float64) (float64, float64, bool) {
	if c.attempts <= minAttemptsForAdjust || c.SuccessRate() >= adjustBelowRate {
		return energyThreshold, pauseThreshold, false
	}

	newEnergy := energyThreshold * energyRelaxFactor
	if newEnergy < energyFloor {
		newEnergy = energyFloor
	}
	newPause := pauseThreshold * pauseRelaxFactor
	if newPause > pauseCeiling {
		newPause = pauseCeiling
	}

	log.Info("Relaxing recognition sensitivity",
		"success_rate", c.SuccessRate(),
		"energy", energyThreshold, "new_energy", newEnergy,
		"pause", pauseThreshold, "new_pause", newPause)

	return newEnergy, newPause, true
}

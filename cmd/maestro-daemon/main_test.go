package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalibrationDirResolution(t *testing.T) {
	t.Setenv("MAESTRO_CALIBRATION_DIR", "/tmp/maestro-env")

	assert.Equal(t, "/tmp/from-flag",
		firstNonEmpty("/tmp/from-flag", os.Getenv("MAESTRO_CALIBRATION_DIR"), defaultCalibDir()))
	assert.Equal(t, "/tmp/maestro-env",
		firstNonEmpty("", os.Getenv("MAESTRO_CALIBRATION_DIR"), defaultCalibDir()))

	t.Setenv("MAESTRO_CALIBRATION_DIR", "")
	assert.Equal(t, defaultCalibDir(),
		firstNonEmpty("", os.Getenv("MAESTRO_CALIBRATION_DIR"), defaultCalibDir()))
}

func TestWakeWordResolution(t *testing.T) {
	t.Setenv("MAESTRO_WAKE_WORD", "computer")

	assert.Equal(t, "friday", firstNonEmpty("friday", os.Getenv("MAESTRO_WAKE_WORD")))
	assert.Equal(t, "computer", firstNonEmpty("", os.Getenv("MAESTRO_WAKE_WORD")))

	t.Setenv("MAESTRO_WAKE_WORD", "")
	// Empty resolution lets the loop fall back to its built-in default.
	assert.Equal(t, "", firstNonEmpty("", os.Getenv("MAESTRO_WAKE_WORD")))
}

// Package notify delivers best-effort desktop notifications and the wake
// chime. Nothing here ever returns an error to the caller: feedback channels
// must not take the assistant down.
package notify

import (
	"fmt"
	log "log/slog"
	"os/exec"
	"strconv"
)

const appName = "Maestro Voice Assistant"

// Urgency levels understood by notify-send.
const (
	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyCritical = "critical"
)

// Notifier shells out to notify-send. When the binary is missing the
// notifier is constructed disabled and every call is a no-op.
type Notifier struct {
	enabled bool
}

func New() *Notifier {
	_, err := exec.LookPath("notify-send")
	if err != nil {
		log.Warn("notify-send not found, desktop notifications disabled")
	}
	return &Notifier{enabled: err == nil}
}

// Notify sends one desktop notification, fire and forget.
func (n *Notifier) Notify(title, message, icon, urgency string, timeoutMs int) {
	if !n.enabled {
		return
	}
	if icon == "" {
		icon = "audio-headphones"
	}
	if urgency == "" {
		urgency = UrgencyNormal
	}
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	cmd := exec.Command("notify-send",
		"--app-name="+appName,
		fmt.Sprintf("--icon=%s", icon),
		fmt.Sprintf("--urgency=%s", urgency),
		"--expire-time="+strconv.Itoa(timeoutMs),
		"--category=music",
		title,
		message,
	)
	if err := cmd.Start(); err != nil {
		log.Debug("Notification failed", "err", err)
		return
	}
	go cmd.Wait()
}

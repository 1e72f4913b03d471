package spotify

import (
	"context"
	"fmt"
	log "log/slog"
	"os/exec"
	"runtime"
)

// launchCandidates lists, per platform, the ways a Spotify client might be
// installed, tried in order.
var launchCandidates = map[string][][]string{
	"linux": {
		{"spotify"},
		{"flatpak", "run", "com.spotify.Client"},
		{"snap", "run", "spotify"},
	},
	"darwin": {
		{"open", "-a", "Spotify"},
	},
	"windows": {
		{"cmd", "/C", "start", "spotify:"},
	},
}

// LaunchApp starts the native Spotify client for the current platform.
func LaunchApp(ctx context.Context) error {
	candidates, ok := launchCandidates[runtime.GOOS]
	if !ok {
		return fmt.Errorf("no known way to launch spotify on %s", runtime.GOOS)
	}

	for _, argv := range candidates {
		if _, err := exec.LookPath(argv[0]); err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		if err := cmd.Start(); err != nil {
			log.Debug("Launch attempt failed", "argv", argv, "err", err)
			continue
		}
		go cmd.Wait()
		log.Info("Launched Spotify", "argv", argv)
		return nil
	}

	return fmt.Errorf("no spotify launcher found on %s", runtime.GOOS)
}

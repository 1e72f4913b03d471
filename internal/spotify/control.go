// Package spotify implements playback control on the Spotify Web API,
// including recovery when no output device is active: launch the native
// client, wait for it to register, retry the action once.
package spotify

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	spot "github.com/zmb3/spotify/v2"

	"maestro/internal/assistant"
)

const (
	searchLimit      = 3
	maxDeviceRetries = 10
	devicePollDelay  = 3 * time.Second
)

// ErrNoTrackFound is returned by PlaySpecific when the search comes up empty.
var ErrNoTrackFound = assistant.ErrNoTrackFound

type notifier interface {
	Notify(title, message, icon, urgency string, timeoutMs int)
}

// Controller drives playback through an authenticated Web API client.
type Controller struct {
	client   *spot.Client
	notifier notifier
}

func NewController(client *spot.Client, n notifier) *Controller {
	return &Controller{client: client, notifier: n}
}

// Verify confirms the credentials work before the assistant starts.
func (c *Controller) Verify(ctx context.Context) error {
	if _, err := c.client.CurrentUser(ctx); err != nil {
		return fmt.Errorf("spotify credentials rejected: %w", err)
	}
	log.Info("Spotify connected")
	return nil
}

func (c *Controller) Resume(ctx context.Context) error {
	err := c.withDeviceRecovery(ctx, func() error { return c.client.Play(ctx) })
	if err != nil {
		c.notifier.Notify("No active device", "Please start Spotify first", "dialog-warning", "", 0)
		return err
	}
	c.notifier.Notify("Playback resumed", "Music playback resumed", "media-playback-start", "low", 2000)
	return nil
}

func (c *Controller) Pause(ctx context.Context) error {
	if err := c.client.Pause(ctx); err != nil {
		c.notifier.Notify("Pause failed", "Couldn't pause playback", "dialog-error", "", 0)
		return err
	}
	c.notifier.Notify("Playback paused", "Music paused", "media-playback-pause", "low", 2000)
	return nil
}

func (c *Controller) Next(ctx context.Context) error {
	if err := c.client.Next(ctx); err != nil {
		c.notifier.Notify("Skip failed", "Couldn't skip track", "dialog-error", "", 0)
		return err
	}
	c.notifyNowPlaying(ctx, "Next track", "media-skip-forward")
	return nil
}

func (c *Controller) Previous(ctx context.Context) error {
	if err := c.client.Previous(ctx); err != nil {
		c.notifier.Notify("Previous failed", "Couldn't go back", "dialog-error", "", 0)
		return err
	}
	c.notifyNowPlaying(ctx, "Previous track", "media-skip-backward")
	return nil
}

// AdjustVolume shifts the active device's volume by delta percent, clamped to
// [0, 100], and returns the resulting volume.
func (c *Controller) AdjustVolume(ctx context.Context, delta int) (int, error) {
	state, err := c.client.PlayerState(ctx)
	if err != nil {
		c.notifier.Notify("Volume error", "Couldn't adjust volume", "dialog-error", "", 0)
		return 0, err
	}

	volume := state.Device.Volume + delta
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	if err := c.client.Volume(ctx, volume); err != nil {
		c.notifier.Notify("Volume error", "Couldn't adjust volume", "dialog-error", "", 0)
		return 0, err
	}

	c.notifier.Notify(fmt.Sprintf("Volume: %d%%", volume), fmt.Sprintf("Adjusted to %d%%", volume), volumeIcon(volume), "low", 2000)
	return volume, nil
}

// QueryCurrent returns the playing track, or nil when nothing is playing.
func (c *Controller) QueryCurrent(ctx context.Context) (*assistant.TrackInfo, error) {
	current, err := c.client.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		c.notifier.Notify("Info error", "Couldn't get track info", "dialog-error", "", 0)
		return nil, err
	}
	if current == nil || !current.Playing || current.Item == nil {
		c.notifier.Notify("No music playing", "No track playing", "audio-volume-muted", "", 0)
		return nil, nil
	}

	info := trackInfo(current.Item)
	c.notifier.Notify("Current track", fmt.Sprintf("%s\nby %s", info.Name, info.Artist), "audio-volume-high", "", 4000)
	return info, nil
}

// PlaySpecific searches for title and starts the top match.
func (c *Controller) PlaySpecific(ctx context.Context, title string) (*assistant.TrackInfo, error) {
	results, err := c.client.Search(ctx, title, spot.SearchTypeTrack, spot.Limit(searchLimit))
	if err != nil {
		c.notifier.Notify("Playback error", "Failed to search for: "+title, "dialog-error", "", 0)
		return nil, err
	}
	if results.Tracks == nil || len(results.Tracks.Tracks) == 0 {
		c.notifier.Notify("Song not found",
			fmt.Sprintf("No results for: %q\nTry being more specific", title), "dialog-warning", "", 5000)
		return nil, fmt.Errorf("%w: %s", ErrNoTrackFound, title)
	}

	track := results.Tracks.Tracks[0]
	err = c.withDeviceRecovery(ctx, func() error {
		return c.client.PlayOpt(ctx, &spot.PlayOptions{URIs: []spot.URI{track.URI}})
	})
	if err != nil {
		c.notifier.Notify("Playback error", "Failed to play: "+title, "dialog-error", "", 0)
		return nil, err
	}

	info := trackInfo(&track)
	c.notifier.Notify("Now playing",
		fmt.Sprintf("Search: %q\nFound: %s\nArtist: %s", title, info.Name, info.Artist),
		"audio-volume-high", "", 6000)

	if extra := len(results.Tracks.Tracks) - 1; extra > 0 {
		log.Debug("Other matches available", "count", extra)
	}
	return info, nil
}

// withDeviceRecovery runs fn, and on a no-active-device failure launches the
// native client, waits for a device to register, and retries exactly once.
func (c *Controller) withDeviceRecovery(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isNoActiveDevice(err) {
		return err
	}

	log.Info("No active Spotify device, launching the app")
	c.notifier.Notify("Starting Spotify", "No active device found, launching Spotify...", "system-run", "", 4000)

	if lerr := LaunchApp(ctx); lerr != nil {
		log.Warn("Failed to launch Spotify", "err", lerr)
		return err
	}
	if !c.waitForDevice(ctx) {
		return err
	}
	return fn()
}

func (c *Controller) waitForDevice(ctx context.Context) bool {
	for i := 0; i < maxDeviceRetries; i++ {
		devices, err := c.client.PlayerDevices(ctx)
		if err == nil && len(devices) > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(devicePollDelay):
		}
	}
	return false
}

func (c *Controller) notifyNowPlaying(ctx context.Context, title, icon string) {
	current, err := c.client.PlayerCurrentlyPlaying(ctx)
	if err != nil || current == nil || current.Item == nil {
		c.notifier.Notify(title, "", icon, "low", 2000)
		return
	}
	info := trackInfo(current.Item)
	c.notifier.Notify(title,
		fmt.Sprintf("%s\nby %s\nAlbum: %s", info.Name, info.Artist, info.Album), icon, "", 6000)
}

func trackInfo(t *spot.FullTrack) *assistant.TrackInfo {
	info := &assistant.TrackInfo{Name: t.Name, Album: t.Album.Name}
	if len(t.Artists) > 0 {
		info.Artist = t.Artists[0].Name
	}
	return info
}

func isNoActiveDevice(err error) bool {
	var spotErr spot.Error
	if errors.As(err, &spotErr) && spotErr.Status == 404 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no active device")
}

func volumeIcon(volume int) string {
	switch {
	case volume > 66:
		return "audio-volume-high"
	case volume > 33:
		return "audio-volume-medium"
	default:
		return "audio-volume-low"
	}
}

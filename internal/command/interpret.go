// Package command maps transcripts to playback actions. Matching is
// deliberately keyword-based: categories are substring checks and their order
// is load-bearing, since words like "play" and "go" occur inside larger
// phrases.
package command

import (
	"strings"
)

type Kind int

const (
	Unknown Kind = iota
	PlaySpecific
	Resume
	Pause
	Next
	Previous
	Volume
	QueryCurrent
	Quit
)

func (k Kind) String() string {
	switch k {
	case PlaySpecific:
		return "play_specific"
	case Resume:
		return "resume"
	case Pause:
		return "pause"
	case Next:
		return "next"
	case Previous:
		return "previous"
	case Volume:
		return "volume"
	case QueryCurrent:
		return "query_current"
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}

// Action is the interpreter's output. Title is set for PlaySpecific,
// VolumeDelta for Volume.
type Action struct {
	Kind        Kind
	Title       string
	VolumeDelta int
}

const volumeStep = 15

// Filler phrases stripped from a song request. Removal is literal, not
// word-boundary aware.
var titleFillers = []string{"the song", "song called", "track"}

// Interpret lowercases and trims the transcript and applies the fixed rule
// chain, first match wins. An unrecognized transcript yields Kind Unknown.
func Interpret(transcript string) Action {
	s := strings.ToLower(strings.TrimSpace(transcript))

	if strings.Contains(s, "play") && len(strings.Fields(s)) > 1 {
		if title := extractTitle(s); title != "" {
			return Action{Kind: PlaySpecific, Title: title}
		}
	}

	switch {
	case containsAny(s, "play", "start", "resume", "go"):
		return Action{Kind: Resume}
	case containsAny(s, "pause", "stop", "halt"):
		return Action{Kind: Pause}
	case containsAny(s, "next", "skip", "forward"):
		return Action{Kind: Next}
	case containsAny(s, "previous", "back", "last"):
		return Action{Kind: Previous}
	case containsAny(s, "volume up", "louder", "turn up"):
		return Action{Kind: Volume, VolumeDelta: volumeStep}
	case containsAny(s, "volume down", "quieter", "turn down"):
		return Action{Kind: Volume, VolumeDelta: -volumeStep}
	case containsAny(s, "what", "playing", "current", "now"):
		return Action{Kind: QueryCurrent}
	case containsAny(s, "quit", "exit", "bye", "goodbye"):
		return Action{Kind: Quit}
	}

	return Action{Kind: Unknown}
}

// extractTitle takes the text after the first "play" and strips fillers.
func extractTitle(s string) string {
	_, rest, _ := strings.Cut(s, "play")
	for _, filler := range titleFillers {
		rest = strings.ReplaceAll(rest, filler, "")
	}
	return strings.TrimSpace(rest)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

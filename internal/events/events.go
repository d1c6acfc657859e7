// Package events publishes a record of every utterance the bot plays, so
// other services (transcript archivers, moderation tooling, dashboards) can
// follow along without talking to Discord.
//
// Publication is best-effort: failures are logged by the caller and never
// surface to the person who issued the command.
package events

import (
	"context"
	"time"
)

// Kind classifies the origin of a speech event.
type Kind string

const (
	// KindSpeak is a chat speak or speakwith command.
	KindSpeak Kind = "speak"
	// KindRaid is a chat raid command.
	KindRaid Kind = "raid"
	// KindConsole is a line typed on the local console.
	KindConsole Kind = "console"
)

// SpeechEvent describes one playback that was started.
type SpeechEvent struct {
	Kind      Kind      `json:"kind"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	Voice     string    `json:"voice"`
	Language  string    `json:"language,omitempty"`
	Text      string    `json:"text"`
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers speech events.
//
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev SpeechEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements [Publisher].
func (Nop) Publish(context.Context, SpeechEvent) error { return nil }

// Close implements [Publisher].
func (Nop) Close() error { return nil }

var _ Publisher = Nop{}

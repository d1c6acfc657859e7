// Package audio defines the interfaces and types for voice-channel
// connectivity and playback within WeCantTalk.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice channel of a guild and returns a [Connection].
//   - [Connection] is an active voice session in one guild that can be moved to
//     another channel, play one [Track] at a time and be torn down.
//
// Implementations are provided by platform-specific adapter packages
// (e.g., audio/discord). The interfaces are intentionally narrow so the voice
// registry and speech dispatcher stay decoupled from SDK details.
//
// This package lives under pkg/ because external code (other platform
// adapters) is expected to implement [Platform] and [Connection].
package audio

import (
	"context"
	"errors"
)

// ErrDisconnected is returned by [Connection] methods called after
// [Connection.Disconnect].
var ErrDisconnected = errors.New("audio: connection is disconnected")

// Connection represents an active voice session in one guild.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called or the platform drops it, in which
// case [Connection.Connected] reports false.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// GuildID returns the guild this connection belongs to.
	GuildID() string

	// ChannelID returns the voice channel the connection currently occupies.
	ChannelID() string

	// Connected reports whether the underlying voice transport is usable.
	Connected() bool

	// MoveTo relocates the connection to channelID within the same guild.
	// Moving to the current channel is a no-op.
	MoveTo(ctx context.Context, channelID string) error

	// Play starts playing t. Anything currently playing is stopped first and
	// its OnFinish callback fires before Play returns.
	Play(t Track) error

	// Stop halts the current playback. It reports whether something was
	// playing.
	Stop() bool

	// IsPlaying reports whether a track is currently playing.
	IsPlaying() bool

	// Disconnect stops playback and leaves the voice channel. It is safe to
	// call Disconnect more than once; subsequent calls are no-ops and return
	// nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel channelID of guildID and returns an
	// active [Connection]. The supplied ctx governs the connection attempt
	// only.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}

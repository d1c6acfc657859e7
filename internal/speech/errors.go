package speech

import (
	"errors"
	"fmt"
)

// Sentinel errors reported in [Reply.Err].
var (
	// ErrNotInVoice means the requester is not in a voice channel.
	ErrNotInVoice = errors.New("speech: requester is not in a voice channel")

	// ErrEmptyText means there was nothing left to say after sanitising.
	ErrEmptyText = errors.New("speech: nothing to say")

	// ErrNoActiveConnection means a console request found no voice session.
	ErrNoActiveConnection = errors.New("speech: no active voice connection")

	// ErrBusy means every voice session is currently playing.
	ErrBusy = errors.New("speech: voice channel is already playing audio")

	// ErrSessionClosed means the voice session went away while the audio was
	// being synthesised.
	ErrSessionClosed = errors.New("speech: voice session closed during synthesis")
)

// ChannelNotFoundError is returned when a raid targets a channel that is not
// a voice channel of the guild.
type ChannelNotFoundError struct {
	ChannelID string
}

// Error implements the error interface.
func (e *ChannelNotFoundError) Error() string {
	return fmt.Sprintf("speech: voice channel %q not found", e.ChannelID)
}

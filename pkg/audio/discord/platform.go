// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library.
//
// The platform requires an active *discordgo.Session (owned by the bot layer).
// Each call to [Platform.Connect] joins the given voice channel and returns a
// [Connection] that plays audio files: a [Decoder] (ffmpeg by default) turns
// the file into 48 kHz stereo PCM, which is Opus-encoded with gopus and sent
// to Discord in 20 ms frames.
package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/wecanttalk/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Option is a functional option for configuring a Platform.
type Option func(*Platform)

// WithDecoder sets the decoder used by every connection. Defaults to an
// [FFmpegDecoder] running [DefaultFFmpegCommand].
func WithDecoder(d Decoder) Option {
	return func(p *Platform) {
		if d != nil {
			p.decoder = d
		}
	}
}

// Platform implements [audio.Platform] using discordgo voice connections.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	decoder Decoder
}

// New creates a new Discord Platform for the given session.
func New(session *discordgo.Session, opts ...Option) (*Platform, error) {
	p := &Platform{session: session}
	for _, o := range opts {
		o(p)
	}
	if p.decoder == nil {
		dec, err := NewFFmpegDecoder(DefaultFFmpegCommand)
		if err != nil {
			return nil, err
		}
		p.decoder = dec
	}
	return p, nil
}

// Connect joins channelID in guildID and returns an active [audio.Connection].
// The bot joins unmuted and self-deafened: it only ever sends audio.
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(p.session, vc, guildID, channelID, p.decoder), nil
}

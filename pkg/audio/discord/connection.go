package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/wecanttalk/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Tracks are decoded to PCM by a [Decoder],
// encoded to Opus in 20 ms frames and written to the voice connection.
//
// At most one track plays at a time. Connection is safe for concurrent use.
type Connection struct {
	guildID string
	decoder Decoder

	// playMu serialises Play, Stop and Disconnect so a replacement never
	// overlaps the playback it replaces.
	playMu sync.Mutex

	mu        sync.Mutex
	channelID string
	closed    bool
	current   *playback

	closeOnce sync.Once

	// Voice transport hooks. Default to the discordgo voice connection;
	// overridden in tests.
	opusSend     chan<- []byte
	speaking     func(bool) error
	moveVC       func(channelID string) error
	disconnectVC func() error
	alive        func() bool
}

// playback is one running track.
type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// newConnection wraps an already-joined voice connection.
func newConnection(session *discordgo.Session, vc *discordgo.VoiceConnection, guildID, channelID string, dec Decoder) *Connection {
	return &Connection{
		guildID:   guildID,
		channelID: channelID,
		decoder:   dec,
		opusSend:  vc.OpusSend,
		speaking:  vc.Speaking,
		moveVC: func(ch string) error {
			// Joining again on an existing guild connection switches channel.
			_, err := session.ChannelVoiceJoin(guildID, ch, false, true)
			return err
		},
		disconnectVC: vc.Disconnect,
		alive: func() bool {
			session.RLock()
			defer session.RUnlock()
			cur, ok := session.VoiceConnections[guildID]
			return ok && cur == vc
		},
	}
}

// GuildID returns the guild this connection belongs to.
func (c *Connection) GuildID() string { return c.guildID }

// ChannelID returns the voice channel the connection currently occupies.
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Connected reports whether the connection is open and discordgo still holds
// it as the guild's voice connection.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	return c.alive == nil || c.alive()
}

// MoveTo switches the connection to channelID. Playback is not interrupted.
func (c *Connection) MoveTo(_ context.Context, channelID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return audio.ErrDisconnected
	}
	if c.channelID == channelID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.moveVC(channelID); err != nil {
		return fmt.Errorf("discord: move to channel %q: %w", channelID, err)
	}

	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
	return nil
}

// Play stops whatever is playing and starts t.
func (c *Connection) Play(t audio.Track) error {
	fin := audio.NewFinisher(t)

	c.playMu.Lock()
	defer c.playMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		fin.Finish(audio.ErrDisconnected)
		return audio.ErrDisconnected
	}

	c.stopCurrent()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.decoder.Decode(ctx, t.Path)
	if err != nil {
		cancel()
		err = fmt.Errorf("discord: decode %q: %w", t.Path, err)
		fin.Finish(err)
		return err
	}

	pb := &playback{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.current = pb
	c.mu.Unlock()

	go c.run(ctx, pb, stream, fin)
	return nil
}

// Stop halts the current playback and waits for it to wind down.
func (c *Connection) Stop() bool {
	c.playMu.Lock()
	defer c.playMu.Unlock()
	return c.stopCurrent()
}

// IsPlaying reports whether a track is currently playing.
func (c *Connection) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Disconnect stops playback and leaves the voice channel. It is safe to call
// more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		c.playMu.Lock()
		c.stopCurrent()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.playMu.Unlock()

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// stopCurrent cancels the running playback, if any, and blocks until its
// goroutine has exited. Callers must hold playMu.
func (c *Connection) stopCurrent() bool {
	c.mu.Lock()
	pb := c.current
	c.current = nil
	c.mu.Unlock()
	if pb == nil {
		return false
	}
	pb.cancel()
	<-pb.done
	return true
}

// run streams one track until it ends or ctx is cancelled.
func (c *Connection) run(ctx context.Context, pb *playback, stream io.ReadCloser, fin *audio.Finisher) {
	defer close(pb.done)
	defer pb.cancel()

	err := c.stream(ctx, stream)
	if cerr := stream.Close(); cerr != nil && err == nil && ctx.Err() == nil {
		err = fmt.Errorf("discord: decoder exit: %w", cerr)
	}
	if ctx.Err() != nil {
		err = audio.ErrStopped
	}

	c.mu.Lock()
	if c.current == pb {
		c.current = nil
	}
	c.mu.Unlock()

	if err != nil && !errors.Is(err, audio.ErrStopped) {
		slog.Warn("discord: playback failed", "guild_id", c.guildID, "err", err)
	}
	fin.Finish(err)
}

// stream reads PCM frames from r, encodes them to Opus and sends them to the
// voice connection. A trailing partial frame is padded with silence.
func (c *Connection) stream(ctx context.Context, r io.Reader) error {
	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	speaking := false
	defer func() {
		if speaking {
			c.setSpeaking(false)
		}
	}()

	buf := make([]byte, opusFrameBytes)
	for {
		n, rerr := io.ReadFull(r, buf)
		switch {
		case errors.Is(rerr, io.EOF):
			return nil
		case errors.Is(rerr, io.ErrUnexpectedEOF):
			clear(buf[n:])
		case rerr != nil:
			if ctx.Err() != nil {
				return audio.ErrStopped
			}
			return fmt.Errorf("discord: read pcm: %w", rerr)
		}

		if !speaking {
			c.setSpeaking(true)
			speaking = true
		}

		packet, eErr := enc.encode(buf)
		if eErr != nil {
			slog.Warn("discord: opus encode error", "guild_id", c.guildID, "err", eErr)
			continue
		}

		select {
		case c.opusSend <- packet:
		case <-ctx.Done():
			return audio.ErrStopped
		}

		if rerr != nil {
			return nil
		}
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if c.speaking == nil {
		return
	}
	if err := c.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}

// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	platform := &mock.Platform{}
//	conn, err := platform.Connect(ctx, "guild-1", "channel-42")
//	// platform.Connections[0] is the *mock.Connection that was handed out.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wecanttalk/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// It keeps a small amount of state (channel, current track) so that callers
// observe realistic behaviour across calls.
type Connection struct {
	mu sync.Mutex

	// Guild is returned by GuildID.
	Guild string

	// Channel is returned by ChannelID and updated by successful MoveTo calls.
	Channel string

	// Dropped makes Connected report false, simulating a transport that went
	// away without Disconnect being called.
	Dropped bool

	// MoveError is returned by MoveTo when non-nil.
	MoveError error

	// PlayError is returned by Play when non-nil. The track's OnFinish is
	// invoked with the same error.
	PlayError error

	// DisconnectError is returned by the first Disconnect call.
	DisconnectError error

	// MoveCalls records the channel of every MoveTo call that reached the
	// transport (moves to the current channel are not recorded).
	MoveCalls []string

	// PlayCalls records every track passed to Play.
	PlayCalls []audio.Track

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	current      *audio.Track
	finisher     *audio.Finisher
	disconnected bool
}

// NewConnection returns a connected mock in guildID/channelID.
func NewConnection(guildID, channelID string) *Connection {
	return &Connection{Guild: guildID, Channel: channelID}
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Guild
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Channel
}

// Connected implements [audio.Connection].
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected && !c.Dropped
}

// MoveTo implements [audio.Connection].
func (c *Connection) MoveTo(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return audio.ErrDisconnected
	}
	if c.Channel == channelID {
		return nil
	}
	c.MoveCalls = append(c.MoveCalls, channelID)
	if c.MoveError != nil {
		return c.MoveError
	}
	c.Channel = channelID
	return nil
}

// Play implements [audio.Connection]. The previous track, if any, is finished
// with [audio.ErrStopped]. The new track stays "playing" until Stop,
// Disconnect or [Connection.Finish] is called.
func (c *Connection) Play(t audio.Track) error {
	c.mu.Lock()
	c.PlayCalls = append(c.PlayCalls, t)
	if c.disconnected {
		c.mu.Unlock()
		audio.NewFinisher(t).Finish(audio.ErrDisconnected)
		return audio.ErrDisconnected
	}
	if c.PlayError != nil {
		err := c.PlayError
		c.mu.Unlock()
		audio.NewFinisher(t).Finish(err)
		return err
	}
	prev := c.finisher
	c.current = &t
	c.finisher = audio.NewFinisher(t)
	c.mu.Unlock()

	if prev != nil {
		prev.Finish(audio.ErrStopped)
	}
	return nil
}

// Stop implements [audio.Connection].
func (c *Connection) Stop() bool {
	c.mu.Lock()
	c.CallCountStop++
	fin := c.finisher
	c.current, c.finisher = nil, nil
	c.mu.Unlock()

	if fin == nil {
		return false
	}
	fin.Finish(audio.ErrStopped)
	return true
}

// IsPlaying implements [audio.Connection].
func (c *Connection) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Disconnect implements [audio.Connection]. Only the first call returns
// DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	fin := c.finisher
	c.current, c.finisher = nil, nil
	err := c.DisconnectError
	c.mu.Unlock()

	if fin != nil {
		fin.Finish(audio.ErrStopped)
	}
	return err
}

// Finish completes the current track with err, as if playback ended.
// It reports whether a track was playing.
func (c *Connection) Finish(err error) bool {
	c.mu.Lock()
	fin := c.finisher
	c.current, c.finisher = nil, nil
	c.mu.Unlock()
	if fin == nil {
		return false
	}
	fin.Finish(err)
	return true
}

// SetPlaying marks the connection as busy without a real track. Use it to set
// up "already playing" scenarios.
func (c *Connection) SetPlaying(playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if playing {
		c.current = &audio.Track{}
		c.finisher = audio.NewFinisher(audio.Track{})
		return
	}
	c.current, c.finisher = nil, nil
}

// Plays returns a snapshot of PlayCalls.
func (c *Connection) Plays() []audio.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Track, len(c.PlayCalls))
	copy(out, c.PlayCalls)
	return out
}

// Moves returns a snapshot of MoveCalls.
func (c *Connection) Moves() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.MoveCalls))
	copy(out, c.MoveCalls)
	return out
}

// Disconnects returns CallCountDisconnect.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// GuildID is the guildID argument passed to Connect.
	GuildID string
	// ChannelID is the channelID argument passed to Connect.
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectError, if non-nil, is returned by Connect.
	ConnectError error

	// ConnectHook, if set, runs inside Connect before the connection is
	// created. Tests use it to observe or block concurrent connects.
	ConnectHook func(guildID, channelID string)

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Connections holds every connection handed out, in order.
	Connections []*Connection
}

// Connect implements [audio.Platform]. Records the call and returns a fresh
// [*Connection] in guildID/channelID, or ConnectError.
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	hook := p.ConnectHook
	err := p.ConnectError
	p.mu.Unlock()

	if hook != nil {
		hook(guildID, channelID)
	}
	if err != nil {
		return nil, err
	}

	conn := NewConnection(guildID, channelID)
	p.mu.Lock()
	p.Connections = append(p.Connections, conn)
	p.mu.Unlock()
	return conn, nil
}

// Calls returns a snapshot of ConnectCalls.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Last returns the most recently created connection, or nil.
func (p *Platform) Last() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Connections) == 0 {
		return nil
	}
	return p.Connections[len(p.Connections)-1]
}

// Compile-time interface assertions.
var (
	_ audio.Connection = (*Connection)(nil)
	_ audio.Platform   = (*Platform)(nil)
)

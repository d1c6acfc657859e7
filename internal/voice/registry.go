// Package voice keeps track of the bot's voice presence: at most one voice
// session per guild, created, moved and released on demand.
//
// All mutations for one guild are serialised by a per-guild lock held for the
// whole connect, move or release. Operations on different guilds never block
// each other.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wecanttalk/internal/observe"
	"github.com/MrWong99/wecanttalk/pkg/audio"
)

// ErrNoChannel is returned by [Registry.Acquire] when no target voice channel
// was given.
var ErrNoChannel = errors.New("voice: no voice channel given")

// SessionInfo is a point-in-time view of one voice session.
type SessionInfo struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	Playing   bool   `json:"playing"`

	// Connected is false once the transport has dropped. The session stays
	// listed until the next Acquire replaces it.
	Connected bool `json:"connected"`
}

// room is the registry slot of one guild. Rooms are created on first use and
// never removed, so the per-guild lock stays stable.
type room struct {
	mu   sync.Mutex
	conn audio.Connection
}

// Registry maps guilds to their voice session. It is safe for concurrent use.
type Registry struct {
	platform audio.Platform
	metrics  *observe.Metrics

	mu    sync.Mutex
	rooms map[string]*room
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry creates an empty Registry that joins voice channels through
// platform.
func NewRegistry(platform audio.Platform, opts ...Option) *Registry {
	r := &Registry{
		platform: platform,
		rooms:    make(map[string]*room),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// roomFor returns the slot for guildID, creating it when needed.
func (r *Registry) roomFor(guildID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[guildID]
	if !ok {
		rm = &room{}
		r.rooms[guildID] = rm
	}
	return rm
}

// lookup returns the slot for guildID without creating it.
func (r *Registry) lookup(guildID string) (*room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[guildID]
	return rm, ok
}

// Acquire ensures the bot is present in channelID of guildID and returns the
// guild's connection:
//
//   - no session: connect to channelID;
//   - session in another channel: move it to channelID;
//   - session already in channelID: returned unchanged.
//
// A session whose transport has silently gone away is disconnected and
// replaced by a fresh connection.
func (r *Registry) Acquire(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if channelID == "" {
		return nil, ErrNoChannel
	}

	rm := r.roomFor(guildID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	log := observe.Logger(ctx).With("guild_id", guildID, "channel_id", channelID)

	if rm.conn != nil && !rm.conn.Connected() {
		log.Warn("voice session went stale, reconnecting", "old_channel_id", rm.conn.ChannelID())
		if err := rm.conn.Disconnect(); err != nil {
			log.Debug("disconnect stale voice session", "err", err)
		}
		rm.conn = nil
		r.metrics.ActiveSessions.Add(ctx, -1)
	}

	if rm.conn == nil {
		conn, err := r.platform.Connect(ctx, guildID, channelID)
		if err != nil {
			return nil, fmt.Errorf("voice: connect guild %s: %w", guildID, err)
		}
		rm.conn = conn
		r.metrics.ActiveSessions.Add(ctx, 1)
		log.Info("joined voice channel")
		return conn, nil
	}

	if from := rm.conn.ChannelID(); from != channelID {
		if err := rm.conn.MoveTo(ctx, channelID); err != nil {
			return nil, fmt.Errorf("voice: move guild %s: %w", guildID, err)
		}
		r.metrics.VoiceMoves.Add(ctx, 1)
		log.Info("moved voice session", "from_channel_id", from)
	}
	return rm.conn, nil
}

// Get returns the guild's current connection, if any.
func (r *Registry) Get(guildID string) (audio.Connection, bool) {
	rm, ok := r.lookup(guildID)
	if !ok {
		return nil, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.conn == nil {
		return nil, false
	}
	return rm.conn, true
}

// Release disconnects and forgets the guild's session. Releasing a guild
// without a session is a no-op.
func (r *Registry) Release(guildID string) error {
	rm, ok := r.lookup(guildID)
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.conn == nil {
		return nil
	}
	err := rm.conn.Disconnect()
	rm.conn = nil
	r.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("left voice channel", "guild_id", guildID)
	if err != nil {
		return fmt.Errorf("voice: disconnect guild %s: %w", guildID, err)
	}
	return nil
}

// FirstAvailable returns the first session, ordered by guild ID, that is
// connected and not playing. ok is false when there is none.
func (r *Registry) FirstAvailable() (guildID string, conn audio.Connection, ok bool) {
	for _, id := range r.guildIDs() {
		c, found := r.Get(id)
		if !found {
			continue
		}
		if c.Connected() && !c.IsPlaying() {
			return id, c, true
		}
	}
	return "", nil, false
}

// Sessions returns a snapshot of every live session, ordered by guild ID.
func (r *Registry) Sessions() []SessionInfo {
	var out []SessionInfo
	for _, id := range r.guildIDs() {
		c, ok := r.Get(id)
		if !ok {
			continue
		}
		out = append(out, SessionInfo{
			GuildID:   id,
			ChannelID: c.ChannelID(),
			Playing:   c.IsPlaying(),
			Connected: c.Connected(),
		})
	}
	return out
}

// Close releases every session concurrently and returns the joined
// disconnect errors.
func (r *Registry) Close() error {
	ids := r.guildIDs()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.Release(id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// guildIDs returns the IDs of all known rooms, sorted.
func (r *Registry) guildIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

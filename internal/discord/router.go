package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/wecanttalk/internal/observe"
)

// defaultCommandTimeout bounds a single command, synthesis included.
const defaultCommandTimeout = 30 * time.Second

// Message is a parsed chat command.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	AuthorID  string

	// Command is the command name as typed, without the prefix.
	Command string

	// Args is everything after the command name, trimmed.
	Args string

	// Mentions maps mentioned user IDs to display names.
	Mentions map[string]string
}

// Fields splits Args on whitespace.
func (m *Message) Fields() []string {
	return strings.Fields(m.Args)
}

// SplitArgs returns the first n-1 whitespace-separated arguments and the
// untouched remainder as the last element. It returns fewer than n elements
// when Args is too short.
func (m *Message) SplitArgs(n int) []string {
	var out []string
	rest := m.Args
	for len(out) < n-1 {
		rest = strings.TrimLeft(rest, " \t\n")
		if rest == "" {
			return out
		}
		end := strings.IndexAny(rest, " \t\n")
		if end < 0 {
			return append(out, rest)
		}
		out = append(out, rest[:end])
		rest = rest[end:]
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		out = append(out, rest)
	}
	return out
}

// HandlerFunc handles one command and returns the reply text. An empty reply
// sends nothing.
type HandlerFunc func(ctx context.Context, m *Message) string

// Command describes a chat command.
type Command struct {
	// Name is matched case-insensitively.
	Name string

	// Usage is the argument synopsis shown when fewer than MinArgs
	// arguments are given, e.g. "<voice> <message>".
	Usage string

	// Description is shown in the help text.
	Description string

	// MinArgs is the minimum number of whitespace-separated arguments.
	MinArgs int

	Handler HandlerFunc
}

// DisplayNameFunc resolves how a mentioned user is spoken.
type DisplayNameFunc func(guildID string, u *discordgo.User) string

// Router dispatches prefixed chat messages to registered commands.
type Router struct {
	prefix  string
	sender  MessageSender
	names   DisplayNameFunc
	timeout time.Duration

	mu       sync.RWMutex
	commands map[string]Command
	order    []string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDisplayNames sets the mention resolver. Defaults to [UserDisplayName].
func WithDisplayNames(fn DisplayNameFunc) RouterOption {
	return func(r *Router) {
		if fn != nil {
			r.names = fn
		}
	}
}

// WithCommandTimeout bounds every command. Defaults to 30s.
func WithCommandTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRouter creates a router for commands starting with prefix whose replies
// are sent through sender.
func NewRouter(prefix string, sender MessageSender, opts ...RouterOption) *Router {
	r := &Router{
		prefix:   prefix,
		sender:   sender,
		names:    func(_ string, u *discordgo.User) string { return UserDisplayName(u) },
		timeout:  defaultCommandTimeout,
		commands: make(map[string]Command),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Register adds or replaces a command.
func (r *Router) Register(cmd Command) {
	key := strings.ToLower(cmd.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[key]; !ok {
		r.order = append(r.order, key)
	}
	r.commands[key] = cmd
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.commands[k])
	}
	return out
}

// UsageText formats the usage line of cmd.
func (r *Router) UsageText(cmd Command) string {
	if cmd.Usage == "" {
		return fmt.Sprintf("Usage: `%s%s`", r.prefix, cmd.Name)
	}
	return fmt.Sprintf("Usage: `%s%s %s`", r.prefix, cmd.Name, cmd.Usage)
}

// Handle routes a gateway message. Messages from bots (including selfID),
// direct messages, and messages without the prefix are ignored.
func (r *Router) Handle(ctx context.Context, m *discordgo.MessageCreate, selfID string) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.Author.Bot || m.Author.ID == selfID || m.GuildID == "" {
		return
	}
	msg, cmd, ok := r.parse(m)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "discord.command", trace.WithAttributes(
		attribute.String("command", strings.ToLower(cmd.Name)),
		attribute.String("guild_id", msg.GuildID),
	))
	defer span.End()

	log := observe.Logger(ctx).With("command", cmd.Name, "guild_id", msg.GuildID, "user_id", msg.AuthorID)
	log.Debug("chat command received")

	var reply string
	if len(msg.Fields()) < cmd.MinArgs {
		reply = r.UsageText(cmd)
	} else {
		reply = r.run(ctx, log, cmd, msg)
	}
	if reply == "" {
		return
	}
	if err := Send(r.sender, msg.ChannelID, reply); err != nil {
		log.Warn("send reply", "err", err)
	}
}

// run calls the handler and converts a panic into a generic reply so one
// bad message cannot take down the gateway goroutine.
func (r *Router) run(ctx context.Context, log *slog.Logger, cmd Command, msg *Message) (reply string) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("command panicked", "panic", p)
			reply = "An unexpected error occurred."
		}
	}()
	return cmd.Handler(ctx, msg)
}

// parse extracts the command from m. ok is false when m is not a known
// command.
func (r *Router) parse(m *discordgo.MessageCreate) (*Message, Command, bool) {
	content := strings.TrimSpace(m.Content)
	if r.prefix == "" || !strings.HasPrefix(content, r.prefix) {
		return nil, Command{}, false
	}
	rest := content[len(r.prefix):]
	name := rest
	args := ""
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		name, args = rest[:i], strings.TrimSpace(rest[i:])
	}
	if name == "" {
		return nil, Command{}, false
	}

	r.mu.RLock()
	cmd, ok := r.commands[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, Command{}, false
	}

	msg := &Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Command:   name,
		Args:      args,
	}
	if len(m.Mentions) > 0 {
		msg.Mentions = make(map[string]string, len(m.Mentions))
		for _, u := range m.Mentions {
			if u == nil {
				continue
			}
			msg.Mentions[u.ID] = r.names(m.GuildID, u)
		}
	}
	return msg, cmd, true
}

// Package commands implements the WeCantTalk chat commands.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/wecanttalk/internal/discord"
	"github.com/MrWong99/wecanttalk/internal/speech"
)

// Speaker is the speech pipeline behind the commands. It is satisfied by
// [*speech.Dispatcher].
type Speaker interface {
	Speak(ctx context.Context, req speech.SpeakRequest) speech.Reply
	Raid(ctx context.Context, req speech.RaidRequest) speech.Reply
	Stop(ctx context.Context, guildID string) speech.Reply
	Voices(ctx context.Context) speech.Reply
	SetLanguage(code string) speech.Reply
	Language() string
}

// VoiceLocator finds the voice channel a user is currently in.
type VoiceLocator interface {
	UserVoiceChannel(guildID, userID string) string
}

var _ Speaker = (*speech.Dispatcher)(nil)

// SpeechCommands holds the dependencies for the speech chat commands.
type SpeechCommands struct {
	speaker Speaker
	voices  VoiceLocator
	router  *discord.Router
}

// NewSpeechCommands creates a SpeechCommands and registers its commands with
// router.
func NewSpeechCommands(router *discord.Router, speaker Speaker, voices VoiceLocator) *SpeechCommands {
	sc := &SpeechCommands{
		speaker: speaker,
		voices:  voices,
		router:  router,
	}
	sc.Register(router)
	return sc
}

// Register registers every speech command with router.
func (sc *SpeechCommands) Register(router *discord.Router) {
	router.Register(discord.Command{
		Name:        "speak",
		Usage:       "<message>",
		Description: "Speak a message using the default voice.",
		MinArgs:     1,
		Handler:     sc.handleSpeak,
	})
	router.Register(discord.Command{
		Name:        "speakwith",
		Usage:       "<voice> <message>",
		Description: "Use a specific voice to speak.",
		MinArgs:     2,
		Handler:     sc.handleSpeakWith,
	})
	router.Register(discord.Command{
		Name:        "listvoices",
		Description: "Show available voices from the API.",
		Handler:     sc.handleListVoices,
	})
	router.Register(discord.Command{
		Name:        "stop",
		Description: "Stop the current playback in voice chat.",
		Handler:     sc.handleStop,
	})
	router.Register(discord.Command{
		Name:        "raid",
		Usage:       "<channel_id> <message>",
		Description: "Speak a message in a specific voice channel by ID.",
		MinArgs:     2,
		Handler:     sc.handleRaid,
	})
	router.Register(discord.Command{
		Name:        "setlang",
		Usage:       "<lang_code|none>",
		Description: "Set or reset the language for speech generation.",
		MinArgs:     1,
		Handler:     sc.handleSetLang,
	})
	router.Register(discord.Command{
		Name:        "WeCantTalk",
		Description: "Show this help.",
		Handler:     sc.handleHelp,
	})
}

func (sc *SpeechCommands) handleSpeak(ctx context.Context, m *discord.Message) string {
	return sc.speaker.Speak(ctx, speech.SpeakRequest{
		GuildID:   m.GuildID,
		ChannelID: sc.voices.UserVoiceChannel(m.GuildID, m.AuthorID),
		Text:      m.Args,
		Mentions:  m.Mentions,
		RequestID: m.ID,
	}).Message
}

func (sc *SpeechCommands) handleSpeakWith(ctx context.Context, m *discord.Message) string {
	args := m.SplitArgs(2)
	return sc.speaker.Speak(ctx, speech.SpeakRequest{
		GuildID:   m.GuildID,
		ChannelID: sc.voices.UserVoiceChannel(m.GuildID, m.AuthorID),
		Voice:     args[0],
		Text:      args[1],
		Mentions:  m.Mentions,
		RequestID: m.ID,
	}).Message
}

func (sc *SpeechCommands) handleListVoices(ctx context.Context, _ *discord.Message) string {
	return sc.speaker.Voices(ctx).Message
}

func (sc *SpeechCommands) handleStop(ctx context.Context, m *discord.Message) string {
	return sc.speaker.Stop(ctx, m.GuildID).Message
}

func (sc *SpeechCommands) handleRaid(ctx context.Context, m *discord.Message) string {
	args := m.SplitArgs(2)
	return sc.speaker.Raid(ctx, speech.RaidRequest{
		GuildID:   m.GuildID,
		ChannelID: channelID(args[0]),
		Text:      args[1],
		Mentions:  m.Mentions,
		RequestID: m.ID,
	}).Message
}

func (sc *SpeechCommands) handleSetLang(_ context.Context, m *discord.Message) string {
	return sc.speaker.SetLanguage(m.Fields()[0]).Message
}

func (sc *SpeechCommands) handleHelp(_ context.Context, _ *discord.Message) string {
	var b strings.Builder
	b.WriteString("**WeCantTalk Bot Commands:**\n")
	for _, cmd := range sc.router.Commands() {
		if strings.EqualFold(cmd.Name, "WeCantTalk") {
			continue
		}
		syn := sc.router.Prefix() + cmd.Name
		if cmd.Usage != "" {
			syn += " " + helpUsage(cmd.Usage)
		}
		fmt.Fprintf(&b, "**%s** – %s\n", syn, cmd.Description)
	}
	b.WriteString("\n")
	if lang := sc.speaker.Language(); lang != "" {
		fmt.Fprintf(&b, "Current language: `%s`", lang)
	} else {
		b.WriteString("Language: Default")
	}
	return b.String()
}

// helpUsage renders "<a> <b>" as "[a] [b]".
func helpUsage(usage string) string {
	return strings.NewReplacer("<", "[", ">", "]").Replace(usage)
}

// channelID accepts a raw ID or a channel mention such as <#123>.
func channelID(arg string) string {
	if strings.HasPrefix(arg, "<#") && strings.HasSuffix(arg, ">") {
		return arg[2 : len(arg)-1]
	}
	return arg
}

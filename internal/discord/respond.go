package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// maxMessageLen is Discord's limit for message content, in characters.
const maxMessageLen = 2000

// MessageSender is the subset of [*discordgo.Session] used to reply.
type MessageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ MessageSender = (*discordgo.Session)(nil)

// Send posts content to channelID, split into as many messages as the length
// limit requires. It stops at the first error.
func Send(s MessageSender, channelID, content string) error {
	for _, part := range SplitMessage(content, maxMessageLen) {
		if _, err := s.ChannelMessageSend(channelID, part); err != nil {
			return err
		}
	}
	return nil
}

// SplitMessage cuts content into chunks of at most limit characters,
// preferring to break after a newline, then after ", ", then after a space.
func SplitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}
	var parts []string
	for len(runes) > limit {
		window := string(runes[:limit])
		cut := -1
		for _, sep := range []string{"\n", ", ", " "} {
			if i := strings.LastIndex(window, sep); i > 0 {
				cut = len([]rune(window[:i+len(sep)]))
				break
			}
		}
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

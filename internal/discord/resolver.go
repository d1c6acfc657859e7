package discord

import "github.com/bwmarrin/discordgo"

// StateResolver answers guild questions from the gateway state cache. It
// never calls the REST API.
type StateResolver struct {
	state *discordgo.State
}

// NewStateResolver returns a resolver over state.
func NewStateResolver(state *discordgo.State) *StateResolver {
	return &StateResolver{state: state}
}

// VoiceChannelExists reports whether channelID is a voice channel of guildID.
func (r *StateResolver) VoiceChannelExists(guildID, channelID string) bool {
	if r.state == nil || channelID == "" {
		return false
	}
	ch, err := r.state.Channel(channelID)
	if err != nil {
		return false
	}
	return ch.GuildID == guildID && ch.Type == discordgo.ChannelTypeGuildVoice
}

// UserVoiceChannel returns the voice channel userID is connected to in
// guildID, or "" when they are not in voice.
func (r *StateResolver) UserVoiceChannel(guildID, userID string) string {
	if r.state == nil {
		return ""
	}
	vs, err := r.state.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// DisplayName returns the guild nickname of u when cached, falling back to
// [UserDisplayName].
func (r *StateResolver) DisplayName(guildID string, u *discordgo.User) string {
	if r.state != nil {
		if m, err := r.state.Member(guildID, u.ID); err == nil && m.Nick != "" {
			return m.Nick
		}
	}
	return UserDisplayName(u)
}

// UserDisplayName returns the global display name of u, or the username when
// none is set.
func UserDisplayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

package speech

import "strings"

// SanitizeMentions replaces user mention tokens (<@id> and <@!id>) of known
// users with their display names. names maps user IDs to display names.
// Unknown or malformed tokens are left untouched, and text without mentions
// is returned unchanged.
func SanitizeMentions(text string, names map[string]string) string {
	if len(names) == 0 || !strings.Contains(text, "<@") {
		return text
	}
	pairs := make([]string, 0, len(names)*4)
	for id, name := range names {
		if id == "" {
			continue
		}
		pairs = append(pairs, "<@"+id+">", name, "<@!"+id+">", name)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

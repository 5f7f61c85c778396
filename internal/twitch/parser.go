package twitch

import (
	"strings"
	"time"

	"github.com/gempir/go-twitch-irc/v4"
	"github.com/samber/lo"

	"github.com/john/multichat/internal/message"
)

// parseLine parses one IRC line. It never panics: a line the parser
// chokes on is reported as not ok and skipped by the caller.
//
// go-twitch-irc only accepts badge entries of the form name/version, so the
// badge tags are blanked before parsing and the raw badges value is put
// back on PRIVMSG tags for parseBadges.
func parseLine(line string) (msg twitch.Message, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			msg, ok = nil, false
		}
	}()

	line, badges := stripBadgeTags(line)
	msg = twitch.ParseMessage(line)
	if privmsg, isPrivmsg := msg.(*twitch.PrivateMessage); isPrivmsg {
		if privmsg.Tags == nil {
			privmsg.Tags = make(map[string]string)
		}
		privmsg.Tags["badges"] = badges
	}
	return msg, msg != nil
}

// stripBadgeTags empties the badges and badge-info values of a tagged line
// and returns the line along with the original badges value.
func stripBadgeTags(line string) (string, string) {
	if !strings.HasPrefix(line, "@") {
		return line, ""
	}
	tags, rest, found := strings.Cut(line[1:], " ")
	if !found {
		return line, ""
	}

	var badges string
	parts := strings.Split(tags, ";")
	for i, part := range parts {
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "badges":
			badges = value
			parts[i] = key + "="
		case "badge-info":
			parts[i] = key + "="
		}
	}
	return "@" + strings.Join(parts, ";") + " " + rest, badges
}

// ParseChatLine returns the ChatEvent carried by a PRIVMSG line. Any other
// line, or a line that does not parse, yields false.
func ParseChatLine(line string, now time.Time) (message.ChatEvent, bool) {
	msg, ok := parseLine(line)
	if !ok {
		return message.ChatEvent{}, false
	}
	privmsg, ok := msg.(*twitch.PrivateMessage)
	if !ok {
		return message.ChatEvent{}, false
	}
	return normalize(privmsg, now)
}

// normalize maps a PRIVMSG to a ChatEvent. The display-name tag wins over
// the sender login.
func normalize(msg *twitch.PrivateMessage, now time.Time) (message.ChatEvent, bool) {
	username := msg.User.DisplayName
	if username == "" {
		username = msg.User.Name
	}

	return message.Normalize(message.Twitch, username, msg.Message, msg.User.Color, parseBadges(msg.Tags["badges"]), now)
}

// parseBadges turns "moderator/1,subscriber/12" into [moderator subscriber],
// keeping tag order.
func parseBadges(tag string) []string {
	if tag == "" {
		return []string{}
	}
	return lo.FilterMap(strings.Split(tag, ","), func(entry string, _ int) (string, bool) {
		kind, _, _ := strings.Cut(entry, "/")
		return kind, kind != ""
	})
}

func isLoginFailure(notice string) bool {
	return strings.Contains(notice, "Login authentication failed") ||
		strings.Contains(notice, "Improperly formatted auth")
}

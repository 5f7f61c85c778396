package message

import (
	"strings"
	"time"
)

// Platform identifies the chat platform an event came from
type Platform string

const (
	Twitch   Platform = "twitch"
	YouTube  Platform = "youtube"
	Kick     Platform = "kick"
	Joystick Platform = "joystick"
)

// Platforms lists every supported platform in display order
var Platforms = []Platform{Twitch, YouTube, Kick, Joystick}

// UnknownUser is the display name used when a payload carries none
const UnknownUser = "Unknown"

// Valid reports whether p is one of the supported platforms
func (p Platform) Valid() bool {
	switch p {
	case Twitch, YouTube, Kick, Joystick:
		return true
	}
	return false
}

// ChatEvent is a normalized chat message from any platform (Twitch, YouTube, Kick, Joystick)
type ChatEvent struct {
	Platform Platform `json:"platform" validate:"required"` // Platform tag
	Username string   `json:"username" validate:"required"` // Display name
	Message  string   `json:"message" validate:"required"`  // Chat message content
	Color    *string  `json:"color"`                        // Hex color, null when unknown
	Badges   []string `json:"badges"`                       // Badge tags in source order
	TS       int64    `json:"ts"`                           // Unix milliseconds, assigned locally
}

// Normalize builds a ChatEvent from platform-specific fields. It returns false
// when the message text is empty, in which case the payload must be dropped.
func Normalize(platform Platform, username, text, color string, badges []string, now time.Time) (ChatEvent, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatEvent{}, false
	}

	if username == "" {
		username = UnknownUser
	}

	ev := ChatEvent{
		Platform: platform,
		Username: username,
		Message:  text,
		Badges:   badges,
		TS:       now.UnixMilli(),
	}
	if color != "" {
		ev.Color = &color
	}
	if ev.Badges == nil {
		ev.Badges = []string{}
	}

	return ev, true
}

package credentials

import (
	"golang.org/x/oauth2"

	"github.com/john/multichat/internal/config"
)

var (
	// TwitchEndpoint is Twitch's OAuth endpoint; client credentials go in the form body
	TwitchEndpoint = oauth2.Endpoint{
		AuthURL:   "https://id.twitch.tv/oauth2/authorize",
		TokenURL:  "https://id.twitch.tv/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}

	// JoystickEndpoint is Joystick's OAuth endpoint; client credentials go in a Basic header
	JoystickEndpoint = oauth2.Endpoint{
		AuthURL:   "https://joystick.tv/api/oauth/authorize",
		TokenURL:  "https://joystick.tv/api/oauth/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
)

// TwitchOAuth builds the OAuth client config for the Twitch chat bot
func TwitchOAuth(cfg config.TwitchConfig, publicURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     TwitchEndpoint,
		RedirectURL:  publicURL + "/twitch/callback",
		Scopes:       []string{"chat:read", "chat:edit"},
	}
}

// JoystickOAuth builds the OAuth client config for the Joystick bot
func JoystickOAuth(cfg config.JoystickConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     JoystickEndpoint,
		Scopes:       []string{"bot"},
	}
}

// JoystickRedirect is sent on code exchange; Joystick requires the
// parameter but does not check it against a registered URL.
var JoystickRedirect = oauth2.SetAuthURLParam("redirect_uri", "unused")

package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gempir/go-twitch-irc/v4"
	"github.com/gorilla/websocket"

	"github.com/john/multichat/internal/config"
	"github.com/john/multichat/internal/credentials"
	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/supervisor"
)

// DefaultServerURL is Twitch's IRC-over-WebSocket endpoint
const DefaultServerURL = "wss://irc-ws.chat.twitch.tv:443"

// anonymousNick is used when the bot login cannot be determined
const anonymousNick = "justinfan12345"

// errReconnectRequested is returned when the server asks us to reconnect
var errReconnectRequested = errors.New("server requested reconnect")

// Connector manages the Twitch chat connection
type Connector struct {
	channel   string
	clientID  string
	authURL   string
	serverURL string
	helixURL  string

	creds      *credentials.Store
	httpClient *http.Client
	dialer     *websocket.Dialer
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Connector
type Option func(*Connector)

// WithServerURL overrides the IRC WebSocket endpoint
func WithServerURL(url string) Option {
	return func(c *Connector) { c.serverURL = url }
}

// WithHelixURL overrides the Helix API base
func WithHelixURL(url string) Option {
	return func(c *Connector) { c.helixURL = url }
}

// WithHTTPClient sets the client used for Helix lookups
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) { c.httpClient = client }
}

// New creates a new Twitch connector. authURL is shown to the operator
// while no access token is available.
func New(cfg config.TwitchConfig, creds *credentials.Store, authURL string, opts ...Option) *Connector {
	c := &Connector{
		channel:    cfg.NormalizedChannel(),
		clientID:   cfg.ClientID,
		authURL:    authURL,
		serverURL:  DefaultServerURL,
		helixURL:   DefaultHelixURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		now:        time.Now,
		log:        slog.Default().With("platform", string(message.Twitch)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns message.Twitch
func (c *Connector) Platform() message.Platform {
	return message.Twitch
}

// Run connects, joins the channel and reads chat until the connection drops
func (c *Connector) Run(ctx context.Context, emit supervisor.Sink) error {
	creds := c.creds.Snapshot()
	if creds.AccessToken == "" {
		return fmt.Errorf("%w: visit %s to authorize", supervisor.ErrNotAuthorized, c.authURL)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial twitch irc: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	nick := c.identity(ctx, creds)
	handshake := []string{
		"PASS oauth:" + creds.AccessToken,
		"NICK " + nick,
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"JOIN #" + c.channel,
	}
	for _, line := range handshake {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return fmt.Errorf("send handshake: %w", err)
		}
	}
	c.log.Info("connected", "channel", "#"+c.channel, "nick", nick)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read twitch irc: %w", err)
		}

		for _, line := range strings.Split(string(data), "\r\n") {
			if line == "" {
				continue
			}
			if err := c.handleLine(conn, line, emit); err != nil {
				return err
			}
		}
	}
}

// handleLine processes one IRC line. A non-nil error ends the session.
func (c *Connector) handleLine(conn *websocket.Conn, line string, emit supervisor.Sink) error {
	msg, ok := parseLine(line)
	if !ok {
		return nil
	}

	switch m := msg.(type) {
	case *twitch.PingMessage:
		payload := m.Message
		if payload == "" {
			payload = "tmi.twitch.tv"
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte("PONG :"+payload)); err != nil {
			return fmt.Errorf("send pong: %w", err)
		}

	case *twitch.NoticeMessage:
		if isLoginFailure(m.Message) {
			c.log.Warn("auth failed, attempting token refresh", "notice", m.Message)
			return fmt.Errorf("%w: %s", supervisor.ErrAuthFailed, m.Message)
		}

	case *twitch.ReconnectMessage:
		return errReconnectRequested

	case *twitch.PrivateMessage:
		if ev, ok := normalize(m, c.now()); ok {
			emit(ev)
		}
	}

	return nil
}

// identity returns the bot login, looking it up once when the store has none
func (c *Connector) identity(ctx context.Context, creds credentials.Credentials) string {
	if creds.Identity != "" {
		return creds.Identity
	}

	login, err := LookupLogin(ctx, c.httpClient, c.helixURL, c.clientID, creds.AccessToken)
	if err != nil {
		c.log.Warn("failed to fetch bot username", "error", err)
		return anonymousNick
	}

	c.creds.SetIdentity(login)
	return login
}

// Package joystick reads Joystick.tv chat from the ActionCable gateway.
package joystick

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/john/multichat/internal/config"
	"github.com/john/multichat/internal/credentials"
	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/supervisor"
)

const (
	// DefaultCableURL is the ActionCable endpoint
	DefaultCableURL = "wss://joystick.tv/cable"

	// Subprotocol is the ActionCable JSON subprotocol
	Subprotocol = "actioncable-v1-json"
)

// gatewayIdentifier is the channel identifier, itself a JSON document
const gatewayIdentifier = `{"channel":"GatewayChannel"}`

// frame is an ActionCable envelope. Protocol frames carry Type; channel
// broadcasts carry Identifier and Message.
type frame struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Reason     string          `json:"reason"`
	Message    json.RawMessage `json:"message"`
}

// ChatMessage is a gateway broadcast
type ChatMessage struct {
	Event  string `json:"event"`
	Type   string `json:"type"`
	Text   string `json:"text"`
	Author struct {
		Username      string `json:"username"`
		UsernameColor string `json:"usernameColor"`
		IsStreamer    bool   `json:"isStreamer"`
		IsModerator   bool   `json:"isModerator"`
		IsSubscriber  bool   `json:"isSubscriber"`
	} `json:"author"`
}

// Connector manages the Joystick gateway connection
type Connector struct {
	clientID     string
	clientSecret string
	authURL      string
	cableURL     string

	creds  *credentials.Store
	dialer *websocket.Dialer
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a Connector
type Option func(*Connector)

// WithCableURL overrides the ActionCable endpoint
func WithCableURL(url string) Option {
	return func(c *Connector) { c.cableURL = url }
}

// New creates a new Joystick connector. authURL is shown to the operator
// while no access token is available.
func New(cfg config.JoystickConfig, creds *credentials.Store, authURL string, opts ...Option) *Connector {
	c := &Connector{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		authURL:      authURL,
		cableURL:     DefaultCableURL,
		creds:        creds,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
			Subprotocols:     []string{Subprotocol},
		},
		now: time.Now,
		log: slog.Default().With("platform", string(message.Joystick)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns message.Joystick
func (c *Connector) Platform() message.Platform {
	return message.Joystick
}

// BasicKey is base64(client_id:client_secret), used both as the gateway
// token and as the token endpoint's Basic credential.
func (c *Connector) BasicKey() string {
	return base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
}

// Run connects, subscribes to the gateway and reads chat until the
// connection drops.
func (c *Connector) Run(ctx context.Context, emit supervisor.Sink) error {
	if !c.creds.HasToken() {
		return fmt.Errorf("%w: visit %s to authorize", supervisor.ErrNotAuthorized, c.authURL)
	}

	u, err := url.Parse(c.cableURL)
	if err != nil {
		return fmt.Errorf("%w: parse cable url: %v", supervisor.ErrNonRetryable, err)
	}
	q := u.Query()
	q.Set("token", c.BasicKey())
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial joystick cable: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	subscribe, err := json.Marshal(map[string]string{
		"command":    "subscribe",
		"identifier": gatewayIdentifier,
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, subscribe); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	c.log.Info("connected, subscribing to GatewayChannel")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read joystick cable: %w", err)
		}
		if err := c.handleFrame(data, emit); err != nil {
			return err
		}
	}
}

// handleFrame processes one ActionCable frame. A non-nil error ends the session.
func (c *Connector) handleFrame(data []byte, emit supervisor.Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Debug("dropping frame", "panic", r)
			err = nil
		}
	}()

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}

	switch f.Type {
	case "ping", "welcome":
		return nil
	case "confirm_subscription":
		c.log.Info("subscribed to GatewayChannel")
		return nil
	case "reject_subscription":
		return fmt.Errorf("%w: gateway subscription rejected", supervisor.ErrNonRetryable)
	case "disconnect":
		if f.Reason == "unauthorized" {
			return fmt.Errorf("%w: disconnected: %s", supervisor.ErrNonRetryable, f.Reason)
		}
		return fmt.Errorf("disconnected by server: %s", f.Reason)
	}

	if len(f.Message) == 0 {
		return nil
	}

	var msg ChatMessage
	if err := json.Unmarshal(f.Message, &msg); err != nil {
		return nil
	}
	if msg.Event != "ChatMessage" || msg.Type != "new_message" {
		return nil
	}
	if ev, ok := normalize(msg, c.now()); ok {
		emit(ev)
	}
	return nil
}

func normalize(msg ChatMessage, now time.Time) (message.ChatEvent, bool) {
	badges := []string{}
	if msg.Author.IsStreamer {
		badges = append(badges, "streamer")
	}
	if msg.Author.IsModerator {
		badges = append(badges, "moderator")
	}
	if msg.Author.IsSubscriber {
		badges = append(badges, "subscriber")
	}

	return message.Normalize(message.Joystick, msg.Author.Username, msg.Text, msg.Author.UsernameColor, badges, now)
}

package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/john/multichat/internal/config"
	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/supervisor"
)

const (
	// ChatMessageEvent is the only application event that is normalized
	ChatMessageEvent = `App\Events\ChatMessageEvent`

	// PingInterval is how often a client ping is sent, independent of server pings
	PingInterval = 30 * time.Second

	// LookupRetry is the wait between failed chatroom lookups
	LookupRetry = 30 * time.Second
)

var (
	pingFrame = []byte(`{"event":"pusher:ping","data":{}}`)
	pongFrame = []byte(`{"event":"pusher:pong","data":{}}`)
)

// frame is a Pusher protocol envelope
type frame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Channel string          `json:"channel,omitempty"`
}

type subscribeData struct {
	Auth    string `json:"auth"`
	Channel string `json:"channel"`
}

// ChatMessage is the payload of a ChatMessageEvent
type ChatMessage struct {
	ID         string `json:"id"`
	ChatroomID int    `json:"chatroom_id"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	Sender     struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
		Slug     string `json:"slug"`
		Identity struct {
			Color  string  `json:"color"`
			Badges []Badge `json:"badges"`
		} `json:"identity"`
	} `json:"sender"`
}

// Badge is a Kick chat badge
type Badge struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Count int    `json:"count,omitempty"`
}

// Connector manages the Kick chat connection
type Connector struct {
	channelName  string
	chatroomID   int
	pusherURL    string
	resolver     *Resolver
	pingInterval time.Duration
	lookupRetry  time.Duration

	dialer *websocket.Dialer
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a Connector
type Option func(*Connector)

// WithPusherURL overrides the Pusher WebSocket URL
func WithPusherURL(url string) Option {
	return func(c *Connector) { c.pusherURL = url }
}

// WithResolver overrides the chatroom resolver
func WithResolver(r *Resolver) Option {
	return func(c *Connector) { c.resolver = r }
}

// WithPingInterval overrides the keep-alive interval
func WithPingInterval(d time.Duration) Option {
	return func(c *Connector) { c.pingInterval = d }
}

// WithLookupRetry overrides the wait between chatroom lookups
func WithLookupRetry(d time.Duration) Option {
	return func(c *Connector) { c.lookupRetry = d }
}

// PusherURL builds the Pusher WebSocket URL for an app key and cluster
func PusherURL(key, cluster string) string {
	return fmt.Sprintf("wss://ws-%s.pusher.com/app/%s?protocol=7&client=js&version=7.6.0&flash=false", cluster, key)
}

// New creates a new Kick connector
func New(cfg config.KickConfig, opts ...Option) *Connector {
	c := &Connector{
		channelName:  cfg.ChannelName,
		chatroomID:   cfg.ChatroomID,
		pusherURL:    PusherURL(cfg.PusherKey, cfg.PusherCluster),
		resolver:     NewResolver(),
		pingInterval: PingInterval,
		lookupRetry:  LookupRetry,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		sleep:        supervisor.Sleep,
		now:          time.Now,
		log:          slog.Default().With("platform", string(message.Kick)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns message.Kick
func (c *Connector) Platform() message.Platform {
	return message.Kick
}

// Run subscribes to the chatroom and reads chat until the connection drops.
// The chatroom id is resolved once and kept across reconnects.
func (c *Connector) Run(ctx context.Context, emit supervisor.Sink) error {
	if c.chatroomID == 0 {
		id, err := c.resolveChatroom(ctx)
		if err != nil {
			return err
		}
		c.chatroomID = id
	}

	conn, _, err := c.dialer.DialContext(ctx, c.pusherURL, nil)
	if err != nil {
		return fmt.Errorf("dial pusher: %w", err)
	}
	defer conn.Close()

	subscribe, err := json.Marshal(struct {
		Event string        `json:"event"`
		Data  subscribeData `json:"data"`
	}{
		Event: "pusher:subscribe",
		Data:  subscribeData{Channel: fmt.Sprintf("chatrooms.%d.v2", c.chatroomID)},
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, subscribe); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	c.log.Info("pusher connected, joining chatroom", "chatroom_id", c.chatroomID)

	// The reader goroutine only reads; every write happens below.
	done := make(chan struct{})
	defer close(done)
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("read pusher: %w", err)

		case data := <-frames:
			if reply := c.handleFrame(data, emit); reply != nil {
				if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
					return fmt.Errorf("send pong: %w", err)
				}
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
				return fmt.Errorf("send ping: %w", err)
			}
		}
	}
}

// handleFrame processes one Pusher frame and returns a reply frame, if any.
// Malformed frames are dropped.
func (c *Connector) handleFrame(data []byte, emit supervisor.Sink) (reply []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Debug("dropping frame", "panic", r)
			reply = nil
		}
	}()

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}

	switch f.Event {
	case "pusher:ping":
		return pongFrame
	case "pusher:pong", "pusher:connection_established":
	case "pusher_internal:subscription_succeeded":
		c.log.Info("subscribed", "channel", f.Channel)
	case "pusher:error":
		c.log.Warn("pusher error", "data", string(f.Data))
	case ChatMessageEvent:
		msg, err := decodeChatMessage(f.Data)
		if err != nil {
			return nil
		}
		if ev, ok := normalize(msg, c.now()); ok {
			emit(ev)
		}
	default:
		c.log.Debug("unhandled event", "event", f.Event)
	}

	return nil
}

// decodeChatMessage accepts the payload as an object or as a JSON string
// holding the object.
func decodeChatMessage(data json.RawMessage) (ChatMessage, error) {
	var msg ChatMessage

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return msg, fmt.Errorf("decode wrapped payload: %w", err)
		}
		trimmed = []byte(inner)
	}

	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return msg, fmt.Errorf("decode chat message: %w", err)
	}
	return msg, nil
}

func normalize(msg ChatMessage, now time.Time) (message.ChatEvent, bool) {
	username := msg.Sender.Username
	if username == "" {
		username = msg.Sender.Slug
	}

	badges := lo.Map(msg.Sender.Identity.Badges, func(b Badge, _ int) string { return b.Type })

	return message.Normalize(message.Kick, username, msg.Content, msg.Sender.Identity.Color, badges, now)
}

func (c *Connector) resolveChatroom(ctx context.Context) (int, error) {
	for {
		id, err := c.resolver.Resolve(ctx, c.channelName)
		if err == nil {
			c.log.Info("got chatroom ID", "channel", c.channelName, "chatroom_id", id)
			return id, nil
		}

		c.log.Error("failed to fetch chatroom ID, retrying", "channel", c.channelName, "error", err, "delay", c.lookupRetry)
		if err := c.sleep(ctx, c.lookupRetry); err != nil {
			return 0, err
		}
	}
}

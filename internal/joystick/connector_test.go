package joystick

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/john/multichat/internal/config"
	"github.com/john/multichat/internal/credentials"
	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/supervisor"
)

type handshake struct {
	token       string
	subprotocol string
	subscribe   string
}

// cableServer accepts one client, records the handshake and writes frames
func cableServer(t *testing.T, frames ...string) (string, <-chan handshake) {
	t.Helper()
	seen := make(chan handshake, 1)
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		seen <- handshake{
			token:       r.URL.Query().Get("token"),
			subprotocol: conn.Subprotocol(),
			subscribe:   string(data),
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/cable", seen
}

func newConnector(url string, creds credentials.Credentials) *Connector {
	store := credentials.New(message.Joystick, &oauth2.Config{}, creds)
	c := New(config.JoystickConfig{ClientID: "cid", ClientSecret: "secret"}, store, "http://localhost:3000/joystick/auth", WithCableURL(url))
	c.now = func() time.Time { return time.UnixMilli(99) }
	return c
}

const chatFrame = `{"identifier":"{\"channel\":\"GatewayChannel\"}","message":{"event":"ChatMessage","type":"new_message","text":"hi there","author":{"username":"jo","usernameColor":"#123456","isStreamer":true,"isModerator":false,"isSubscriber":true}}}`

func TestRun_SubscribesAndEmitsChat(t *testing.T) {
	req := require.New(t)
	url, seen := cableServer(t,
		`{"type":"welcome"}`,
		`{"type":"ping","message":1700000000}`,
		`{"identifier":"{\"channel\":\"GatewayChannel\"}","type":"confirm_subscription"}`,
		chatFrame,
		`{"identifier":"{\"channel\":\"GatewayChannel\"}","message":{"event":"StreamEvent","type":"followed"}}`,
		`{"identifier":"{\"channel\":\"GatewayChannel\"}","message":{"event":"ChatMessage","type":"deleted_message","text":"gone"}}`,
	)
	c := newConnector(url, credentials.Credentials{AccessToken: "at"})

	var events []message.ChatEvent
	err := c.Run(context.Background(), func(ev message.ChatEvent) { events = append(events, ev) })
	req.Error(err)
	req.False(errors.Is(err, supervisor.ErrNonRetryable))

	hs := <-seen
	req.Equal("Y2lkOnNlY3JldA==", hs.token)
	req.Equal(Subprotocol, hs.subprotocol)
	req.JSONEq(`{"command":"subscribe","identifier":"{\"channel\":\"GatewayChannel\"}"}`, hs.subscribe)

	req.Len(events, 1)
	req.Equal(message.ChatEvent{
		Platform: message.Joystick,
		Username: "jo",
		Message:  "hi there",
		Color:    &[]string{"#123456"}[0],
		Badges:   []string{"streamer", "subscriber"},
		TS:       99,
	}, events[0])
}

func TestRun_NoTokenIsNotAuthorized(t *testing.T) {
	req := require.New(t)
	c := newConnector("ws://127.0.0.1:1/cable", credentials.Credentials{})

	err := c.Run(context.Background(), func(message.ChatEvent) {})
	req.ErrorIs(err, supervisor.ErrNotAuthorized)
	req.Contains(err.Error(), "http://localhost:3000/joystick/auth")
}

func TestRun_RejectedSubscriptionHalts(t *testing.T) {
	req := require.New(t)
	url, _ := cableServer(t, `{"type":"welcome"}`, `{"type":"reject_subscription","identifier":"{\"channel\":\"GatewayChannel\"}"}`)
	c := newConnector(url, credentials.Credentials{AccessToken: "at"})

	req.ErrorIs(c.Run(context.Background(), func(message.ChatEvent) {}), supervisor.ErrNonRetryable)
}

func TestHandleFrame_Disconnects(t *testing.T) {
	req := require.New(t)
	c := newConnector("", credentials.Credentials{AccessToken: "at"})
	emit := func(message.ChatEvent) {}

	req.ErrorIs(c.handleFrame([]byte(`{"type":"disconnect","reason":"unauthorized","reconnect":false}`), emit), supervisor.ErrNonRetryable)

	err := c.handleFrame([]byte(`{"type":"disconnect","reason":"server_restart","reconnect":true}`), emit)
	req.Error(err)
	req.False(errors.Is(err, supervisor.ErrNonRetryable))
}

func TestHandleFrame_DefaultsAndMalformed(t *testing.T) {
	req := require.New(t)
	c := newConnector("", credentials.Credentials{AccessToken: "at"})
	var events []message.ChatEvent
	emit := func(ev message.ChatEvent) { events = append(events, ev) }

	for _, raw := range []string{
		`{"message":{"event":"ChatMessage","type":"new_message","text":"anon"}}`,
		`{"message":{"event":"ChatMessage","type":"new_message","text":"   ","author":{"username":"x"}}}`,
		`{"message":"not an object"}`,
		`{"message":{"event":"ChatMessage","type":"new_message","author":"bad"}}`,
		`{not json`,
		``,
	} {
		req.NoError(c.handleFrame([]byte(raw), emit), raw)
	}

	req.Len(events, 1)
	req.Equal(message.UnknownUser, events[0].Username)
	req.Nil(events[0].Color)
	req.Equal([]string{}, events[0].Badges)
}

func TestBasicKey(t *testing.T) {
	c := New(config.JoystickConfig{ClientID: "abc", ClientSecret: "xyz"}, nil, "")
	require.Equal(t, "YWJjOnh5eg==", c.BasicKey())
}

// Package youtube polls a YouTube live chat through the Data API.
//
// The adapter resolves the live chat id of the configured video once, then
// pages through liveChatMessages with the continuation cursor. Pages can
// overlap, so every item id passes through a dedup window before it is
// emitted. The poll loop owns its retry delays and only returns when its
// context ends.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/john/multichat/internal/config"
	"github.com/john/multichat/internal/dedup"
	"github.com/john/multichat/internal/message"
	"github.com/john/multichat/internal/supervisor"
)

const (
	// MinPollInterval bounds the request rate regardless of server hints
	MinPollInterval = 2 * time.Second
	// NoChatRetry is the wait when the video has no active live chat
	NoChatRetry = 30 * time.Second
	// APIErrorRetry is the wait after an error reported by the API
	APIErrorRetry = 30 * time.Second
	// FailureRetry is the wait after any other failure
	FailureRetry = 10 * time.Second
)

var (
	messageParts = []string{"snippet", "authorDetails"}
	videoParts   = []string{"liveStreamingDetails"}
)

// Connector manages a YouTube live chat poll loop
type Connector struct {
	videoID string
	svc     *yt.Service
	seen    *dedup.Window
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	log     *slog.Logger

	liveChatID string
	pageToken  string
}

// New creates a connector authenticating with the configured API key.
// Extra client options are appended (tests point the endpoint at a fake).
func New(ctx context.Context, cfg config.YouTubeConfig, opts ...option.ClientOption) (*Connector, error) {
	clientOpts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	svc, err := yt.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	seen, err := dedup.New(dedup.DefaultCapacity)
	if err != nil {
		return nil, err
	}

	return &Connector{
		videoID: cfg.VideoID,
		svc:     svc,
		seen:    seen,
		sleep:   supervisor.Sleep,
		now:     time.Now,
		log:     slog.Default().With("platform", string(message.YouTube)),
	}, nil
}

// Platform returns message.YouTube
func (c *Connector) Platform() message.Platform {
	return message.YouTube
}

// Run polls until ctx is done
func (c *Connector) Run(ctx context.Context, emit supervisor.Sink) error {
	for {
		delay := c.poll(ctx, emit)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// poll performs one cycle and returns how long to wait before the next
func (c *Connector) poll(ctx context.Context, emit supervisor.Sink) time.Duration {
	if c.liveChatID == "" {
		id, err := c.resolveLiveChat(ctx)
		if err != nil {
			return c.failureDelay("resolve live chat", err)
		}
		if id == "" {
			c.log.Info("no active live chat found, retrying", "video_id", c.videoID, "delay", NoChatRetry)
			return NoChatRetry
		}
		c.liveChatID = id
		c.log.Info("connected to live chat", "live_chat_id", id)
	}

	call := c.svc.LiveChatMessages.List(c.liveChatID, messageParts).Context(ctx)
	if c.pageToken != "" {
		call = call.PageToken(c.pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			// The chat session is gone; look it up again next cycle.
			c.liveChatID, c.pageToken = "", ""
		}
		return c.failureDelay("fetch messages", err)
	}

	c.pageToken = resp.NextPageToken
	for _, item := range resp.Items {
		if item == nil || !c.seen.Insert(item.Id) {
			continue
		}
		if ev, ok := normalize(item, c.now()); ok {
			emit(ev)
		}
	}

	return NextDelay(resp.PollingIntervalMillis)
}

func (c *Connector) resolveLiveChat(ctx context.Context) (string, error) {
	resp, err := c.svc.Videos.List(videoParts).Id(c.videoID).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].LiveStreamingDetails == nil {
		return "", nil
	}
	return resp.Items[0].LiveStreamingDetails.ActiveLiveChatId, nil
}

// failureDelay logs err and picks the retry delay for its class
func (c *Connector) failureDelay(op string, err error) time.Duration {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		c.log.Error("API error", "op", op, "code", apiErr.Code, "error", apiErr.Message, "delay", APIErrorRetry)
		return APIErrorRetry
	}
	c.log.Error("poll failed", "op", op, "error", err, "delay", FailureRetry)
	return FailureRetry
}

// NextDelay returns the wait before the next poll: the server's suggestion,
// but never less than MinPollInterval.
func NextDelay(serverIntervalMillis int64) time.Duration {
	return max(time.Duration(serverIntervalMillis)*time.Millisecond, MinPollInterval)
}

func normalize(item *yt.LiveChatMessage, now time.Time) (message.ChatEvent, bool) {
	if item.Snippet == nil {
		return message.ChatEvent{}, false
	}

	var username string
	badges := []string{}
	if author := item.AuthorDetails; author != nil {
		username = author.DisplayName
		if author.IsChatOwner {
			badges = append(badges, "owner")
		}
		if author.IsChatModerator {
			badges = append(badges, "moderator")
		}
		if author.IsChatSponsor {
			badges = append(badges, "member")
		}
	}

	return message.Normalize(message.YouTube, username, item.Snippet.DisplayMessage, "", badges, now)
}

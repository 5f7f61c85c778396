package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultAPIURL is the Kick web API base
const DefaultAPIURL = "https://kick.com"

// ChannelResponse represents the channel lookup response from Kick
type ChannelResponse struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

// Resolver looks up chatroom ids by channel slug
type Resolver struct {
	BaseURL string
	Client  *http.Client
}

// NewResolver creates a resolver against the public Kick API
func NewResolver() *Resolver {
	return &Resolver{
		BaseURL: DefaultAPIURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve fetches channel information and returns its chatroom id
func (r *Resolver) Resolve(ctx context.Context, channelName string) (int, error) {
	url := fmt.Sprintf("%s/api/v2/channels/%s", r.BaseURL, channelName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	// Browser headers; the API sits behind Cloudflare. Accept-Encoding is
	// left to the transport so responses are decompressed transparently.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	resp, err := r.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var channelInfo ChannelResponse
	if err := json.NewDecoder(resp.Body).Decode(&channelInfo); err != nil {
		return 0, fmt.Errorf("JSON decode failed: %w", err)
	}
	if channelInfo.Chatroom.ID == 0 {
		return 0, fmt.Errorf("channel %q has no chatroom", channelName)
	}

	return channelInfo.Chatroom.ID, nil
}

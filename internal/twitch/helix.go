package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultHelixURL is the Twitch Helix API base
const DefaultHelixURL = "https://api.twitch.tv/helix"

type helixUsersResponse struct {
	Data []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"data"`
}

// LookupLogin returns the login name of the user owning accessToken
func LookupLogin(ctx context.Context, client *http.Client, baseURL, clientID, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/users", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", clientID)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var users helixUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return "", fmt.Errorf("JSON decode failed: %w", err)
	}
	if len(users.Data) == 0 || users.Data[0].Login == "" {
		return "", fmt.Errorf("no user returned for token")
	}

	return users.Data[0].Login, nil
}

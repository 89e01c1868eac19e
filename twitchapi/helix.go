// Package twitchapi contains minimal helpers to interact with Twitch
// Helix APIs for user directory lookups and follower pagination, using
// an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chat-roster/telemetry"
)

// ErrRateLimited reports an HTTP 429 from Helix. Callers reschedule
// their remaining work instead of failing.
var ErrRateLimited = errors.New("helix rate limited")

const (
	helixUsersURL   = "https://api.twitch.tv/helix/users"
	helixFollowsURL = "https://api.twitch.tv/helix/users/follows"
)

// User is one Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Follower is one entry from a follower page.
type Follower struct {
	FromID string `json:"from_id"`
}

// HelixClient provides the lookup methods the directory and follower
// pipeline need.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return defaultHTTPClient
}

// UsersByLogin resolves up to 100 login names to user records. Logins
// unknown to Twitch are simply absent from the result.
func (hc *HelixClient) UsersByLogin(ctx context.Context, logins []string) ([]User, error) {
	return hc.users(ctx, "login", logins)
}

// UsersByID resolves up to 100 user ids to user records.
func (hc *HelixClient) UsersByID(ctx context.Context, ids []string) ([]User, error) {
	return hc.users(ctx, "id", ids)
}

func (hc *HelixClient) users(ctx context.Context, param string, keys []string) ([]User, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, k := range keys {
		q.Add(param, k)
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.get(ctx, helixUsersURL, q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// FollowersPage fetches one page of the owner's followers. It returns
// the page entries and the cursor for the next page; an empty cursor
// means the last page was reached.
func (hc *HelixClient) FollowersPage(ctx context.Context, ownerID, after string, first int) ([]Follower, string, error) {
	if ownerID == "" {
		return nil, "", fmt.Errorf("owner id empty")
	}
	if first <= 0 || first > 100 {
		first = 100
	}
	q := url.Values{}
	q.Set("to_id", ownerID)
	q.Set("first", strconv.Itoa(first))
	if after != "" {
		q.Set("after", after)
	}
	var body struct {
		Data       []Follower `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := hc.get(ctx, helixFollowsURL, q, &body); err != nil {
		return nil, "", err
	}
	return body.Data, body.Pagination.Cursor, nil
}

func (hc *HelixClient) get(ctx context.Context, rawURL string, q url.Values, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)

	start := time.Now()
	resp, err := hc.http().Do(req)
	telemetry.ObserveHelixDuration(time.Since(start))
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusTooManyRequests {
		telemetry.IncRateLimitHits()
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix request failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

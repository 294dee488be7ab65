// Package twitchapi contains minimal helpers for the Twitch Helix API: login to user id
// resolution and live-stream lookup, authenticated with an app access token.
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
	"time"
)

const (
	helixBaseURL = "https://api.twitch.tv/helix"
	// helixMaxRetries bounds attempts for 429/5xx/transport errors. A 401 triggers
	// one token refresh that does not count against the budget.
	helixMaxRetries = 3
)

// HelixClient provides the few Helix calls the bot needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client

	// Backoff is the base wait between retries; zero uses 250ms.
	Backoff time.Duration
}

// Stream is a live stream as reported by /helix/streams.
type Stream struct {
	ID          string    `json:"id"`
	UserLogin   string    `json:"user_login"`
	Title       string    `json:"title"`
	GameName    string    `json:"game_name"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string { return fmt.Sprintf("helix status %d: %s", e.code, e.body) }

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) backoff(attempt int) time.Duration {
	base := hc.Backoff
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	return base * time.Duration(attempt)
}

// get performs a GET against path with retries and decodes the JSON body into out.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	refreshed := false
	var lastErr error
	for attempt := 1; attempt <= helixMaxRetries; attempt++ {
		wait, err := hc.once(ctx, path, q, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) {
			switch {
			case se.code == http.StatusUnauthorized && !refreshed:
				refreshed = true
				hc.AppTokenSource.Invalidate()
				attempt--
				continue
			case se.code == http.StatusTooManyRequests, se.code >= 500:
			default:
				return err
			}
		}
		if attempt == helixMaxRetries {
			break
		}
		if wait < 0 {
			wait = hc.backoff(attempt)
		}
		slog.Debug("helix retry", slog.String("path", path), slog.Int("attempt", attempt), slog.Any("err", err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

// once performs a single request. wait is the server-requested delay (Retry-After) or -1.
func (hc *HelixClient) once(ctx context.Context, path string, q url.Values, out any) (time.Duration, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return -1, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBaseURL+path, nil)
	if err != nil {
		return -1, err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return -1, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		wait := time.Duration(-1)
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s >= 0 {
			wait = time.Duration(s) * time.Second
		}
		return wait, &statusError{code: resp.StatusCode, body: string(b)}
	}
	return -1, json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// GetStreams returns the live streams of login; empty means offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/streams", url.Values{"user_login": {login}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// LiveChecker adapts a HelixClient to a single channel.
type LiveChecker struct {
	Client  *HelixClient
	Channel string
}

// IsLive reports whether the channel currently has a live stream.
func (l LiveChecker) IsLive(ctx context.Context) (bool, error) {
	streams, err := l.Client.GetStreams(ctx, l.Channel)
	if err != nil {
		return false, err
	}
	return len(streams) > 0, nil
}

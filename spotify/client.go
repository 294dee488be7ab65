// Package spotify turns a finished setlist into a Spotify playlist. It searches
// each song, creates a dated playlist on the account that owns the refresh token
// and adds every track that was found.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/trackid/setlist"
)

const (
	defaultBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
	defaultAuthURL  = "https://accounts.spotify.com/authorize"

	// maxTracksPerRequest is the playlist-items batch limit.
	maxTracksPerRequest = 100
)

// ignoreWords are stripped from titles before searching; catalog titles rarely carry them.
var ignoreWords = []string{"(Original Mix)", "(Remix)", "(REMIX)"}

// Config holds the app credentials and a user refresh token with playlist-modify scopes.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// Overrides for tests; empty uses the public endpoints.
	TokenURL string
	BaseURL  string
}

// Track is a search hit.
type Track struct {
	ID      string `json:"id"`
	URI     string `json:"uri"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	ExternalURLs map[string]string `json:"external_urls"`
}

// Playlist is a created playlist.
type Playlist struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	ExternalURLs map[string]string `json:"external_urls"`
}

// URL returns the public link of the playlist.
func (p *Playlist) URL() string { return p.ExternalURLs["spotify"] }

// Client calls the Spotify Web API.
type Client struct {
	http    *http.Client
	baseURL string

	// SearchPause spaces consecutive searches of one export.
	SearchPause time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// New returns a client whose access tokens are refreshed from cfg.RefreshToken.
func New(ctx context.Context, cfg Config) *Client {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: defaultAuthURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		Scopes:       []string{"playlist-modify-public", "playlist-modify-private"},
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return &Client{
		http:        oauth2.NewClient(ctx, ts),
		baseURL:     strings.TrimRight(base, "/"),
		SearchPause: time.Second,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("spotify %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CleanTitle removes mix annotations that hurt catalog search.
func CleanTitle(title string) string {
	for _, w := range ignoreWords {
		title = strings.ReplaceAll(title, w, "")
	}
	return strings.TrimSpace(title)
}

func (c *Client) search(ctx context.Context, query string) (*Track, error) {
	q := url.Values{"q": {query}, "type": {"track"}, "limit": {"3"}, "offset": {"0"}}
	var res struct {
		Tracks *struct {
			Items []Track `json:"items"`
		} `json:"tracks"`
	}
	if err := c.do(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	if res.Tracks == nil || len(res.Tracks.Items) == 0 {
		return nil, nil
	}
	return &res.Tracks.Items[0], nil
}

// SearchTrack looks up title by artist, falling back to a title-only search when
// the artist is given and nothing matched. A nil track means no hit.
func (c *Client) SearchTrack(ctx context.Context, title, artist string) (*Track, error) {
	title = CleanTitle(title)
	query := fmt.Sprintf(`track:"%s"`, title)
	if artist != "" {
		query += fmt.Sprintf(` artist:"%s"`, artist)
	}
	t, err := c.search(ctx, query)
	if err != nil || t != nil || artist == "" {
		return t, err
	}
	return c.search(ctx, fmt.Sprintf(`track:"%s"`, title))
}

// CurrentUserID returns the id of the account owning the token.
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	var me struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/me", nil, &me); err != nil {
		return "", err
	}
	if me.ID == "" {
		return "", fmt.Errorf("spotify /me returned no id")
	}
	return me.ID, nil
}

// CreatePlaylist creates a playlist on userID's account.
func (c *Client) CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*Playlist, error) {
	var p Playlist
	body := map[string]any{"name": name, "description": description, "public": public}
	if err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/playlists", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AddTracks appends track URIs to a playlist in API-sized batches.
func (c *Client) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	for start := 0; start < len(uris); start += maxTracksPerRequest {
		end := min(start+maxTracksPerRequest, len(uris))
		body := map[string]any{"uris": uris[start:end]}
		if err := c.do(ctx, http.MethodPost, "/playlists/"+url.PathEscape(playlistID)+"/tracks", body, nil); err != nil {
			return err
		}
	}
	return nil
}

// ExportResult summarizes one setlist export.
type ExportResult struct {
	Playlist *Playlist // nil when no song was found
	Found    int
	Missing  []setlist.Song
}

// ExportSetlist searches every song and creates "<prefix> YYYY-MM-DD" with the hits.
// No playlist is created when nothing was found.
func (c *Client) ExportSetlist(ctx context.Context, prefix string, date time.Time, songs []setlist.Song) (ExportResult, error) {
	log := slog.Default().With(slog.String("component", "spotify"))
	var res ExportResult
	var uris []string
	for i, s := range songs {
		if i > 0 && c.SearchPause > 0 {
			if err := c.sleep(ctx, c.SearchPause); err != nil {
				return res, err
			}
		}
		artist := ""
		if len(s.Artists) > 0 {
			artist = s.Artists[0]
		}
		t, err := c.SearchTrack(ctx, s.Title, artist)
		if err != nil {
			return res, fmt.Errorf("search %q: %w", s.Title, err)
		}
		if t == nil {
			log.Info("no spotify match", slog.String("title", s.Title), slog.String("artist", artist))
			res.Missing = append(res.Missing, s)
			continue
		}
		uris = append(uris, t.URI)
	}
	res.Found = len(uris)
	if len(uris) == 0 {
		return res, nil
	}

	user, err := c.CurrentUserID(ctx)
	if err != nil {
		return res, err
	}
	name := fmt.Sprintf("%s %s", prefix, date.Format(time.DateOnly))
	p, err := c.CreatePlaylist(ctx, user, name, "Generated from the stream setlist by trackid", true)
	if err != nil {
		return res, err
	}
	if err := c.AddTracks(ctx, p.ID, uris); err != nil {
		return res, err
	}
	res.Playlist = p
	log.Info("playlist created", slog.String("name", name), slog.Int("tracks", len(uris)), slog.String("url", p.URL()))
	return res, nil
}

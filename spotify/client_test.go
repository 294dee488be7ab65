package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/trackid/setlist"
)

// fakeSpotify serves the token endpoint and the handful of Web API calls used by exports.
type fakeSpotify struct {
	t       *testing.T
	mu      sync.Mutex
	catalog map[string]string // query -> track id
	queries []string
	created []map[string]any
	added   [][]string
}

func (f *fakeSpotify) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Path == "/api/token" {
		require.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(f.t, "refresh-123", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-abc","token_type":"Bearer","expires_in":3600}`))
		return
	}
	assert.Equal(f.t, "Bearer access-abc", r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/v1/search":
		q := r.URL.Query().Get("q")
		f.queries = append(f.queries, q)
		items := []map[string]any{}
		if id, ok := f.catalog[q]; ok {
			items = append(items, map[string]any{"id": id, "uri": "spotify:track:" + id, "name": q})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"tracks": map[string]any{"items": items}})
	case r.URL.Path == "/v1/me":
		_, _ = w.Write([]byte(`{"id":"dj"}`))
	case r.URL.Path == "/v1/users/dj/playlists" && r.Method == http.MethodPost:
		var body map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.created = append(f.created, body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pl1","name":"x","external_urls":{"spotify":"https://open.spotify.com/playlist/pl1"}}`))
	case r.URL.Path == "/v1/playlists/pl1/tracks" && r.Method == http.MethodPost:
		var body struct {
			URIs []string `json:"uris"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.added = append(f.added, body.URIs)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"snapshot_id":"s"}`))
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, catalog map[string]string) (*Client, *fakeSpotify) {
	t.Helper()
	fake := &fakeSpotify{t: t, catalog: catalog}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c := New(context.Background(), Config{
		ClientID: "cid", ClientSecret: "secret", RefreshToken: "refresh-123",
		TokenURL: srv.URL + "/api/token", BaseURL: srv.URL + "/v1",
	})
	c.SearchPause = 0
	return c, fake
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Try It Out", CleanTitle("Try It Out (Original Mix)"))
	assert.Equal(t, "Love Is", CleanTitle("Love Is (REMIX)"))
	assert.Equal(t, "Untouched (Live)", CleanTitle("Untouched (Live)"))
}

func TestSearchTrackFallsBackToTitleOnly(t *testing.T) {
	c, fake := newTestClient(t, map[string]string{
		`track:"Try It Out" artist:"Simon Dunmore"`: "t1",
		`track:"Lonely Title"`:                      "t2",
	})
	ctx := context.Background()

	got, err := c.SearchTrack(ctx, "Try It Out (Original Mix)", "Simon Dunmore")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "spotify:track:t1", got.URI)

	got, err = c.SearchTrack(ctx, "Lonely Title", "Wrong Artist")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t2", got.ID)

	got, err = c.SearchTrack(ctx, "Nowhere", "")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, fake.queries, 4, "title-only query is not retried without an artist")
}

func TestExportSetlist(t *testing.T) {
	c, fake := newTestClient(t, map[string]string{
		`track:"Le Freak" artist:"Chic"`: "a",
		`track:"Good Times"`:             "b",
	})
	var pauses []time.Duration
	c.SearchPause = time.Second
	c.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	songs := []setlist.Song{
		{Title: "Le Freak", Artists: []string{"Chic"}},
		{Title: "Good Times", Artists: []string{"Someone Else"}},
		{Title: "Unreleased Edit", Artists: []string{"Nobody"}},
	}
	date := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	res, err := c.ExportSetlist(context.Background(), "Disco Friday Setlist", date, songs)
	require.NoError(t, err)

	require.NotNil(t, res.Playlist)
	assert.Equal(t, "https://open.spotify.com/playlist/pl1", res.Playlist.URL())
	assert.Equal(t, 2, res.Found)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, "Unreleased Edit", res.Missing[0].Title)
	assert.Len(t, pauses, 2)

	require.Len(t, fake.created, 1)
	assert.Equal(t, "Disco Friday Setlist 2026-10-16", fake.created[0]["name"])
	assert.Equal(t, [][]string{{"spotify:track:a", "spotify:track:b"}}, fake.added)
}

func TestExportSetlistNothingFound(t *testing.T) {
	c, fake := newTestClient(t, nil)
	res, err := c.ExportSetlist(context.Background(), "p", time.Now(), []setlist.Song{{Title: "x", Artists: []string{"y"}}})
	require.NoError(t, err)
	assert.Nil(t, res.Playlist)
	assert.Empty(t, fake.created)
}

func TestAddTracksBatches(t *testing.T) {
	c, fake := newTestClient(t, nil)
	uris := make([]string, 230)
	for i := range uris {
		uris[i] = fmt.Sprintf("spotify:track:%d", i)
	}
	require.NoError(t, c.AddTracks(context.Background(), "pl1", uris))
	require.Len(t, fake.added, 3)
	assert.Len(t, fake.added[0], 100)
	assert.Len(t, fake.added[2], 30)
}

func TestAPIErrorsIncludeStatus(t *testing.T) {
	c, _ := newTestClient(t, nil)
	_, err := c.CreatePlaylist(context.Background(), "someone-else", "n", "", true)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "status 404"), err.Error())
}

package setlist

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func openTestStore(t *testing.T) (*Store, *fakeClock, string) {
	t.Helper()
	root := t.TempDir()
	clock := &fakeClock{t: time.Date(2024, 10, 15, 20, 0, 0, 0, time.Local)}
	s, err := Open(root, "testchannel", clock.t)
	require.NoError(t, err)
	s.SetClock(clock.Now)
	return s, clock, root
}

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Song
		wantEqual bool
	}{
		{"case folding", Song{Title: "Hello World", Artists: []string{"Artist"}}, Song{Title: "hello world", Artists: []string{"artist"}}, true},
		{"punctuation", Song{Title: "Don't Stop (Remix)", Artists: []string{"A.B.C."}}, Song{Title: "Dont Stop Remix", Artists: []string{"ABC"}}, true},
		{"whitespace runs", Song{Title: "  Slow   Down ", Artists: []string{"X"}}, Song{Title: "slow down", Artists: []string{"X"}}, true},
		{"different artist", Song{Title: "Same", Artists: []string{"One"}}, Song{Title: "Same", Artists: []string{"Two"}}, false},
		{"artist order matters", Song{Title: "Same", Artists: []string{"One", "Two"}}, Song{Title: "Same", Artists: []string{"Two", "One"}}, false},
		{"different title", Song{Title: "Intro", Artists: []string{"A"}}, Song{Title: "Outro", Artists: []string{"A"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantEqual, tt.a.Key() == tt.b.Key())
		})
	}
}

func TestAddDeduplicatesAndRefreshes(t *testing.T) {
	s, clock, _ := openTestStore(t)
	first := clock.Now()

	isNew, err := s.Add(Song{Title: "Hello, World!", Artists: []string{"The Band"}, Album: "LP"})
	require.NoError(t, err)
	assert.True(t, isNew)

	clock.Advance(3 * time.Minute)
	isNew, err = s.Add(Song{Title: "hello world", Artists: []string{"the band"}, Album: "LP"})
	require.NoError(t, err)
	assert.False(t, isNew)

	songs := s.Songs()
	require.Len(t, songs, 1)
	assert.Equal(t, first, songs[0].Timestamp, "first-seen timestamp must not move")
	assert.Equal(t, clock.Now(), songs[0].LastTimestamp)
	assert.Equal(t, "Hello, World!", songs[0].Title, "original spelling is kept")
}

func TestAddRejectsInvalidSong(t *testing.T) {
	s, _, _ := openTestStore(t)
	_, err := s.Add(Song{Title: "", Artists: []string{"x"}})
	assert.Error(t, err)
	_, err = s.Add(Song{Title: "t"})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestPersistEveryMutation(t *testing.T) {
	s, clock, root := openTestStore(t)
	_, err := s.Add(Song{Title: "A", Artists: []string{"1"}})
	require.NoError(t, err)

	reloaded, err := Open(root, "testchannel", clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
	assert.Equal(t, filepath.Join(root, "setlists", "testchannel", "2024-10-15.json"), s.Path())
}

func TestReloadIdempotentAdd(t *testing.T) {
	s, clock, root := openTestStore(t)
	for _, title := range []string{"A", "B", "C"} {
		clock.Advance(time.Minute)
		_, err := s.Add(Song{Title: title, Artists: []string{"artist"}, Album: "album", Duration: 185 * time.Second})
		require.NoError(t, err)
	}
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	reloaded, err := Open(root, "testchannel", clock.Now())
	require.NoError(t, err)
	reloaded.SetClock(clock.Now)
	isNew, err := reloaded.Add(Song{Title: "C", Artists: []string{"artist"}, Album: "album"})
	require.NoError(t, err)
	assert.False(t, isNew)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, 185*time.Second, reloaded.Songs()[0].Duration)
}

func TestLoadSortsByFirstSeen(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "setlists", "chan")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := `{
	  "setlist_start": "2024-10-15T14:00:00",
	  "has_started": true,
	  "songs": [
	    {"title": "Later", "album": "", "artists": ["b"], "timestamp": "2024-10-15T15:00:00", "added_by": "viewer"},
	    {"title": "Earlier", "album": "x", "artists": ["a"], "timestamp": "2024-10-15T14:30:00.123456", "added_by": ""}
	  ]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024-10-15.json"), []byte(doc), 0o644))

	s, err := Open(root, "chan", time.Date(2024, 10, 15, 9, 0, 0, 0, time.Local))
	require.NoError(t, err)
	songs := s.Songs()
	require.Len(t, songs, 2)
	assert.Equal(t, "Earlier", songs[0].Title)
	assert.Equal(t, songs[0].Timestamp, songs[0].LastTimestamp, "missing last_timestamp falls back to timestamp")
	start, started := s.Started()
	assert.True(t, started)
	assert.Equal(t, 14, start.Hour())
}

func TestLoadCorruptFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "setlists", "chan")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024-10-15.json"), []byte("{not json"), 0o644))
	_, err := Open(root, "chan", time.Date(2024, 10, 15, 0, 0, 0, 0, time.Local))
	assert.Error(t, err)
}

func TestAddRollsBackOnPersistFailure(t *testing.T) {
	s, _, _ := openTestStore(t)
	_, err := s.Add(Song{Title: "kept", Artists: []string{"a"}})
	require.NoError(t, err)

	// a directory in place of the temp file makes the write fail
	require.NoError(t, os.Mkdir(s.Path()+".tmp", 0o755))
	_, err = s.Add(Song{Title: "lost", Artists: []string{"b"}})
	require.Error(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestUndoLastAttributed(t *testing.T) {
	s, clock, _ := openTestStore(t)
	_, err := s.Add(Song{Title: "user pick", Artists: []string{"a"}, AddedBy: "viewer"})
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	_, err = s.Add(Song{Title: "bot pick", Artists: []string{"b"}})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	removed, ok, err := s.UndoLastAttributed(2*time.Minute, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user pick", removed.Title)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "bot pick", s.Songs()[0].Title)

	// nothing attributed left
	_, ok, err = s.UndoLastAttributed(2*time.Minute, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUndoWindowAndForce(t *testing.T) {
	s, clock, _ := openTestStore(t)
	_, err := s.Add(Song{Title: "old", Artists: []string{"a"}, AddedBy: "viewer"})
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	_, ok, err := s.UndoLastAttributed(2*time.Minute, false)
	require.NoError(t, err)
	assert.False(t, ok, "outside window without force")

	_, ok, err = s.UndoLastAttributed(2*time.Minute, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestRecentMessage(t *testing.T) {
	s, clock, _ := openTestStore(t)
	_, err := s.RecentMessage(30 * time.Second)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = s.Add(Song{Title: "Tune", Artists: []string{"A", "B"}, Album: "Alb"})
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	msg, err := s.RecentMessage(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, `Currently playing: "Tune" ║ Artist(s): A, B ║ Album: Alb`, msg)

	clock.Advance(5 * time.Minute)
	msg, err = s.RecentMessage(30 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, msg, "Last identified 5 minutes ago")
}

func TestMarkStartedOnce(t *testing.T) {
	s, clock, root := openTestStore(t)
	liveAt := clock.Now().Add(time.Hour)
	require.NoError(t, s.MarkStarted(liveAt))
	require.NoError(t, s.MarkStarted(liveAt.Add(time.Hour)))

	reloaded, err := Open(root, "testchannel", clock.Now())
	require.NoError(t, err)
	start, started := reloaded.Started()
	assert.True(t, started)
	assert.True(t, start.Equal(liveAt))
}

func TestScores(t *testing.T) {
	s, clock, _ := openTestStore(t)
	for i, by := range []string{"alice", "bob", "alice", ""} {
		clock.Advance(time.Minute)
		_, err := s.Add(Song{Title: string(rune('a' + i)), Artists: []string{"x"}, AddedBy: by})
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, s.Scores())
}

func TestWriteCSV(t *testing.T) {
	s, clock, _ := openTestStore(t)
	require.NoError(t, s.MarkStarted(clock.Now()))
	clock.Advance(90 * time.Minute)
	_, err := s.Add(Song{Title: "Song, With Comma", Artists: []string{"A", "B"}, Album: "Alb"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.WriteCSV(&buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1:30:00", "Song, With Comma", "A; B", "Alb", ""}, rows[1])
}

func TestRecentTextAndSetlistText(t *testing.T) {
	s, clock, _ := openTestStore(t)
	for _, title := range []string{"one", "two", "three"} {
		_, err := s.Add(Song{Title: title, Artists: []string{"x"}, Album: "y"})
		require.NoError(t, err)
		clock.Advance(2 * time.Minute)
	}
	text := s.RecentText(2)
	assert.Contains(t, text, "The last 2 tracks played --> (three | x | y")
	assert.Contains(t, text, "@ 2 minutes ago")
	assert.NotContains(t, text, "(one |")

	full := s.SetlistText()
	assert.Contains(t, full, "(one | x | y | timestamp: 20:00:00)"+Separator+"(two")
}

func TestElapsedAndAgo(t *testing.T) {
	assert.Equal(t, "0:00:59", Elapsed(59*time.Second+500*time.Millisecond))
	assert.Equal(t, "2:03:04", Elapsed(2*time.Hour+3*time.Minute+4*time.Second))
	assert.Equal(t, "45 seconds ago", Ago(45*time.Second))
	assert.Equal(t, "1 minute ago", Ago(61*time.Second))
	assert.Equal(t, "12 minutes ago", Ago(12*time.Minute+30*time.Second))
}

func TestPathForMatchesStore(t *testing.T) {
	s, clock, root := openTestStore(t)
	assert.Equal(t, s.Path(), PathFor(root, "testchannel", clock.t))
	assert.Equal(t, filepath.Join(root, "setlists", "testchannel", "2024-10-15.json"), s.Path())
}

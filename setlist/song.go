// Package setlist keeps the per-day, per-channel running list of songs played on stream.
//
// A Store is backed by one JSON document under <root>/setlists/<channel>/<YYYY-MM-DD>.json.
// Every mutation is persisted synchronously before it returns, so the file and the
// in-memory list never disagree. Entries are deduplicated on a normalized
// title+artists key; a repeat identification only refreshes LastTimestamp.
package setlist

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Song is one entry of the setlist.
type Song struct {
	Title    string
	Artists  []string
	Album    string
	Duration time.Duration // zero when unknown

	// Timestamp is when the song was first identified or added.
	Timestamp time.Time
	// LastTimestamp is refreshed every time the same song is identified again.
	LastTimestamp time.Time
	// AddedBy is empty for bot identifications, otherwise the chat user who added it.
	AddedBy string
}

// Key returns the dedup identity of the song.
func (s Song) Key() string { return DedupKey(s.Title, s.Artists) }

// Attributed reports whether a chat user added the song manually.
func (s Song) Attributed() bool { return s.AddedBy != "" }

// ArtistList joins the artist names for display.
func (s Song) ArtistList() string { return strings.Join(s.Artists, ", ") }

// Validate checks the required fields of a song before it enters a store.
func (s Song) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("song title empty")
	}
	if len(s.Artists) == 0 {
		return fmt.Errorf("song %q has no artists", s.Title)
	}
	return nil
}

// DedupKey builds the canonical identity used to decide whether two songs are the same entry.
// Title and each artist name are lower-cased, stripped of punctuation and symbols, and
// whitespace runs are collapsed. Artist order is preserved.
func DedupKey(title string, artists []string) string {
	parts := make([]string, 0, len(artists)+1)
	parts = append(parts, normalize(title))
	for _, a := range artists {
		parts = append(parts, normalize(a))
	}
	return strings.Join(parts, "\x1f")
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

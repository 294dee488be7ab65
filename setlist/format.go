package setlist

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"
)

// Separator delimits songs in multi-song chat replies; the messenger prefers it as a split point.
const Separator = " ██   "

// NowPlayingMessage is the reply for a fresh identification.
func NowPlayingMessage(s Song) string {
	return "Currently playing: " + describe(s)
}

// AddedMessage is the reply for a manual add.
func AddedMessage(s Song) string {
	return fmt.Sprintf(`Added: "%s" ║ Artist: %s`, s.Title, s.ArtistList())
}

// RemovedMessage is the reply for an undo.
func RemovedMessage(s Song) string {
	return fmt.Sprintf(`Removed: "%s" ║ Artist: %s`, s.Title, s.ArtistList())
}

func describe(s Song) string {
	msg := fmt.Sprintf(`"%s" ║ Artist(s): %s`, s.Title, s.ArtistList())
	if s.Album != "" {
		msg += " ║ Album: " + s.Album
	}
	return msg
}

// Formatted renders the compact "(title | artists | album | timestamp: hh:mm:ss)" form.
func (s Song) Formatted(includeTimestamp bool) string {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(s.Title)
	b.WriteString(" | ")
	b.WriteString(s.ArtistList())
	b.WriteString(" | ")
	b.WriteString(s.Album)
	if includeTimestamp {
		b.WriteString(" | timestamp: ")
		b.WriteString(s.Timestamp.Format("15:04:05"))
	}
	b.WriteString(")")
	return b.String()
}

// Ago renders a coarse "N minutes ago" / "N seconds ago" phrase.
func Ago(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		n := int(d / time.Second)
		if n == 1 {
			return "1 second ago"
		}
		return fmt.Sprintf("%d seconds ago", n)
	case d < 2*time.Minute:
		return "1 minute ago"
	default:
		return fmt.Sprintf("%d minutes ago", int(d/time.Minute))
	}
}

// Elapsed formats d as H:MM:SS.
func Elapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
}

// SetlistText is the full-setlist chat dump; songs are joined with Separator.
func (s *Store) SetlistText() string {
	var b strings.Builder
	b.WriteString("(Title | Artists | Album) --> ")
	for _, song := range s.Songs() {
		b.WriteString(song.Formatted(true))
		b.WriteString(Separator)
	}
	return strings.TrimRight(b.String(), " ")
}

// RecentText lists the n most recent songs newest first with "... ago" suffixes.
func (s *Store) RecentText(n int) string {
	s.mu.RLock()
	now := s.now()
	s.mu.RUnlock()
	var b strings.Builder
	fmt.Fprintf(&b, "The last %d tracks played --> ", n)
	for _, song := range s.Recent(n) {
		b.WriteString(song.Formatted(true))
		b.WriteString(" @ ")
		b.WriteString(Ago(now.Sub(song.LastTimestamp)))
		b.WriteString(Separator)
	}
	return strings.TrimRight(b.String(), " ")
}

// WriteCSV exports one row per song with the elapsed time since the session start.
// When the session start was never recorded, the first song marks zero.
func (s *Store) WriteCSV(w io.Writer) error {
	songs := s.Songs()
	start, started := s.Started()
	if !started && len(songs) > 0 {
		start = songs[0].Timestamp
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Elapsed", "Title", "Artist", "Album", "Added By"}); err != nil {
		return err
	}
	for _, song := range songs {
		row := []string{
			Elapsed(song.Timestamp.Sub(start)),
			song.Title,
			strings.Join(song.Artists, "; "),
			song.Album,
			song.AddedBy,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

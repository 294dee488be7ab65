package setlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrEmpty is returned by lookups on a setlist with no songs.
var ErrEmpty = errors.New("setlist empty")

// Store is the deduplicating, append-only setlist for one channel and calendar date.
type Store struct {
	mu         sync.RWMutex
	path       string
	channel    string
	date       time.Time
	songs      []Song
	start      time.Time
	hasStarted bool

	now func() time.Time
}

// PathFor returns the file holding the setlist of channel on the calendar date of date.
func PathFor(root, channel string, date time.Time) string {
	return filepath.Join(root, "setlists", channel, date.Format(time.DateOnly)+".json")
}

// Open loads (or creates) the setlist for channel on the calendar date of date.
// The directory <root>/setlists/<channel> is created if needed.
func Open(root, channel string, date time.Time) (*Store, error) {
	path := PathFor(root, channel, date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir setlist dir: %w", err)
	}
	s := &Store{
		path:    path,
		channel: channel,
		date:    date,
		start:   date,
		now:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Channel returns the channel the setlist belongs to.
func (s *Store) Channel() string { return s.channel }

// Date returns the session date of the setlist.
func (s *Store) Date() time.Time { return s.date }

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read setlist: %w", err)
	}
	doc, err := decodeDocument(b)
	if err != nil {
		return fmt.Errorf("decode setlist %s: %w", s.path, err)
	}
	if !doc.start.IsZero() {
		s.start = doc.start
	}
	s.hasStarted = doc.hasStarted
	s.songs = doc.songs
	// manual restores may append out of order
	sort.SliceStable(s.songs, func(i, j int) bool { return s.songs[i].Timestamp.Before(s.songs[j].Timestamp) })
	slog.Info("setlist loaded", slog.String("path", s.path), slog.Int("songs", len(s.songs)), slog.String("component", "setlist"))
	return nil
}

// persist writes the whole document through a temp file + rename. Caller holds mu.
func (s *Store) persist() error {
	b, err := encodeDocument(s.start, s.hasStarted, s.songs)
	if err != nil {
		return fmt.Errorf("encode setlist: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write setlist: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename setlist: %w", err)
	}
	return nil
}

// Add inserts song or, if an entry with the same DedupKey exists, refreshes that
// entry's LastTimestamp. It returns true only when a new entry was appended.
// On a persist failure the in-memory change is rolled back and the error returned.
func (s *Store) Add(song Song) (bool, error) {
	if err := song.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := song.Key()
	for i := range s.songs {
		if s.songs[i].Key() != key {
			continue
		}
		prev := s.songs[i].LastTimestamp
		s.songs[i].LastTimestamp = now
		if err := s.persist(); err != nil {
			s.songs[i].LastTimestamp = prev
			return false, err
		}
		return false, nil
	}

	if song.Timestamp.IsZero() {
		song.Timestamp = now
	}
	if song.LastTimestamp.IsZero() {
		song.LastTimestamp = song.Timestamp
	}
	song.Artists = append([]string(nil), song.Artists...)
	s.songs = append(s.songs, song)
	if err := s.persist(); err != nil {
		s.songs = s.songs[:len(s.songs)-1]
		return false, err
	}
	return true, nil
}

// UndoLastAttributed removes the most recent user-added song when it was last seen
// within window, or unconditionally when force is set. It reports the removed song.
func (s *Store) UndoLastAttributed(window time.Duration, force bool) (Song, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := len(s.songs) - 1; i >= 0; i-- {
		if s.songs[i].Attributed() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Song{}, false, nil
	}
	song := s.songs[idx]
	if !force && s.now().Sub(song.LastTimestamp) >= window {
		return Song{}, false, nil
	}
	prev := s.songs
	s.songs = append(append([]Song(nil), s.songs[:idx]...), s.songs[idx+1:]...)
	if err := s.persist(); err != nil {
		s.songs = prev
		return Song{}, false, err
	}
	return song, true, nil
}

// MarkStarted records the session start the first time the stream is seen live.
// It is a no-op once the setlist has started.
func (s *Store) MarkStarted(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasStarted {
		return nil
	}
	prevStart := s.start
	s.start, s.hasStarted = at, true
	if err := s.persist(); err != nil {
		s.start, s.hasStarted = prevStart, false
		return err
	}
	return nil
}

// Started reports whether the session start has been recorded, and when.
func (s *Store) Started() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.start, s.hasStarted
}

// Len returns the number of songs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.songs)
}

// Songs returns a copy of the setlist in order.
func (s *Store) Songs() []Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Song, len(s.songs))
	copy(out, s.songs)
	return out
}

// Last returns the most recent entry.
func (s *Store) Last() (Song, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.songs) == 0 {
		return Song{}, ErrEmpty
	}
	return s.songs[len(s.songs)-1], nil
}

// Recent returns up to n most recent songs, newest first.
func (s *Store) Recent(n int) []Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.songs) {
		n = len(s.songs)
	}
	out := make([]Song, 0, n)
	for i := len(s.songs) - 1; i >= len(s.songs)-n; i-- {
		out = append(out, s.songs[i])
	}
	return out
}

// SinceLast returns how long ago the most recent entry was last identified.
func (s *Store) SinceLast() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.songs) == 0 {
		return 0, false
	}
	return s.now().Sub(s.songs[len(s.songs)-1].LastTimestamp), true
}

// RecentMessage formats the most recent song as "currently playing" when it was
// last identified within cooldown, otherwise as "last identified ... ago".
func (s *Store) RecentMessage(cooldown time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.songs) == 0 {
		return "", ErrEmpty
	}
	last := s.songs[len(s.songs)-1]
	ago := s.now().Sub(last.LastTimestamp)
	if ago < cooldown {
		return NowPlayingMessage(last), nil
	}
	return fmt.Sprintf("Last identified %s: %s", Ago(ago), describe(last)), nil
}

// Scores counts attributed songs per user.
func (s *Store) Scores() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]int{}
	for _, song := range s.songs {
		if song.Attributed() {
			out[song.AddedBy]++
		}
	}
	return out
}

// MarshalJSON exposes the persisted document shape (used by the HTTP /setlist endpoint).
func (s *Store) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(toDocument(s.start, s.hasStarted, s.songs))
}

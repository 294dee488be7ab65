package setlist

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// songRecord is the on-disk shape of one song.
type songRecord struct {
	Title         string   `json:"title"`
	Album         string   `json:"album"`
	Artists       []string `json:"artists"`
	DurationS     *float64 `json:"duration_s,omitempty"`
	Timestamp     string   `json:"timestamp"`
	LastTimestamp string   `json:"last_timestamp,omitempty"`
	AddedBy       string   `json:"added_by"`
}

type documentRecord struct {
	SetlistStart string       `json:"setlist_start,omitempty"`
	HasStarted   bool         `json:"has_started"`
	Songs        []songRecord `json:"songs"`
}

type document struct {
	start      time.Time
	hasStarted bool
	songs      []Song
}

// timeLayouts accepts RFC 3339 plus the zone-less ISO-8601 forms older setlist files use.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTime(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, v, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func toDocument(start time.Time, hasStarted bool, songs []Song) documentRecord {
	doc := documentRecord{HasStarted: hasStarted, Songs: make([]songRecord, 0, len(songs))}
	if !start.IsZero() {
		doc.SetlistStart = formatTime(start)
	}
	for _, s := range songs {
		rec := songRecord{
			Title:         s.Title,
			Album:         s.Album,
			Artists:       s.Artists,
			Timestamp:     formatTime(s.Timestamp),
			LastTimestamp: formatTime(s.LastTimestamp),
			AddedBy:       s.AddedBy,
		}
		if s.Duration > 0 {
			d := s.Duration.Seconds()
			rec.DurationS = &d
		}
		doc.Songs = append(doc.Songs, rec)
	}
	return doc
}

func encodeDocument(start time.Time, hasStarted bool, songs []Song) ([]byte, error) {
	return json.MarshalIndent(toDocument(start, hasStarted, songs), "", "    ")
}

func decodeDocument(b []byte) (*document, error) {
	var rec documentRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	doc := &document{hasStarted: rec.HasStarted, songs: make([]Song, 0, len(rec.Songs))}
	if rec.SetlistStart != "" {
		t, err := parseTime(rec.SetlistStart)
		if err != nil {
			return nil, fmt.Errorf("setlist_start: %w", err)
		}
		doc.start = t
	}
	for i, r := range rec.Songs {
		ts, err := parseTime(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("songs[%d].timestamp: %w", i, err)
		}
		last := ts
		if r.LastTimestamp != "" {
			if last, err = parseTime(r.LastTimestamp); err != nil {
				return nil, fmt.Errorf("songs[%d].last_timestamp: %w", i, err)
			}
		}
		song := Song{
			Title:         r.Title,
			Album:         r.Album,
			Artists:       r.Artists,
			Timestamp:     ts,
			LastTimestamp: last,
			AddedBy:       r.AddedBy,
		}
		if r.DurationS != nil && *r.DurationS > 0 && !math.IsInf(*r.DurationS, 0) {
			song.Duration = time.Duration(*r.DurationS * float64(time.Second))
		}
		doc.songs = append(doc.songs, song)
	}
	return doc, nil
}

// Package db mirrors the setlist into Postgres so history survives beyond the
// per-day JSON files. The mirror is optional; the JSON store stays authoritative.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/trackid/setlist"
)

// artistSep joins artist names in the artists column.
const artistSep = "\x1f"

// Connect opens a Postgres pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db dsn empty")
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}

// Mirror upserts identified songs for one channel and setlist date.
type Mirror struct {
	db      *sql.DB
	channel string
	date    time.Time
}

// NewMirror returns a mirror writing rows for channel on date.
func NewMirror(db *sql.DB, channel string, date time.Time) *Mirror {
	return &Mirror{db: db, channel: channel, date: date}
}

// Publish inserts song or refreshes last_seen when the same song is already recorded.
func (m *Mirror) Publish(ctx context.Context, song setlist.Song) error {
	first := song.Timestamp
	if first.IsZero() {
		first = time.Now()
	}
	last := song.LastTimestamp
	if last.IsZero() {
		last = first
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO setlist_songs (channel, setlist_date, song_key, title, artists, album, duration_ms, added_by, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (channel, setlist_date, song_key) DO UPDATE SET last_seen = GREATEST(setlist_songs.last_seen, EXCLUDED.last_seen)`,
		m.channel, m.date.Format(time.DateOnly), song.Key(), song.Title, strings.Join(song.Artists, artistSep),
		song.Album, song.Duration.Milliseconds(), song.AddedBy, first.UTC(), last.UTC())
	if err != nil {
		return fmt.Errorf("mirror song %q: %w", song.Title, err)
	}
	return nil
}

// Songs returns the mirrored songs of the mirror's channel and date in first-seen order.
func (m *Mirror) Songs(ctx context.Context) ([]setlist.Song, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT title, artists, album, duration_ms, added_by, first_seen, last_seen
		FROM setlist_songs WHERE channel = $1 AND setlist_date = $2
		ORDER BY first_seen, id`, m.channel, m.date.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []setlist.Song
	for rows.Next() {
		var (
			s       setlist.Song
			artists string
			ms      int64
		)
		if err := rows.Scan(&s.Title, &artists, &s.Album, &ms, &s.AddedBy, &s.Timestamp, &s.LastTimestamp); err != nil {
			return nil, err
		}
		s.Artists = strings.Split(artists, artistSep)
		s.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

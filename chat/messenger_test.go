package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recorder) send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

// newTestMessenger replaces the pacing sleep with a recorder of requested delays.
func newTestMessenger(send SendFunc, printOnly bool) (*Messenger, *[]time.Duration) {
	m := NewMessenger(send, printOnly)
	var delays []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return m, &delays
}

func TestChunkShortTextUnchanged(t *testing.T) {
	assert.Nil(t, Chunk(""))
	text := strings.Repeat("a", MaxMessageLen-1)
	assert.Equal(t, []string{text}, Chunk(text))
}

func TestChunkPrefersSeparator(t *testing.T) {
	const sep = " ██   "
	entry := "Song Title - Artist Name (Album)"
	var parts []string
	for i := 0; i < 40; i++ {
		parts = append(parts, entry)
	}
	text := strings.Join(parts, sep)

	chunks := Chunk(text, sep)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), chunkLen)
		assert.False(t, strings.HasPrefix(c, " "), "separator must be consumed: %q", c)
		assert.True(t, strings.HasSuffix(c, ")"), "chunk must end on a whole entry: %q", c)
	}
	assert.Equal(t, text, strings.Join(chunks, sep))
}

func TestChunkFallsBackToSpace(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("word ", 200))
	chunks := Chunk(text, "|")
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Less(t, utf8.RuneCountInString(c), MaxMessageLen)
		for _, w := range strings.Fields(c) {
			assert.Equal(t, "word", w, "words are never split")
		}
	}
	assert.Equal(t, text, strings.Join(chunks, " "))
}

func TestChunkHardCutWithoutSeparators(t *testing.T) {
	text := strings.Repeat("x", 1200)
	chunks := Chunk(text)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], chunkLen)
	assert.Len(t, chunks[1], chunkLen)
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkCountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("█", 600)
	chunks := Chunk(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, chunkLen, utf8.RuneCountInString(chunks[0]))
	assert.True(t, utf8.ValidString(chunks[0]))
	assert.True(t, utf8.ValidString(chunks[1]))
}

func TestSendChunksWithJitter(t *testing.T) {
	rec := &recorder{}
	m, delays := newTestMessenger(rec.send, false)

	text := strings.TrimSpace(strings.Repeat("word ", 250))
	require.NoError(t, m.Send(context.Background(), text))

	sent := rec.messages()
	require.Greater(t, len(sent), 1)
	require.Len(t, *delays, len(sent)-1, "one pause between consecutive chunks")
	for _, d := range *delays {
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.Less(t, d, 3500*time.Millisecond)
	}
}

func TestSendSuppressesDuplicates(t *testing.T) {
	rec := &recorder{}
	m, _ := newTestMessenger(rec.send, false)
	ctx := context.Background()

	require.NoError(t, m.Send(ctx, "now playing: x"))
	require.NoError(t, m.Send(ctx, "now playing: x"))
	require.NoError(t, m.Send(ctx, "something else"))
	assert.Equal(t, []string{"now playing: x", "something else"}, rec.messages())
}

func TestSendSkipsBlank(t *testing.T) {
	rec := &recorder{}
	m, _ := newTestMessenger(rec.send, false)
	require.NoError(t, m.Send(context.Background(), "   "))
	assert.Empty(t, rec.messages())
}

func TestSendPrintOnlyNeverSends(t *testing.T) {
	rec := &recorder{}
	m, delays := newTestMessenger(rec.send, true)

	require.NoError(t, m.Send(context.Background(), strings.Repeat("word ", 250)))
	assert.Empty(t, rec.messages())
	assert.Empty(t, *delays)
}

func TestSendWrapsTransportErrors(t *testing.T) {
	rec := &recorder{err: errors.New("socket closed")}
	m, _ := newTestMessenger(rec.send, false)

	err := m.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrSend)
	assert.Contains(t, err.Error(), "socket closed")
}

func TestSendStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	m, _ := newTestMessenger(rec.send, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Send(ctx, strings.Repeat("word ", 250))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.messages(), 1, "first chunk goes out before the first pause")
}

func TestSendBatchKeepsOrder(t *testing.T) {
	rec := &recorder{}
	m, delays := newTestMessenger(rec.send, false)

	require.NoError(t, m.SendBatch(context.Background(), []string{"one", "two", "three"}))
	assert.Equal(t, []string{"one", "two", "three"}, rec.messages())
	assert.Len(t, *delays, 2)
}

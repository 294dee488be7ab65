package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"

	"github.com/onnwee/trackid/telemetry"
)

// ErrSend wraps failures of the chat transport.
var ErrSend = errors.New("chat send failed")

const (
	// MaxMessageLen is the platform's practical per-message ceiling in characters.
	MaxMessageLen = 500
	// chunkLen is the budget for each emitted chunk of a long reply.
	chunkLen = 498
	// DuplicateWindow suppresses identical texts sent within this interval.
	DuplicateWindow = 3 * time.Second
)

// SendFunc delivers one platform-sized message.
type SendFunc func(ctx context.Context, text string) error

// Messenger chunks, paces and de-duplicates outbound chat text.
type Messenger struct {
	send      SendFunc
	printOnly bool
	recent    *cache.Cache

	jitter func() time.Duration
	sleep  func(ctx context.Context, d time.Duration) error

	mu sync.Mutex // one reply at a time so chunks never interleave
}

// NewMessenger wraps send. In printOnly mode texts are formatted and logged but never sent.
func NewMessenger(send SendFunc, printOnly bool) *Messenger {
	return &Messenger{
		send:      send,
		printOnly: printOnly,
		// no janitor goroutine; expired entries are purged on each Send
		recent: cache.New(DuplicateWindow, 0),
		jitter: func() time.Duration {
			return 1500*time.Millisecond + time.Duration(rand.Int63n(int64(2*time.Second))) //nolint:gosec // pacing jitter
		},
		sleep: sleepCtx,
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

// Send delivers text, splitting it on the preferred separators when it is too long.
// A text identical to one sent within DuplicateWindow is dropped silently.
func (m *Messenger) Send(ctx context.Context, text string, separators ...string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	m.recent.DeleteExpired()
	if err := m.recent.Add(text, struct{}{}, cache.DefaultExpiration); err != nil {
		telemetry.RecordSuppressed("duplicate")
		slog.Debug("duplicate chat message suppressed", slog.String("component", "chat"))
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	chunks := Chunk(text, separators...)
	for i, c := range chunks {
		if m.printOnly {
			slog.Info("chat (print only)", slog.String("text", c), slog.String("component", "chat"))
			telemetry.RecordSuppressed("print_only")
			continue
		}
		if i > 0 {
			if err := m.sleep(ctx, m.jitter()); err != nil {
				return err
			}
		}
		if err := m.send(ctx, c); err != nil {
			return fmt.Errorf("%w: %v", ErrSend, err)
		}
		telemetry.Inc(telemetry.MessagesSent)
		slog.Debug("chat sent", slog.String("text", c), slog.String("component", "chat"))
	}
	return nil
}

// SendBatch sends pre-chunked messages in order with the same pacing.
func (m *Messenger) SendBatch(ctx context.Context, messages []string) error {
	for i, msg := range messages {
		if i > 0 && !m.printOnly {
			if err := m.sleep(ctx, m.jitter()); err != nil {
				return err
			}
		}
		if err := m.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Chunk splits text into pieces shorter than MaxMessageLen characters. Each cut is
// made at the last occurrence of the first separator (in preference order, with a
// plain space implicitly last) found inside the chunk budget; the separator itself
// is consumed. Text with no usable separator is cut hard at the budget.
func Chunk(text string, separators ...string) []string {
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) < MaxMessageLen {
		return []string{text}
	}
	seps := append(append([]string(nil), separators...), " ")

	var out []string
	rest := text
	for utf8.RuneCountInString(rest) >= MaxMessageLen {
		window := rest[:byteOffset(rest, chunkLen)]
		cut, skip := len(window), 0
		for _, sep := range seps {
			if sep == "" {
				continue
			}
			if idx := strings.LastIndex(window, sep); idx > 0 {
				cut, skip = idx, len(sep)
				break
			}
		}
		out = append(out, rest[:cut])
		rest = rest[cut+skip:]
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}

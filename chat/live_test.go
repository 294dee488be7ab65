package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/trackid/setlist"
	"github.com/onnwee/trackid/testutil"
	"github.com/onnwee/trackid/twitchapi"
)

type scriptedStreams struct {
	results [][]twitchapi.Stream
	errs    []error
	calls   int
}

func (s *scriptedStreams) GetStreams(_ context.Context, login string) ([]twitchapi.Stream, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.results) {
		return nil, nil
	}
	return s.results[i], nil
}

func TestLiveWatcherMarksStartAndStopsAfterGrace(t *testing.T) {
	now := time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)
	store, err := setlist.Open(t.TempDir(), "somechannel", now)
	require.NoError(t, err)

	started := now.Add(-5 * time.Minute)
	live := []twitchapi.Stream{{UserLogin: "somechannel", StartedAt: started}}
	streams := &scriptedStreams{results: [][]twitchapi.Stream{nil, live, live, nil, nil}}
	stopped := 0
	w := &LiveWatcher{
		Channel: "somechannel", Streams: streams, Store: store,
		OfflineGrace: 10 * time.Minute,
		OnOffline:    func() { stopped++ },
		now:          func() time.Time { return now },
	}
	ctx := context.Background()

	assert.False(t, w.poll(ctx), "offline before ever going live keeps waiting")
	_, ok := store.Started()
	assert.False(t, ok)

	assert.False(t, w.poll(ctx))
	at, ok := store.Started()
	require.True(t, ok)
	assert.True(t, at.Equal(started))

	now = now.Add(time.Minute)
	assert.False(t, w.poll(ctx))
	at, _ = store.Started()
	assert.True(t, at.Equal(started), "session start is recorded once")

	now = now.Add(5 * time.Minute)
	assert.False(t, w.poll(ctx), "inside the offline grace")
	now = now.Add(5 * time.Minute)
	assert.True(t, w.poll(ctx))
	assert.Equal(t, 1, stopped)
}

func TestLiveWatcherIgnoresErrors(t *testing.T) {
	store, err := setlist.Open(t.TempDir(), "somechannel", time.Now())
	require.NoError(t, err)
	w := &LiveWatcher{
		Channel: "somechannel", Store: store, OfflineGrace: time.Nanosecond,
		Streams: &scriptedStreams{errs: []error{errors.New("helix down")}},
	}
	assert.False(t, w.poll(context.Background()))
}

func TestLiveWatcherRunStopsOnCancel(t *testing.T) {
	store, err := setlist.Open(t.TempDir(), "somechannel", time.Now())
	require.NoError(t, err)
	w := &LiveWatcher{Channel: "somechannel", Store: store, Streams: &scriptedStreams{}, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestLiveWatcherWithHelix(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	started := time.Date(2026, 10, 16, 19, 30, 0, 0, time.UTC)
	mock.SetLive("somechannel", true, started)

	store, err := setlist.Open(t.TempDir(), "somechannel", started)
	require.NoError(t, err)
	now := started.Add(time.Hour)
	w := &LiveWatcher{
		Channel: "somechannel", Streams: mock.HelixClient(), Store: store,
		OfflineGrace: time.Minute,
		now:          func() time.Time { return now },
	}

	assert.False(t, w.poll(context.Background()))
	at, ok := store.Started()
	require.True(t, ok)
	assert.True(t, at.Equal(started))
	assert.Equal(t, 1, mock.Hits("/oauth2/token"))

	mock.SetLive("somechannel", false, time.Time{})
	now = now.Add(2 * time.Minute)
	assert.True(t, w.poll(context.Background()))
	assert.Equal(t, 2, mock.Hits("/helix/streams"))
}

package nowplaying

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/trackid/setlist"
)

// fakeToken completes immediately with err, or never when pending is set.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error, pending bool) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	if !pending {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	pending    bool
	pubErr     error
	sent       []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return newToken(c.connectErr, false)
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{topic, qos, retained, payload.([]byte)})
	return newToken(c.pubErr, c.pending)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func TestPublishNewSong(t *testing.T) {
	fc := &fakeClient{}
	p := newPublisher(fc, "radio/np", "somechannel")
	require.NoError(t, p.Connect(context.Background()))

	at := time.Date(2026, 10, 16, 21, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	song := setlist.Song{Title: "Le Freak", Artists: []string{"Chic"}, Album: "C'est Chic", Duration: 330 * time.Second, Timestamp: at}
	require.NoError(t, p.Publish(context.Background(), song))

	require.Len(t, fc.sent, 1)
	msg := fc.sent[0]
	assert.Equal(t, "radio/np", msg.topic)
	assert.EqualValues(t, 1, msg.qos)
	assert.True(t, msg.retained)

	var got Message
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "somechannel", got.Channel)
	assert.Equal(t, []string{"Chic"}, got.Artists)
	assert.Equal(t, 330, got.DurationSeconds)
	assert.True(t, got.IdentifiedAt.Equal(at))
	assert.Equal(t, time.UTC, got.IdentifiedAt.Location())

	p.Close()
	assert.False(t, fc.IsConnected())
}

func TestPublishRequiresConnection(t *testing.T) {
	p := newPublisher(&fakeClient{}, "", "c")
	err := p.Publish(context.Background(), setlist.Song{Title: "x", Artists: []string{"y"}})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectAndPublishErrors(t *testing.T) {
	p := newPublisher(&fakeClient{connectErr: errors.New("refused")}, "t", "c")
	assert.ErrorContains(t, p.Connect(context.Background()), "refused")

	fc := &fakeClient{pubErr: errors.New("broker said no")}
	p = newPublisher(fc, "t", "c")
	require.NoError(t, p.Connect(context.Background()))
	assert.ErrorContains(t, p.Publish(context.Background(), setlist.Song{Title: "x", Artists: []string{"y"}}), "broker said no")
}

func TestPublishHonorsContextAndTimeout(t *testing.T) {
	fc := &fakeClient{pending: true}
	p := newPublisher(fc, "t", "c")
	require.NoError(t, p.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, setlist.Song{Title: "x", Artists: []string{"y"}}), context.Canceled)

	p.timeout = 10 * time.Millisecond
	assert.ErrorContains(t, p.Publish(context.Background(), setlist.Song{Title: "x", Artists: []string{"y"}}), "timeout")
}

func TestNewDefaultsTopic(t *testing.T) {
	p := New("tcp://127.0.0.1:1", "", "c")
	assert.Equal(t, DefaultTopic, p.Topic())
}

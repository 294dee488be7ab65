// Package nowplaying publishes every newly identified song to an MQTT topic as a
// retained JSON message, so overlays and home-automation consumers always see
// the current track.
package nowplaying

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/onnwee/trackid/setlist"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "trackid/nowplaying"

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// client is the subset of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Message is the JSON payload.
type Message struct {
	Channel         string    `json:"channel"`
	Title           string    `json:"title"`
	Artists         []string  `json:"artists"`
	Album           string    `json:"album,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	IdentifiedAt    time.Time `json:"identified_at"`
	AddedBy         string    `json:"added_by,omitempty"`
}

// Publisher sends now-playing messages.
type Publisher struct {
	client  client
	topic   string
	channel string
	timeout time.Duration
}

// New configures a publisher for broker (e.g. tcp://localhost:1883). Call Connect before Publish.
func New(broker, topic, channel string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("trackid-%s-%d", channel, time.Now().UnixNano()%100000))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("connected to MQTT broker", slog.String("broker", broker), slog.String("component", "nowplaying"))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", slog.Any("err", err), slog.String("component", "nowplaying"))
	})
	return newPublisher(mqtt.NewClient(opts), topic, channel)
}

func newPublisher(c client, topic, channel string) *Publisher {
	return &Publisher{client: c, topic: topic, channel: channel, timeout: 10 * time.Second}
}

// Topic returns the topic messages are published to.
func (p *Publisher) Topic() string { return p.topic }

// Connect dials the broker and waits for the session.
func (p *Publisher) Connect(ctx context.Context) error {
	if err := wait(ctx, p.client.Connect(), 30*time.Second); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Publish sends song as the retained now-playing message.
func (p *Publisher) Publish(ctx context.Context, song setlist.Song) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(Message{
		Channel:         p.channel,
		Title:           song.Title,
		Artists:         song.Artists,
		Album:           song.Album,
		DurationSeconds: int(song.Duration / time.Second),
		IdentifiedAt:    song.Timestamp.UTC(),
		AddedBy:         song.AddedBy,
	})
	if err != nil {
		return err
	}
	if err := wait(ctx, p.client.Publish(p.topic, 1, true, payload), p.timeout); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", p.topic, err)
	}
	slog.Debug("now playing published", slog.String("topic", p.topic), slog.String("title", song.Title), slog.String("component", "nowplaying"))
	return nil
}

// Close disconnects, allowing in-flight messages a short grace.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return errors.New("timeout")
	}
}

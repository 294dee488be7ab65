package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// errNotConnected is returned by Say before the IRC session is up.
var errNotConnected = errors.New("not connected to chat")

// ircClient is the subset of *twitch.Client the bot uses.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
	Say(channel, text string)
}

// Bot connects to the channel's chat, dispatches commands and provides the
// raw send primitive for the Messenger.
type Bot struct {
	Channel   string
	Username  string
	PrintOnly bool

	client    ircClient
	cmds      *Commands
	msgr      *Messenger
	now       func() time.Time
	connected atomic.Bool
	greeted   atomic.Bool
	wg        sync.WaitGroup
}

// NewBot creates a bot for channel logged in as username with a user OAuth token
// (chat:read and chat:edit scopes).
func NewBot(channel, username, token string, printOnly bool) *Bot {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return newBot(channel, username, printOnly, twitch.NewClient(username, token))
}

func newBot(channel, username string, printOnly bool, client ircClient) *Bot {
	return &Bot{
		Channel:   strings.ToLower(strings.TrimPrefix(channel, "#")),
		Username:  username,
		PrintOnly: printOnly,
		client:    client,
		now:       time.Now,
	}
}

// Attach sets the command set and the messenger used for the join greeting.
func (b *Bot) Attach(cmds *Commands, msgr *Messenger) {
	b.cmds = cmds
	b.msgr = msgr
}

// Say sends one message to the channel. It is the Messenger's SendFunc.
func (b *Bot) Say(_ context.Context, text string) error {
	if !b.connected.Load() {
		return errNotConnected
	}
	b.client.Say(b.Channel, text)
	return nil
}

// Connected reports whether the IRC session is established.
func (b *Bot) Connected() bool { return b.connected.Load() }

// Run connects and blocks until ctx is cancelled or the connection fails.
// In-flight command handlers are awaited before returning.
func (b *Bot) Run(ctx context.Context) error {
	if b.cmds == nil || b.msgr == nil {
		return errors.New("bot has no commands attached")
	}
	log := slog.Default().With(slog.String("component", "chat"), slog.String("channel", b.Channel))

	b.client.OnConnect(func() {
		b.connected.Store(true)
		log.Info("connected to chat")
		if b.PrintOnly || !b.greeted.CompareAndSwap(false, true) {
			return
		}
		b.spawn(func() {
			msg := Greeting(b.now()) + " Type '!track' to identify the current song playing."
			if err := b.msgr.Send(ctx, msg); err != nil {
				log.Warn("greeting failed", slog.Any("err", err))
			}
		})
	})
	b.client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		if strings.EqualFold(m.User.Name, b.Username) {
			return
		}
		author := m.User.DisplayName
		if author == "" {
			author = m.User.Name
		}
		ev, ok := ParseCommand(m.Message, author)
		if !ok || !b.cmds.Known(ev.Name) {
			return
		}
		b.spawn(func() {
			err := b.cmds.Handle(ctx, ev)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
			case errors.Is(err, ErrSend):
				log.Warn("reply not delivered", slog.String("command", ev.Name), slog.Any("err", err))
			default:
				log.Error("command failed", slog.String("command", ev.Name), slog.Any("err", err))
			}
		})
	})

	b.client.Join(b.Channel)
	errCh := make(chan error, 1)
	go func() { errCh <- b.client.Connect() }()

	var err error
	select {
	case <-ctx.Done():
		if derr := b.client.Disconnect(); derr != nil {
			log.Debug("disconnect", slog.Any("err", derr))
		}
		<-errCh
	case err = <-errCh:
	}
	b.connected.Store(false)
	b.wg.Wait()
	if err == nil || errors.Is(err, twitch.ErrClientDisconnected) {
		log.Info("chat stopped")
		return nil
	}
	return fmt.Errorf("twitch chat: %w", err)
}

func (b *Bot) spawn(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

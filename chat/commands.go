package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/trackid/identify"
	"github.com/onnwee/trackid/poll"
	"github.com/onnwee/trackid/setlist"
	"github.com/onnwee/trackid/telemetry"
)

// Event is one inbound chat command.
type Event struct {
	Name   string // lower-cased, without the "!" prefix
	Args   []string
	Raw    string // full message text
	Author string
}

// ParseCommand turns a "!name args..." message into an Event.
func ParseCommand(text, author string) (Event, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return Event{}, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return Event{}, false
	}
	return Event{Name: strings.ToLower(fields[0]), Args: fields[1:], Raw: text, Author: author}, true
}

// rest returns the text after the command word.
func (e Event) rest() string {
	_, after, _ := strings.Cut(e.Raw, " ")
	return strings.TrimSpace(after)
}

// Identifier is the orchestrator surface the commands need.
type Identifier interface {
	Trigger(ctx context.Context, quiet bool) (identify.Outcome, error)
	SetSilenced(v bool)
}

// Options tunes the command handlers.
type Options struct {
	AddWindow    time.Duration
	UndoWindow   time.Duration
	RecentWindow time.Duration // last song still counts as "currently playing"
}

// Commands implements the chat command set on top of the messenger.
type Commands struct {
	opts  Options
	msgr  *Messenger
	ident Identifier
	store *setlist.Store
	polls *poll.Manager
	now   func() time.Time

	handlers map[string]func(ctx context.Context, ev Event) error
}

// NewCommands wires the handlers.
func NewCommands(opts Options, msgr *Messenger, ident Identifier, store *setlist.Store) *Commands {
	c := &Commands{opts: opts, msgr: msgr, ident: ident, store: store, polls: &poll.Manager{}, now: time.Now}
	c.handlers = map[string]func(context.Context, Event) error{
		"track":    c.track,
		"playing":  c.track,
		"tune":     c.track,
		"identify": c.track,
		"bothelp":  c.help,
		"majhelp":  c.help,
		"add":      c.add,
		"remove":   c.remove,
		"undo":     c.remove,
		"score":    c.score,
		"last":     c.last,
		"lastsong": c.last,
		"setlist":  c.setlist,
		"quiet":    c.quiet,
		"poll":     c.poll,
		"majpoll":  c.poll,
		"vote":     c.vote,
		"greet":    c.greet,
	}
	return c
}

// Known reports whether name is a registered command.
func (c *Commands) Known(name string) bool {
	_, ok := c.handlers[name]
	return ok
}

// Handle dispatches ev. Unknown commands are ignored. Only send errors are returned.
func (c *Commands) Handle(ctx context.Context, ev Event) error {
	h, ok := c.handlers[ev.Name]
	if !ok {
		return nil
	}
	telemetry.RecordCommand(ev.Name)
	return h(ctx, ev)
}

func (c *Commands) track(ctx context.Context, _ Event) error {
	_, err := c.ident.Trigger(ctx, false)
	return err
}

func (c *Commands) help(ctx context.Context, _ Event) error {
	return c.msgr.Send(ctx, helpText)
}

func (c *Commands) recentMessage(ctx context.Context) error {
	msg, err := c.store.RecentMessage(c.opts.RecentWindow)
	if errors.Is(err, setlist.ErrEmpty) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.msgr.Send(ctx, msg)
}

func (c *Commands) add(ctx context.Context, ev Event) error {
	parts := strings.Split(ev.rest(), ";")
	if len(parts) < 2 {
		return c.msgr.Send(ctx, "command usage: !add song;artist")
	}
	title, artist := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	switch strings.ToLower(title) {
	case "", "song", "title":
		return nil
	}
	if artist == "" || strings.EqualFold(artist, "artist") {
		return nil
	}
	if since, ok := c.store.SinceLast(); ok && since < c.opts.AddWindow {
		slog.Info("add rejected, a song was recorded moments ago", slog.String("component", "chat"))
		return c.recentMessage(ctx)
	}

	song := setlist.Song{Title: title, Artists: []string{artist}, AddedBy: strings.ToLower(ev.Author)}
	isNew, err := c.store.Add(song)
	if err != nil {
		slog.Error("manual add failed", slog.Any("err", err), slog.String("component", "chat"))
		telemetry.Inc(telemetry.PersistFailures)
		return nil
	}
	telemetry.SetSetlistSize(c.store.Len())
	if !isNew {
		return c.msgr.Send(ctx, fmt.Sprintf(`"%s" is already in the setlist`, song.Title))
	}
	return c.msgr.Send(ctx, setlist.AddedMessage(song))
}

func (c *Commands) remove(ctx context.Context, ev Event) error {
	force := false
	for _, a := range ev.Args {
		if strings.EqualFold(a, "force") {
			force = true
		}
	}
	song, ok, err := c.store.UndoLastAttributed(c.opts.UndoWindow, force)
	if err != nil {
		slog.Error("undo failed", slog.Any("err", err), slog.String("component", "chat"))
		return nil
	}
	if !ok {
		return nil
	}
	telemetry.SetSetlistSize(c.store.Len())
	return c.msgr.Send(ctx, setlist.RemovedMessage(song))
}

func (c *Commands) score(ctx context.Context, ev Event) error {
	if c.store.Len() == 0 {
		return nil
	}
	scores := c.store.Scores()
	if len(ev.Args) > 0 && strings.EqualFold(ev.Args[0], "top") {
		if len(scores) == 0 {
			return nil
		}
		type entry struct {
			user string
			n    int
		}
		ranked := make([]entry, 0, len(scores))
		for u, n := range scores {
			ranked = append(ranked, entry{u, n})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].n != ranked[j].n {
				return ranked[i].n > ranked[j].n
			}
			return ranked[i].user < ranked[j].user
		})
		msg := fmt.Sprintf("%s is in the lead and has ID'ed %d songs this stream!", ranked[0].user, ranked[0].n)
		if len(ranked) > 1 {
			msg += fmt.Sprintf(" %s is right behind with %d songs ID'ed so far!", ranked[1].user, ranked[1].n)
		}
		return c.msgr.Send(ctx, msg)
	}

	var msg string
	switch n := scores[strings.ToLower(ev.Author)]; n {
	case 0:
		msg = fmt.Sprintf("%s, you have not ID'ed anything yet!", ev.Author)
	case 1:
		msg = fmt.Sprintf("%s, you have ID'ed only one song so far this stream!", ev.Author)
	default:
		msg = fmt.Sprintf("%s, you have ID'ed %d songs so far this stream!", ev.Author, n)
	}
	return c.msgr.Send(ctx, msg)
}

func (c *Commands) last(ctx context.Context, ev Event) error {
	total := c.store.Len()
	if total == 0 {
		return nil
	}
	n := 1
	if len(ev.Args) > 0 {
		if v, err := strconv.Atoi(ev.Args[0]); err == nil && v > 1 && v < total {
			n = v
		}
	}
	if n == 1 {
		return c.recentMessage(ctx)
	}
	return c.msgr.Send(ctx, c.store.RecentText(n), setlist.Separator)
}

func (c *Commands) setlist(ctx context.Context, _ Event) error {
	if c.store.Len() == 0 {
		return nil
	}
	return c.msgr.Send(ctx, c.store.SetlistText(), setlist.Separator)
}

func (c *Commands) quiet(_ context.Context, ev Event) error {
	off := len(ev.Args) > 0 && strings.EqualFold(ev.Args[0], "off")
	c.ident.SetSilenced(!off)
	return nil
}

func (c *Commands) poll(ctx context.Context, ev Event) error {
	question := ev.rest()
	switch {
	case question == "":
		p := c.polls.Current()
		if p == nil {
			return nil
		}
		return c.msgr.SendBatch(ctx, p.ResultsText(fmt.Sprintf("Current poll: %s? Type !vote with your answer... ", p.Question)))
	case strings.EqualFold(question, "end"):
		p, ok := c.polls.End()
		if !ok {
			return nil
		}
		return c.msgr.SendBatch(ctx, p.ResultsText(fmt.Sprintf("The poll has ended: %s? ", p.Question)))
	default:
		p, started := c.polls.Start(question)
		if !started {
			return nil
		}
		return c.msgr.Send(ctx, fmt.Sprintf("A new poll has started: %s? Type !vote with your answer", p.Question))
	}
}

func (c *Commands) vote(_ context.Context, ev Event) error {
	if p := c.polls.Current(); p != nil {
		p.Vote(ev.Author, ev.rest())
	}
	return nil
}

func (c *Commands) greet(ctx context.Context, ev Event) error {
	today := c.now()
	if name := ev.rest(); name != "" {
		return c.msgr.Send(ctx, WelcomeGreeting(name, today.Weekday()))
	}
	return c.msgr.Send(ctx, Greeting(today))
}

// Package announce posts the finished setlist to chat apps (Discord, Slack,
// Telegram, ...) through shoutrrr service URLs.
package announce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// credentialPattern masks the user-info and token parts of service URLs in errors.
var credentialPattern = regexp.MustCompile(`([a-z+]+://)[^@/\s]+@`)

// Poster fans a message out to every configured service.
type Poster struct {
	urls   []string
	sender *router.ServiceRouter
}

// New validates urls and builds the sender. timeout <= 0 keeps the router default.
func New(urls []string, timeout time.Duration) (*Poster, error) {
	urls = slices.DeleteFunc(slices.Clone(urls), func(u string) bool { return strings.TrimSpace(u) == "" })
	if len(urls) == 0 {
		return nil, errors.New("announce: at least one service URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("announce: %s", sanitize(err))
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &Poster{urls: urls, sender: sender}, nil
}

// Services returns how many services a post goes to.
func (p *Poster) Services() int { return len(p.urls) }

// Post sends message with an optional title. Errors from all services are joined.
func (p *Poster) Post(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}
	var errs []error
	for _, err := range p.sender.Send(message, &params) {
		if err != nil {
			errs = append(errs, errors.New(sanitize(err)))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("announce: %w", errors.Join(errs...))
	}
	slog.Info("setlist announced", slog.Int("services", len(p.urls)), slog.String("component", "announce"))
	return nil
}

func sanitize(err error) string {
	return credentialPattern.ReplaceAllString(err.Error(), "${1}***@")
}

// SetlistMessage builds the "<show> YYYY-MM-DD[: url]" headline followed by the setlist body.
func SetlistMessage(show string, date time.Time, playlistURL, body string) (title, message string) {
	title = fmt.Sprintf("%s %s", show, date.Format(time.DateOnly))
	message = title
	if playlistURL != "" {
		message += ": " + playlistURL
	}
	if body = strings.TrimSpace(body); body != "" {
		message += "\n\n" + body
	}
	return title, message
}

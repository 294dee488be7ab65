package chat

import (
	"fmt"
	"math/rand"
	"time"
)

var greetings = []string{
	"/me has landed!",
	"/me is in the house!",
	"a wild trackid bot has appeared.",
	"yo yo yo it's your favorite bot bud !",
	"It's your friendly neighborhood bot bud!",
}

var discoGreetings = []string{
	"/me would like to welcome you to Disco Friday!",
	"Who's ready for Disco Friday?! this bot is ready!",
	"/me is ready to shake it for Disco Friday!",
	"/me learned how to spell D-I-S-C-O F-R-I-D-A-Y !",
}

var jazzGreetings = []string{
	"/me would like to welcome you to Monday Jazz Club!",
	"Who's ready for a relaxing Monday Jazz Club? this bot is.",
	"/me is ready to take it easy for Monday Jazz Club...",
}

var soulGreetings = []string{
	"/me would like to welcome you to Soulful Wednesday!",
	"Who's ready for Soulful Wednesday?! this bot is ready!",
	"/me is ready to get soulful for Soulful Wednesday!",
	"choo choo all aboard the soul train for Soulful Wednesday!",
}

var unknownReplies = []string{
	"I can't tell what's playing...",
	"I'm not too sure what's playing right now...",
	"beep boop. I do not know this song...",
	"I have no idea what song is playing...",
}

var troubleReplies = []string{
	"I had trouble listening. Please try again ...",
	"I didn't get that. Please try again ...",
	"Could you try again please? I'm not sure I heard that.",
}

var stillTryingReplies = []string{
	"Gimme a second, I'm still trying to listen.",
	"I'm already trying to identify!",
}

const helpText = `Type "!track" to identify the current song playing. "!last" for last song identified or "!last X" to get last X songs identified.`

func pick(list []string) string { return list[rand.Intn(len(list))] } //nolint:gosec // reply variety only

// Greeting returns a weekday themed greeting.
func Greeting(day time.Time) string {
	switch day.Weekday() {
	case time.Monday:
		return pick(jazzGreetings)
	case time.Wednesday:
		return pick(soulGreetings)
	case time.Friday:
		return pick(discoGreetings)
	default:
		return pick(greetings)
	}
}

// StreamName is the themed show name for day, or "the stream".
func StreamName(day time.Weekday) string {
	switch day {
	case time.Monday:
		return "Monday Jazz Club"
	case time.Wednesday:
		return "Soulful Wednesday"
	case time.Friday:
		return "Disco Friday"
	default:
		return "the stream"
	}
}

// WelcomeGreeting greets a named viewer.
func WelcomeGreeting(name string, day time.Weekday) string {
	return fmt.Sprintf("Welcome %s to %s!", name, StreamName(day))
}

// UnknownReply is sent when nothing matched the clip.
func UnknownReply() string { return pick(unknownReplies) }

// TroubleReply is sent when no usable audio was captured.
func TroubleReply() string { return pick(troubleReplies) }

// StillTryingReply is sent every few triggers while a run is in flight.
func StillTryingReply() string { return pick(stillTryingReplies) }

// Package chat is the bot's chat surface.
//
// It provides:
//   - Bot: the go-twitch-irc connection. It ignores the bot's own messages,
//     parses "!command" messages and hands them to Commands, and exposes Say
//     as the raw send primitive.
//   - Messenger: every outbound reply goes through it. Replies longer than the
//     platform limit are chunked at preferred separators, chunks are paced with
//     a random delay, and identical texts within a short window are dropped.
//   - Commands: track, add/remove, score, last, setlist, quiet, poll/vote, greet.
//   - LiveWatcher: marks the setlist session start when the channel goes live
//     and stops the service once it has been offline past a grace period.
//
// Credentials: the IRC client requires a bot username and a user OAuth token
// with chat:read/chat:edit scopes. The Helix app token used by LiveWatcher
// cannot be used for chat.
package chat

// Package poll runs simple one-question chat polls: one vote per user, free-text
// answers compared case-insensitively.
package poll

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// maxMessageLen keeps each results message under the chat ceiling.
const maxMessageLen = 500

// Tally is the vote count of one answer.
type Tally struct {
	Answer string
	Votes  int
}

// Poll is a single question. Safe for concurrent use.
type Poll struct {
	Question string

	mu      sync.Mutex
	answers map[string]string // user -> answer
	ended   bool
}

// New starts a poll.
func New(question string) *Poll {
	return &Poll{Question: strings.TrimRight(strings.TrimSpace(question), "?"), answers: map[string]string{}}
}

// Vote records user's answer, replacing an earlier vote. Votes after End are ignored.
func (p *Poll) Vote(user, answer string) bool {
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return false
	}
	p.answers[strings.ToLower(user)] = answer
	return true
}

// End closes voting. It reports false when the poll had already ended.
func (p *Poll) End() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended {
		return false
	}
	p.ended = true
	return true
}

// Ended reports whether voting is closed.
func (p *Poll) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// TotalVotes is the number of users who voted.
func (p *Poll) TotalVotes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.answers)
}

// Results returns answers ordered by votes, ties broken alphabetically.
func (p *Poll) Results() []Tally {
	p.mu.Lock()
	counts := map[string]int{}
	for _, a := range p.answers {
		counts[a]++
	}
	p.mu.Unlock()

	out := make([]Tally, 0, len(counts))
	for a, n := range counts {
		out = append(out, Tally{Answer: a, Votes: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Votes != out[j].Votes {
			return out[i].Votes > out[j].Votes
		}
		return out[i].Answer < out[j].Answer
	})
	return out
}

// ResultsText renders prefix followed by the tallies, packed into chat-sized messages.
func (p *Poll) ResultsText(prefix string) []string {
	results := p.Results()
	total := p.TotalVotes()
	if total == 0 {
		return []string{prefix + "No votes yet."}
	}
	var msgs []string
	cur := prefix + fmt.Sprintf("%d votes: ", total)
	for i, r := range results {
		entry := fmt.Sprintf("%s (%d, %d%%)", r.Answer, r.Votes, r.Votes*100/total)
		if i < len(results)-1 {
			entry += " | "
		}
		if len(cur)+len(entry) >= maxMessageLen {
			msgs = append(msgs, strings.TrimSpace(cur))
			cur = ""
		}
		cur += entry
	}
	return append(msgs, strings.TrimSpace(cur))
}

// Manager holds the current poll and the history of ended ones.
type Manager struct {
	mu      sync.Mutex
	current *Poll
	past    []*Poll
}

// Start opens a new poll unless one is still running; it returns the running poll and false then.
func (m *Manager) Start(question string) (*Poll, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && !m.current.Ended() {
		return m.current, false
	}
	m.current = New(question)
	return m.current, true
}

// Current returns the latest poll, ended or not.
func (m *Manager) Current() *Poll {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// End closes the running poll and archives it.
func (m *Manager) End() (*Poll, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.End() {
		return nil, false
	}
	m.past = append(m.past, m.current)
	return m.current, true
}

// Past returns ended polls in order.
func (m *Manager) Past() []*Poll {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Poll(nil), m.past...)
}

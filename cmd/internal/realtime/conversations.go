package realtime

import (
	"sort"
	"sync"
	"time"
)

// Message is one chat message inside a conversation thread.
type Message struct {
	From    string
	Content string
	Mine    bool
	SentAt  time.Time
}

// Conversations is the in-memory chat store, keyed by the peer uid (the
// conversation partner, never the local user).
//
// Unread counters only move on inbound messages; sending never marks a
// thread unread.
type Conversations struct {
	mu      sync.Mutex
	threads map[string][]Message
	unread  map[string]int
}

// NewConversations constructs an empty store.
func NewConversations() *Conversations {
	return &Conversations{
		threads: make(map[string][]Message),
		unread:  make(map[string]int),
	}
}

// Add appends a message to peer's thread. mine marks a locally sent
// message; inbound messages increment the peer's unread counter.
func (c *Conversations) Add(peer, from, content string, mine bool, at time.Time) {
	if peer == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.threads[peer] = append(c.threads[peer], Message{From: from, Content: content, Mine: mine, SentAt: at})
	if !mine {
		c.unread[peer]++
	}
}

// Messages returns a copy of peer's thread, oldest first. Unknown peers
// yield an empty, non-nil slice.
func (c *Conversations) Messages(peer string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.threads[peer]))
	copy(out, c.threads[peer])
	return out
}

// MarkRead zeroes peer's unread counter.
func (c *Conversations) MarkRead(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unread, peer)
}

// Unread returns peer's unread counter.
func (c *Conversations) Unread(peer string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[peer]
}

// TotalUnread returns the unread count summed over all threads.
func (c *Conversations) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, n := range c.unread {
		total += n
	}
	return total
}

// Peers lists every peer with a thread, sorted for stable iteration.
func (c *Conversations) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.threads))
	for peer := range c.threads {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}

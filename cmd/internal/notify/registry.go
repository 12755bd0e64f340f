package notify

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	v1 "betsweb/shared/contracts/notify/v1"
)

// client is one registered websocket connection.
//
// Send is intentionally never closed by the server so concurrent
// broadcasters cannot panic on it; done signals goroutines to stop.
type client struct {
	uid  string
	role string
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(uid, role string, queueSize int) *client {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &client{
		uid:  uid,
		role: role,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue is non-blocking: a full queue or a closing client drops the
// frame rather than stalling the sender.
func (c *client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrBackpressure
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Registry tracks the registered connection per user id and implements
// roster snapshots, chat relay, and broadcast fanout.
//
// One connection per uid: a new register for the same uid replaces the
// old connection, which is closed.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewRegistry constructs an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, clients: make(map[string]*client)}
}

// register installs a connection for uid, replacing any previous one.
func (r *Registry) register(uid, role string, queueSize int) *client {
	cl := newClient(uid, role, queueSize)

	r.mu.Lock()
	old := r.clients[uid]
	r.clients[uid] = cl
	r.mu.Unlock()

	if old != nil {
		old.close()
		r.log.Info("notify.register.replace", "uid", uid)
	}
	r.log.Info("notify.register", "uid", uid, "role", role)
	return cl
}

// unregister removes cl if it is still the current connection for uid.
// A replaced connection must not evict its replacement.
func (r *Registry) unregister(cl *client) {
	r.mu.Lock()
	if r.clients[cl.uid] == cl {
		delete(r.clients, cl.uid)
	}
	r.mu.Unlock()

	cl.close()
	r.log.Info("notify.unregister", "uid", cl.uid)
}

// Online reports whether uid has a registered connection.
func (r *Registry) Online(uid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[uid]
	return ok
}

// Roster returns the sorted uids of all registered connections.
func (r *Registry) Roster() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.clients))
	for uid := range r.clients {
		out = append(out, uid)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Relay delivers a direct chat message to its addressee, stamping the
// sender's uid so clients never trust a client-supplied "from".
func (r *Registry) Relay(from, to, message string) error {
	r.mu.RLock()
	dst := r.clients[to]
	r.mu.RUnlock()

	if dst == nil {
		return ErrRecipientOffline
	}

	data, err := json.Marshal(v1.ChatRelay{Type: v1.TypeChatMessage, From: from, To: to, Message: message})
	if err != nil {
		return err
	}
	if err := dst.enqueue(data); err != nil {
		return err
	}

	r.log.Info("notify.chat.relay", "from", from, "to", to)
	return nil
}

// Broadcast fans a notification out to every registered connection and
// returns the number of clients it was queued for. Slow clients are
// skipped, never waited on.
func (r *Registry) Broadcast(n v1.Notification) int {
	data, err := json.Marshal(n)
	if err != nil {
		return 0
	}

	r.mu.RLock()
	targets := make([]*client, 0, len(r.clients))
	for _, cl := range r.clients {
		targets = append(targets, cl)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, cl := range targets {
		if cl.enqueue(data) == nil {
			delivered++
		}
	}

	r.log.Info("notify.broadcast", "type", n.Type, "delivered", delivered)
	return delivered
}

// sendRoster queues the current roster snapshot on cl.
func (r *Registry) sendRoster(cl *client) error {
	data, err := json.Marshal(v1.NewOnlineUsers(r.Roster()))
	if err != nil {
		return err
	}
	return cl.enqueue(data)
}

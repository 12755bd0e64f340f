package realtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"betsweb/cmd/identity"
	"betsweb/cmd/internal/session"
	v1 "betsweb/shared/contracts/notify/v1"
)

// ClientConfig configures the orchestrated realtime client.
type ClientConfig struct {
	Channel          ChannelConfig
	PresenceInterval time.Duration
}

// ClientHooks are the client's outbound callbacks.
type ClientHooks struct {
	// OnNotification receives generic server pushes.
	OnNotification func(v1.Notification)
	// OnStateChange observes channel lifecycle transitions.
	OnStateChange func(State)
}

// Client ties the pieces of a signed-in user's realtime presence
// together: identity sign-in, session slot acquisition, heartbeats, the
// notification channel, presence polling, and the chat store.
type Client struct {
	log       *slog.Logger
	idp       identity.Provider
	ledger    *session.Ledger
	heartbeat *session.Heartbeat
	channel   *Channel
	presence  *Presence
	convs     *Conversations
	hooks     ClientHooks

	mu        sync.Mutex
	uid       string
	role      string
	sessionID string
}

// NewClient wires a realtime client. dialer is swapped for a fake in
// tests.
func NewClient(
	log *slog.Logger,
	idp identity.Provider,
	ledger *session.Ledger,
	heartbeat *session.Heartbeat,
	dialer Dialer,
	cfg ClientConfig,
	hooks ClientHooks,
) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		log:       log,
		idp:       idp,
		ledger:    ledger,
		heartbeat: heartbeat,
		convs:     NewConversations(),
		hooks:     hooks,
	}

	channel, err := NewChannel(log, dialer, cfg.Channel, ChannelHooks{
		OnEvent:       c.handleEvent,
		OnStateChange: c.handleState,
	})
	if err != nil {
		return nil, err
	}
	c.channel = channel
	c.presence = NewPresence(log, channel.RequestRoster, cfg.PresenceInterval)
	return c, nil
}

// Login signs in, claims a session slot, and brings the realtime stack
// up. A full session cap aborts the login with
// session.ErrSessionLimitExceeded; a failed channel connect does not,
// the channel's retry budget covers transient network trouble.
func (c *Client) Login(ctx context.Context, email, password string) error {
	cred, err := c.idp.SignIn(ctx, email, password)
	if err != nil {
		return err
	}

	role := session.Role(strings.ToLower(cred.Role))

	// Drop abandoned sessions first so a crashed tab cannot hold the
	// slot forever. Best effort: acquire decides either way.
	if _, err := c.ledger.ReconcileStale(ctx, cred.UID, 0); err != nil {
		c.log.Warn("client.reconcile.fail", "uid", cred.UID, "err", err)
	}

	sessionID, err := c.ledger.Acquire(ctx, cred.UID, role)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.uid, c.role, c.sessionID = cred.UID, cred.Role, sessionID
	c.mu.Unlock()

	c.heartbeat.Start(cred.UID, sessionID)

	// Presence follows the channel through handleState: it starts when
	// the channel opens and stops when the channel gives up, so a failed
	// connect leaves no poller hammering a dead transport.
	if err := c.channel.Connect(ctx, cred.UID, cred.Role); err != nil {
		c.log.Warn("client.channel.connect.fail", "uid", cred.UID, "err", err)
	}

	c.log.Info("client.login", "uid", cred.UID, "session_id", sessionID)
	return nil
}

// Logout tears the realtime stack down in reverse order and releases the
// session slot. Safe to call when not logged in.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	uid, sessionID := c.uid, c.sessionID
	c.uid, c.role, c.sessionID = "", "", ""
	c.mu.Unlock()

	if uid == "" {
		return nil
	}

	// Channel first: closing the connection unblocks any presence poll
	// stuck in a transport write before the poller is stopped.
	c.channel.Disconnect()
	c.presence.Stop()
	c.heartbeat.Stop()

	err := c.ledger.Release(ctx, uid, sessionID)
	if serr := c.idp.SignOut(ctx, uid); serr != nil && err == nil {
		err = serr
	}

	c.log.Info("client.logout", "uid", uid, "session_id", sessionID)
	return err
}

// SendChat sends a direct message and records it in the local thread.
func (c *Client) SendChat(ctx context.Context, to, message string) error {
	if err := c.channel.SendChat(ctx, to, message); err != nil {
		return err
	}

	c.mu.Lock()
	self := c.uid
	c.mu.Unlock()

	c.convs.Add(to, self, message, true, time.Now().UTC())
	return nil
}

// UID returns the signed-in user id, or "" when logged out.
func (c *Client) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

// Channel exposes the underlying notification channel.
func (c *Client) Channel() *Channel { return c.channel }

// Presence exposes the roster view.
func (c *Client) Presence() *Presence { return c.presence }

// Conversations exposes the chat store.
func (c *Client) Conversations() *Conversations { return c.convs }

func (c *Client) handleEvent(ev v1.Event) {
	now := time.Now().UTC()

	switch e := ev.(type) {
	case v1.OnlineUsersEvent:
		c.presence.Replace(e.Users)

	case v1.ChatEvent:
		c.mu.Lock()
		self := c.uid
		c.mu.Unlock()

		// Thread key is always the non-self participant.
		peer, mine := e.From, false
		if e.From == self {
			peer, mine = e.To, true
		}
		c.convs.Add(peer, e.From, e.Message, mine, now)

		// Chat is also surfaced on the notification stream, so observers
		// that only watch notifications still see incoming messages.
		c.notify(v1.Notification{
			ID:        newEventID(),
			Type:      v1.TypeChatMessage,
			Title:     e.From,
			Message:   e.Message,
			Data:      map[string]any{"from": e.From, "to": e.To},
			Timestamp: now.UnixMilli(),
		})

	case v1.ErrorEvent:
		c.notify(v1.Notification{
			ID:        newEventID(),
			Type:      "error",
			Title:     "Error",
			Message:   e.Err,
			Timestamp: now.UnixMilli(),
		})

	case v1.Notification:
		c.notify(e)
	}
}

func (c *Client) notify(n v1.Notification) {
	if c.hooks.OnNotification != nil {
		c.hooks.OnNotification(n)
	}
}

// handleState runs on the channel's transition path and keeps the
// presence poller in lockstep with the connection: polling while open,
// idle once the channel has given up. Presence.Stop cancels without
// joining, so calling it here cannot deadlock against a poll that is
// mid-call back into the channel.
func (c *Client) handleState(st State) {
	switch st {
	case StateOpen:
		c.presence.Start()
	case StateDisconnected:
		c.presence.Stop()
	}
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(st)
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"betsweb/cmd/identity/ids"
	v1 "betsweb/shared/contracts/notify/v1"
)

// State is the channel lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ChannelConfig defines the channel's connection behavior.
type ChannelConfig struct {
	// URL is the websocket endpoint.
	URL string

	// RetryDelay is the fixed delay between reconnect attempts.
	RetryDelay time.Duration

	// MaxRetries is the number of reconnect attempts per connection drop.
	// Once spent, the channel stays disconnected until Connect is called
	// again.
	MaxRetries int
}

// DefaultChannelConfig returns defaults suitable for development.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		RetryDelay: 2 * time.Second,
		MaxRetries: 3,
	}
}

// ChannelHooks are the channel's outbound callbacks.
//
// Hooks run on the channel's read goroutine and must not call back into
// the Channel.
type ChannelHooks struct {
	OnEvent       func(v1.Event)
	OnStateChange func(State)
}

// Channel is a reconnecting websocket client session.
//
// Lifecycle: Disconnected -> Connecting -> Open -> (drop) -> Connecting
// -> ... A manual Disconnect suppresses reconnection; exhausting the
// retry budget leaves the channel Disconnected until the next Connect.
type Channel struct {
	log    *slog.Logger
	dialer Dialer
	cfg    ChannelConfig
	hooks  ChannelHooks

	mu     sync.Mutex
	state  State
	conn   Conn
	cancel context.CancelFunc
	manual bool
	uid    string
	role   string

	// gen is bumped by Connect and Disconnect so read/reconnect loops of
	// a superseded connection cannot clobber newer state.
	gen uint64
}

// NewChannel constructs a disconnected channel.
func NewChannel(log *slog.Logger, dialer Dialer, cfg ChannelConfig, hooks ChannelHooks) (*Channel, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrConfig
	}
	def := DefaultChannelConfig()
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Channel{log: log, dialer: dialer, cfg: cfg, hooks: hooks}, nil
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the channel for uid/role and sends the register frame.
//
// A Connect while Connecting or Open is a no-op. ctx only governs the
// initial dial; the established connection lives until Disconnect or a
// spent retry budget.
func (c *Channel) Connect(ctx context.Context, uid, role string) error {
	if strings.TrimSpace(uid) == "" {
		return ErrUnauthenticated
	}

	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	c.uid, c.role = uid, role
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.transition(gen, StateDisconnected)
		c.log.Warn("channel.connect.fail", "uid", uid, "err", err)
		return err
	}

	c.adopt(gen, conn)
	c.log.Info("channel.connect", "uid", uid, "role", role)
	return nil
}

// Disconnect tears the channel down without reconnecting. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.manual = true
	c.gen++
	c.setStateLocked(StateClosing)
	cancel, conn := c.cancel, c.conn
	c.cancel, c.conn = nil, nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.log.Info("channel.disconnect")
}

// Send marshals v as JSON onto the open connection.
func (c *Channel) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(ctx, data)
}

// SendChat sends a direct chat message to another user.
func (c *Channel) SendChat(ctx context.Context, to, message string) error {
	return c.Send(ctx, v1.ChatSend{Type: v1.TypeChatMessage, To: to, Message: message})
}

// RequestRoster asks the server for a fresh online-users snapshot.
func (c *Channel) RequestRoster(ctx context.Context) error {
	return c.Send(ctx, v1.OnlineUsersRequest{Type: v1.TypeOnlineUsers})
}

// dial establishes a connection and registers the user on it.
func (c *Channel) dial(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	uid, role := c.uid, c.role
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		return nil, err
	}

	reg := v1.NewRegister(uid, role)
	data, err := json.Marshal(reg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(ctx, data); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// adopt installs conn as the live connection for gen and starts its read
// loop. A superseded gen closes the connection instead.
func (c *Channel) adopt(gen uint64, conn Conn) {
	c.mu.Lock()
	if gen != c.gen || c.manual {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.conn = conn
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	go c.readLoop(ctx, conn, gen)
}

func (c *Channel) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			break
		}

		ev, err := v1.DecodeEvent(data, time.Now().UTC(), newEventID)
		if err != nil {
			// Malformed frames are dropped, never fatal.
			c.log.Debug("channel.event.drop", "err", err)
			continue
		}
		c.dispatch(ev)
	}
	_ = conn.Close()

	c.mu.Lock()
	if gen != c.gen {
		// A newer Connect/Disconnect owns the state now.
		c.mu.Unlock()
		return
	}
	if c.manual || ctx.Err() != nil {
		c.conn = nil
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.reconnect(ctx, gen)
}

// reconnect runs the bounded fixed-delay retry loop after an unexpected
// drop. Each drop gets a fresh budget of cfg.MaxRetries attempts.
func (c *Channel) reconnect(ctx context.Context, gen uint64) {
	attempt := 0
	var got Conn

	op := func() error {
		attempt++
		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn("channel.reconnect.fail", "attempt", attempt, "max", c.cfg.MaxRetries, "err", err)
			return err
		}
		got = conn
		return nil
	}

	// MaxRetries counts total attempts; WithMaxRetries counts retries
	// after the first.
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxRetries-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		c.log.Warn("channel.reconnect.exhausted", "attempts", attempt)
		c.transition(gen, StateDisconnected)
		return
	}

	c.adopt(gen, got)
	c.log.Info("channel.reconnect.ok", "attempts", attempt)
}

func (c *Channel) transition(gen uint64, st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.setStateLocked(st)
}

func (c *Channel) setStateLocked(st State) {
	if st == c.state {
		return
	}
	c.state = st
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(st)
	}
}

func (c *Channel) dispatch(ev v1.Event) {
	if e, ok := ev.(v1.ErrorEvent); ok {
		c.log.Warn("channel.server.error", "err", e.Err)
	}
	if c.hooks.OnEvent != nil {
		c.hooks.OnEvent(ev)
	}
}

func newEventID() string {
	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return ""
	}
	return id
}

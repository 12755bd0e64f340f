package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "betsweb/shared/contracts/notify/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout    = 5 * time.Second
	wsDefaultReadIdle        = 2 * time.Minute
	wsDefaultRegisterTimeout = 10 * time.Second
	wsCloseGrace             = 1 * time.Second

	wsMaxPingFailures = 3

	// Secure-by-default: origin required, localhost only.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the websocket entrypoint for the notification channel.
//
// It enforces origin policy, requires a register frame before anything
// else, rate-limits inbound frames, and routes them to the Registry.
type Gateway struct {
	log      *slog.Logger
	registry *Registry

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks: Accept authorizes
	// same-host origins by default, cross-origin requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	registerTimeout time.Duration
	sendQueueSize   int

	pingEvery   time.Duration
	pingTimeout time.Duration

	rateFrames int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults, overridable via
// BETSWEB_WS_* environment variables.
func NewGateway(log *slog.Logger, registry *Registry) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if registry == nil {
		registry = NewRegistry(log)
	}

	g := &Gateway{log: log, registry: registry}

	// Dev-only TLS knob; not an origin policy.
	g.devInsecure = envBool("BETSWEB_WS_DEV_INSECURE", false)

	g.originRequired = envBool("BETSWEB_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSV("BETSWEB_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDuration("BETSWEB_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDuration("BETSWEB_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)
	g.registerTimeout = envDuration("BETSWEB_WS_REGISTER_TIMEOUT", wsDefaultRegisterTimeout)

	g.sendQueueSize = envInt("BETSWEB_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.pingEvery = envDuration("BETSWEB_WS_PING_INTERVAL", pingInterval)
	g.pingTimeout = envDuration("BETSWEB_WS_PING_TIMEOUT", pingTimeout)

	g.rateFrames = envInt("BETSWEB_WS_RATE_FRAMES", rateLimitFrames)
	g.rateWindow = envDuration("BETSWEB_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// Registry exposes the connection registry (for broadcast endpoints).
func (g *Gateway) Registry() *Registry { return g.registry }

// ServeHTTP adapter so the gateway can be mounted as an http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the notification loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The first frame must register the connection; nothing is routed
	// before that.
	reg, err := g.readRegister(ctx, conn)
	if err != nil {
		g.log.Info("ws.reject.register", "err", err, "remote", r.RemoteAddr)
		metricFramesRejected.WithLabelValues("register").Inc()
		_ = conn.Close(websocket.StatusPolicyViolation, "register required")
		return
	}

	cl := g.registry.register(reg.User.LocalID, reg.User.Role, g.sendQueueSize)
	metricConnectedClients.Inc()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.registry.unregister(cl)
			metricConnectedClients.Dec()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := newRateLimiter(g.rateFrames, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-cl.done:
				return
			case data := <-cl.send:
				if err := g.writeFrame(ctx, conn, data); err != nil {
					g.log.Info("ws.write.fail", "uid", cl.uid, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)

		t := time.NewTicker(g.pingEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-cl.done:
				return
			case <-t.C:
				pctx, pcancel := context.WithTimeout(ctx, g.pingTimeout)
				err := conn.Ping(pctx)
				pcancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "uid", cl.uid, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "ping failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		data, err := g.readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				shutdown(websocket.StatusNormalClosure, "peer closed")
			} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				shutdown(websocket.StatusNormalClosure, "context done")
			} else {
				g.log.Info("ws.read.fail", "uid", cl.uid, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := time.Now().UTC()
		if !rl.allow(now) {
			metricFramesRejected.WithLabelValues("rate_limited").Inc()
			g.trySendError(cl, "too many frames")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var frame struct {
			Type    string `json:"type"`
			To      string `json:"to"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			metricFramesRejected.WithLabelValues("bad_json").Inc()
			g.trySendError(cl, "invalid JSON")
			continue readLoop
		}

		switch frame.Type {
		case v1.TypeRegister:
			// Already registered; a repeat is harmless.

		case v1.TypeOnlineUsers:
			if err := g.registry.sendRoster(cl); err != nil {
				g.log.Info("ws.roster.fail", "uid", cl.uid, "err", err)
			}

		case v1.TypeChatMessage:
			if err := g.onChat(cl, frame.To, frame.Message); err != nil {
				metricFramesRejected.WithLabelValues("chat").Inc()
				g.trySendError(cl, err.Error())
				continue readLoop
			}
			metricChatRelayed.Inc()

		default:
			metricFramesRejected.WithLabelValues("unsupported").Inc()
			g.trySendError(cl, fmt.Sprintf("unsupported type: %s", frame.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-pingDone:
	case <-time.After(wsCloseGrace):
	}
}

// Broadcast fans a notification out to every registered client.
func (g *Gateway) Broadcast(n v1.Notification) int {
	delivered := g.registry.Broadcast(n)
	metricBroadcastDelivered.Add(float64(delivered))
	return delivered
}

func (g *Gateway) onChat(cl *client, to, message string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("missing to")
	}

	text := strings.TrimSpace(message)
	if text == "" {
		return errors.New("empty message")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	// Sender identity comes from registration, never from the frame.
	return g.registry.Relay(cl.uid, to, text)
}

func (g *Gateway) readRegister(ctx context.Context, conn *websocket.Conn) (v1.Register, error) {
	rctx, cancel := context.WithTimeout(ctx, g.registerTimeout)
	defer cancel()

	data, err := g.readFrame(rctx, conn)
	if err != nil {
		return v1.Register{}, err
	}

	var reg v1.Register
	if err := json.Unmarshal(data, &reg); err != nil {
		return v1.Register{}, err
	}
	if err := reg.Validate(); err != nil {
		return v1.Register{}, err
	}
	return reg, nil
}

func (g *Gateway) readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (g *Gateway) writeFrame(parent context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (g *Gateway) trySendError(cl *client, msg string) {
	data, _ := json.Marshal(v1.ErrorFrame{Error: msg})
	_ = cl.enqueue(data)
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// Keep it strict: only hosts extracted from the allowlist.
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

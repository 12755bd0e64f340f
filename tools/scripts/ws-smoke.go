// Package main provides a CI-friendly WebSocket smoke test for the
// betsweb notify gateway.
//
// It validates:
//   - handshake with a browser-like Origin header
//   - register -> roster push with both clients online
//   - chat relay A -> B with server-stamped sender
//   - explicit roster request
//   - error frame for an offline recipient
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "betsweb/shared/contracts/notify/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 64 << 10 // matches the gateway read limit

type smokeClient struct {
	name string
	uid  string
	conn *websocket.Conn

	inbox chan json.RawMessage
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello betsweb", "Chat message to relay")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", "smoke-alice", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", "smoke-bob", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.uid, b.uid, *origin)
	}

	// B registered last, so B's roster push must already list both.
	mustSeeRoster(root, b, []string{a.uid, b.uid}, *timeout)

	mustRequestRoster(root, a, *timeout)
	mustSeeRoster(root, a, []string{a.uid, b.uid}, *timeout)

	mustSendChat(root, a, b.uid, *text, *timeout)
	mustSeeChat(root, b, a.uid, *text, *timeout)

	mustSendChat(root, a, "smoke-nobody", *text, *timeout)
	mustSeeError(root, a, *timeout)

	fmt.Printf("OK: A=%s B=%s relayed=%q\n", a.uid, b.uid, *text)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, uid, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		uid:   uid,
		conn:  conn,
		inbox: make(chan json.RawMessage, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	// The gateway requires register as the first frame.
	mustWrite(parent, c.conn, v1.NewRegister(uid, "member"), stepTimeout)

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				continue
			}

			select {
			case c.inbox <- json.RawMessage(data):
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustRequestRoster(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	mustWrite(parent, c.conn, v1.NewOnlineUsersRequest(), stepTimeout)
}

func mustSendChat(parent context.Context, c *smokeClient, to, text string, stepTimeout time.Duration) {
	mustWrite(parent, c.conn, v1.NewChatSend(to, text), stepTimeout)
}

func mustSeeRoster(parent context.Context, c *smokeClient, wantUsers []string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)

	for {
		ev := c.mustNextEvent(parent, time.Until(deadline))
		roster, ok := ev.(v1.OnlineUsersEvent)
		if !ok {
			continue
		}
		if containsAll(roster.Users, wantUsers) {
			return
		}
		// A partial roster can arrive before the second register lands.
		if time.Now().After(deadline) {
			fatalf("roster mismatch (%s): got=%v want=%v", c.name, roster.Users, wantUsers)
		}
	}
}

func mustSeeChat(parent context.Context, c *smokeClient, wantFrom, wantText string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)

	for {
		ev := c.mustNextEvent(parent, time.Until(deadline))
		chat, ok := ev.(v1.ChatEvent)
		if !ok {
			continue
		}
		if chat.From != wantFrom {
			fatalf("chat sender mismatch (%s): got=%q want=%q", c.name, chat.From, wantFrom)
		}
		if chat.Message != wantText {
			fatalf("chat text mismatch (%s): got=%q want=%q", c.name, chat.Message, wantText)
		}
		return
	}
}

func mustSeeError(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)

	for {
		ev := c.mustNextEvent(parent, time.Until(deadline))
		if _, ok := ev.(v1.ErrorEvent); ok {
			return
		}
	}
}

func (c *smokeClient) mustNextEvent(parent context.Context, wait time.Duration) v1.Event {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for event (%s): %v", c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error (%s): %v", c.name, err)
		case raw, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed (%s)", c.name)
			}
			ev, err := v1.DecodeEvent(raw, time.Now(), func() string {
				return fmt.Sprintf("smoke-%d", time.Now().UnixNano())
			})
			if err != nil {
				fatalf("bad frame (%s): %v: %s", c.name, err, raw)
			}
			return ev
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, v any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, u := range have {
		set[u] = struct{}{}
	}
	for _, u := range want {
		if _, ok := set[u]; !ok {
			return false
		}
	}
	return true
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

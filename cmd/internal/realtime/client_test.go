package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"betsweb/cmd/identity"
	"betsweb/cmd/internal/session"
	v1 "betsweb/shared/contracts/notify/v1"
)

type clientFixture struct {
	client   *Client
	dialer   *fakeDialer
	store    *session.MemoryStore
	ledger   *session.Ledger
	idp      *identity.MemoryProvider
	notified chan v1.Notification
}

func newClientFixture(t *testing.T, store *session.MemoryStore, ledger *session.Ledger, idp *identity.MemoryProvider) *clientFixture {
	t.Helper()

	f := &clientFixture{
		dialer:   &fakeDialer{},
		store:    store,
		ledger:   ledger,
		idp:      idp,
		notified: make(chan v1.Notification, 8),
	}

	heartbeat := session.NewHeartbeat(slog.Default(), store, 10*time.Millisecond)
	client, err := NewClient(slog.Default(), idp, ledger, heartbeat, f.dialer, ClientConfig{
		Channel:          testChannelConfig(),
		PresenceInterval: 50 * time.Millisecond,
	}, ClientHooks{
		OnNotification: func(n v1.Notification) { f.notified <- n },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	f.client = client
	return f
}

func (f *clientFixture) nextNotification(t *testing.T) v1.Notification {
	t.Helper()
	select {
	case n := <-f.notified:
		return n
	case <-time.After(time.Second):
		t.Fatalf("notification not delivered")
		return v1.Notification{}
	}
}

func newSharedBackend(t *testing.T) (*session.MemoryStore, *session.Ledger, *identity.MemoryProvider) {
	t.Helper()

	cfg := identity.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	tokens, err := identity.NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	idp := identity.NewMemoryProvider(tokens)
	if err := idp.AddUser("u1", "u1@example.com", "correct horse battery", "member"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	store := session.NewMemoryStore()
	ledger := session.NewLedger(slog.Default(), session.DefaultConfig(), store, idp)
	return store, ledger, idp
}

func TestClient_LoginBringsStackUp(t *testing.T) {
	store, ledger, idp := newSharedBackend(t)
	f := newClientFixture(t, store, ledger, idp)
	ctx := context.Background()

	if err := f.client.Login(ctx, "u1@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	defer func() { _ = f.client.Logout(ctx) }()

	if f.client.UID() != "u1" {
		t.Fatalf("uid=%q, want u1", f.client.UID())
	}

	rec, err := store.Get(ctx, "u1")
	if err != nil || rec.ActiveSessionsCount != 1 {
		t.Fatalf("session record: %+v err=%v", rec, err)
	}

	if got := f.client.Channel().State(); got != StateOpen {
		t.Fatalf("channel state=%v, want open", got)
	}
	if !f.client.Presence().Running() {
		t.Fatalf("presence poller not running")
	}
}

func TestClient_LogoutReleasesEverything(t *testing.T) {
	store, ledger, idp := newSharedBackend(t)
	f := newClientFixture(t, store, ledger, idp)
	ctx := context.Background()

	if err := f.client.Login(ctx, "u1@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.client.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	rec, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.ActiveSessionsCount != 0 || rec.HasActiveSession {
		t.Fatalf("session not released: %+v", rec)
	}
	if got := f.client.Channel().State(); got != StateDisconnected {
		t.Fatalf("channel state=%v, want disconnected", got)
	}
	if f.client.Presence().Running() {
		t.Fatalf("presence poller still running")
	}

	// Logout when logged out is a no-op.
	if err := f.client.Logout(ctx); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
}

func TestClient_SecondDeviceRejected(t *testing.T) {
	store, ledger, idp := newSharedBackend(t)
	deviceA := newClientFixture(t, store, ledger, idp)
	deviceB := newClientFixture(t, store, ledger, idp)
	ctx := context.Background()

	if err := deviceA.client.Login(ctx, "u1@example.com", "correct horse battery"); err != nil {
		t.Fatalf("device A login: %v", err)
	}
	defer func() { _ = deviceA.client.Logout(ctx) }()

	err := deviceB.client.Login(ctx, "u1@example.com", "correct horse battery")
	if !errors.Is(err, session.ErrSessionLimitExceeded) {
		t.Fatalf("device B: got %v, want ErrSessionLimitExceeded", err)
	}

	// The rejected device's provider login was rolled back.
	if got := idp.SignOuts(); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("sign-outs=%v, want [u1]", got)
	}

	rec, _ := store.Get(ctx, "u1")
	if rec.ActiveSessionsCount != 1 {
		t.Fatalf("count=%d after rejection, want 1", rec.ActiveSessionsCount)
	}
}

func TestClient_EventRouting(t *testing.T) {
	store, ledger, idp := newSharedBackend(t)
	f := newClientFixture(t, store, ledger, idp)
	ctx := context.Background()

	if err := f.client.Login(ctx, "u1@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	defer func() { _ = f.client.Logout(ctx) }()

	conn := f.dialer.conn(0)

	conn.in <- []byte(`{"type":"online_users","content":["u1","u2"]}`)
	waitUntil(t, time.Second, func() bool { return f.client.Presence().Snapshot().Count == 2 })

	conn.in <- []byte(`{"type":"chat_message","from":"u2","to":"u1","message":"odds?"}`)
	waitUntil(t, time.Second, func() bool { return f.client.Conversations().Unread("u2") == 1 })

	msgs := f.client.Conversations().Messages("u2")
	if len(msgs) != 1 || msgs[0].From != "u2" || msgs[0].Mine {
		t.Fatalf("unexpected thread: %+v", msgs)
	}
	// The chat message is mirrored onto the notification stream.
	if n := f.nextNotification(t); n.Type != v1.TypeChatMessage {
		t.Fatalf("chat mirror: %+v", n)
	}

	conn.in <- []byte(`{"title":"Maintenance","message":"back soon"}`)
	if n := f.nextNotification(t); n.Title != "Maintenance" || n.Type != v1.DefaultType {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestClient_SendChatRecordsOwnMessage(t *testing.T) {
	store, ledger, idp := newSharedBackend(t)
	f := newClientFixture(t, store, ledger, idp)
	ctx := context.Background()

	if err := f.client.Login(ctx, "u1@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	defer func() { _ = f.client.Logout(ctx) }()

	if err := f.client.SendChat(ctx, "u2", "taking the over"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}

	msgs := f.client.Conversations().Messages("u2")
	if len(msgs) != 1 || !msgs[0].Mine || msgs[0].Content != "taking the over" {
		t.Fatalf("unexpected thread: %+v", msgs)
	}
	if got := f.client.Conversations().Unread("u2"); got != 0 {
		t.Fatalf("own message marked unread: %d", got)
	}
}

func TestClient_ChatAndServerErrorsReachNotificationHook(t *testing.T) {
	store, ledger, idp := newSharedBackend(t)
	f := newClientFixture(t, store, ledger, idp)
	ctx := context.Background()

	if err := f.client.Login(ctx, "u1@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	defer func() { _ = f.client.Logout(ctx) }()

	conn := f.dialer.conn(0)

	conn.in <- []byte(`{"type":"chat_message","from":"u2","to":"u1","message":"line moved"}`)
	n := f.nextNotification(t)
	if n.Type != v1.TypeChatMessage || n.Message != "line moved" {
		t.Fatalf("chat notification: %+v", n)
	}
	if n.ID == "" || n.Timestamp == 0 {
		t.Fatalf("chat notification missing id/timestamp: %+v", n)
	}
	if from, _ := n.Data["from"].(string); from != "u2" {
		t.Fatalf("chat notification data: %+v", n.Data)
	}

	conn.in <- []byte(`{"error":"recipient offline"}`)
	n = f.nextNotification(t)
	if n.Type != "error" || n.Message != "recipient offline" {
		t.Fatalf("error notification: %+v", n)
	}
}

func TestClient_LogoutReturnsWithStalledTransportWrite(t *testing.T) {
	store, ledger, idp := newSharedBackend(t)
	f := newClientFixture(t, store, ledger, idp)
	ctx := context.Background()

	if err := f.client.Login(ctx, "u1@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Saturate the outbound buffer so the next presence poll blocks
	// inside the connection write.
	conn := f.dialer.conn(0)
filling:
	for {
		select {
		case conn.writes <- []byte(`{}`):
		default:
			break filling
		}
	}
	// Let at least one poll tick land on the full buffer.
	time.Sleep(120 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- f.client.Logout(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Logout: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Logout blocked behind a stalled presence poll")
	}

	if f.client.Presence().Running() {
		t.Fatalf("presence poller still running")
	}
}

func TestClient_ConnectFailureLeavesPresenceIdle(t *testing.T) {
	store, ledger, idp := newSharedBackend(t)
	f := newClientFixture(t, store, ledger, idp)
	f.dialer.setFailing(true)
	ctx := context.Background()

	// A failed channel connect is tolerated; the session is still held.
	if err := f.client.Login(ctx, "u1@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	defer func() { _ = f.client.Logout(ctx) }()

	if got := f.client.Channel().State(); got != StateDisconnected {
		t.Fatalf("channel state=%v, want disconnected", got)
	}
	if f.client.Presence().Running() {
		t.Fatalf("presence poller running without a channel")
	}
}

func TestClient_PresenceTracksChannelLifecycle(t *testing.T) {
	store, ledger, idp := newSharedBackend(t)
	f := newClientFixture(t, store, ledger, idp)
	ctx := context.Background()

	if err := f.client.Login(ctx, "u1@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	defer func() { _ = f.client.Logout(ctx) }()

	if !f.client.Presence().Running() {
		t.Fatalf("presence poller not running after login")
	}

	// Recoverable drop: the channel reconnects and presence resumes
	// polling on the fresh connection.
	f.dialer.conn(0).drop()
	waitUntil(t, 2*time.Second, func() bool {
		return f.dialer.dialCount() >= 2 && f.client.Channel().State() == StateOpen
	})
	if !f.client.Presence().Running() {
		t.Fatalf("presence poller not running after reconnect")
	}

	next := f.dialer.conn(1)
	var reg v1.Register
	if err := json.Unmarshal(next.lastWrite(t), &reg); err != nil || reg.Type != v1.TypeRegister {
		t.Fatalf("first frame after reconnect: %v %+v", err, reg)
	}
	var req v1.OnlineUsersRequest
	if err := json.Unmarshal(next.lastWrite(t), &req); err != nil || req.Type != v1.TypeOnlineUsers {
		t.Fatalf("expected roster request after reconnect: %v %+v", err, req)
	}

	// Budget exhaustion: once the channel gives up for good, the poller
	// goes idle instead of hammering a dead transport.
	f.dialer.setFailing(true)
	next.drop()
	waitUntil(t, 2*time.Second, func() bool {
		return f.client.Channel().State() == StateDisconnected
	})
	waitUntil(t, time.Second, func() bool { return !f.client.Presence().Running() })
}

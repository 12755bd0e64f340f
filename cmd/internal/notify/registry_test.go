package notify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	v1 "betsweb/shared/contracts/notify/v1"
)

func recvFrame(t *testing.T, cl *client) []byte {
	t.Helper()
	select {
	case data := <-cl.send:
		return data
	default:
		t.Fatalf("no frame queued for %s", cl.uid)
		return nil
	}
}

func TestRegistry_RosterSorted(t *testing.T) {
	r := NewRegistry(slog.Default())

	r.register("zed", "MEMBER", 8)
	r.register("amy", "ADMIN", 8)

	roster := r.Roster()
	if len(roster) != 2 || roster[0] != "amy" || roster[1] != "zed" {
		t.Fatalf("roster=%v, want sorted [amy zed]", roster)
	}
	if !r.Online("zed") || r.Online("ghost") {
		t.Fatalf("Online checks wrong")
	}
}

func TestRegistry_RegisterReplacesPreviousConnection(t *testing.T) {
	r := NewRegistry(slog.Default())

	first := r.register("u1", "MEMBER", 8)
	second := r.register("u1", "MEMBER", 8)

	select {
	case <-first.done:
	default:
		t.Fatalf("replaced connection not closed")
	}

	// The replaced connection must not evict its replacement.
	r.unregister(first)
	if !r.Online("u1") {
		t.Fatalf("stale unregister evicted the live connection")
	}

	r.unregister(second)
	if r.Online("u1") {
		t.Fatalf("live unregister did not evict")
	}
}

func TestRegistry_RelayStampsSender(t *testing.T) {
	r := NewRegistry(slog.Default())

	dst := r.register("u2", "MEMBER", 8)
	if err := r.Relay("u1", "u2", "hello"); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	var relay v1.ChatRelay
	if err := json.Unmarshal(recvFrame(t, dst), &relay); err != nil {
		t.Fatalf("unmarshal relay: %v", err)
	}
	if relay.Type != v1.TypeChatMessage || relay.From != "u1" || relay.To != "u2" || relay.Message != "hello" {
		t.Fatalf("unexpected relay: %+v", relay)
	}
}

func TestRegistry_RelayOffline(t *testing.T) {
	r := NewRegistry(slog.Default())
	if err := r.Relay("u1", "ghost", "hello"); !errors.Is(err, ErrRecipientOffline) {
		t.Fatalf("expected ErrRecipientOffline, got %v", err)
	}
}

func TestRegistry_BroadcastSkipsFullQueues(t *testing.T) {
	r := NewRegistry(slog.Default())

	healthy := r.register("u1", "MEMBER", 8)
	stuck := r.register("u2", "MEMBER", 1)

	// Fill the small queue so the broadcast cannot be enqueued there.
	if err := stuck.enqueue([]byte(`{}`)); err != nil {
		t.Fatalf("pre-fill: %v", err)
	}

	n := v1.Notification{ID: "n1", Type: "info", Title: "T", Message: "m", Timestamp: 1}
	if got := r.Broadcast(n); got != 1 {
		t.Fatalf("delivered=%d, want 1 (stuck client skipped)", got)
	}

	var out v1.Notification
	if err := json.Unmarshal(recvFrame(t, healthy), &out); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if out.ID != "n1" || out.Message != "m" {
		t.Fatalf("unexpected broadcast: %+v", out)
	}
}

func TestClient_EnqueueAfterClose(t *testing.T) {
	cl := newClient("u1", "MEMBER", 8)
	cl.close()
	cl.close() // idempotent

	if err := cl.enqueue([]byte(`{}`)); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
}

func TestRegistry_SendRoster(t *testing.T) {
	r := NewRegistry(slog.Default())

	cl := r.register("u1", "MEMBER", 8)
	r.register("u2", "MEMBER", 8)

	if err := r.sendRoster(cl); err != nil {
		t.Fatalf("sendRoster: %v", err)
	}

	var snap v1.OnlineUsers
	if err := json.Unmarshal(recvFrame(t, cl), &snap); err != nil {
		t.Fatalf("unmarshal roster: %v", err)
	}
	if snap.Type != v1.TypeOnlineUsers || len(snap.Content) != 2 {
		t.Fatalf("unexpected roster frame: %+v", snap)
	}
}

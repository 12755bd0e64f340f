package realtime

import (
	"testing"
	"time"
)

func TestConversations_UnreadOnlyOnInbound(t *testing.T) {
	c := NewConversations()
	now := time.Now().UTC()

	c.Add("u2", "u2", "hello", false, now)
	if got := c.Unread("u2"); got != 1 {
		t.Fatalf("unread=%d after inbound, want 1", got)
	}

	c.Add("u2", "me", "hi back", true, now)
	if got := c.Unread("u2"); got != 1 {
		t.Fatalf("unread=%d after own message, want 1", got)
	}

	c.Add("u3", "u3", "yo", false, now)
	if got := c.TotalUnread(); got != 2 {
		t.Fatalf("total unread=%d, want 2", got)
	}

	c.MarkRead("u2")
	if got := c.Unread("u2"); got != 0 {
		t.Fatalf("unread=%d after MarkRead, want 0", got)
	}
	if got := c.TotalUnread(); got != 1 {
		t.Fatalf("total unread=%d after MarkRead, want 1", got)
	}
}

func TestConversations_MessagesOrderedAndCopied(t *testing.T) {
	c := NewConversations()
	now := time.Now().UTC()

	c.Add("u2", "u2", "first", false, now)
	c.Add("u2", "me", "second", true, now.Add(time.Second))

	msgs := c.Messages("u2")
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("unexpected thread: %+v", msgs)
	}
	if msgs[0].Mine || !msgs[1].Mine {
		t.Fatalf("mine flags wrong: %+v", msgs)
	}

	msgs[0].Content = "mutated"
	if got := c.Messages("u2")[0].Content; got != "first" {
		t.Fatalf("thread mutated through copy: %q", got)
	}
}

func TestConversations_UnknownPeer(t *testing.T) {
	c := NewConversations()

	if msgs := c.Messages("ghost"); msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", msgs)
	}
	if got := c.Unread("ghost"); got != 0 {
		t.Fatalf("unread=%d for unknown peer, want 0", got)
	}

	c.MarkRead("ghost") // no-op

	c.Add("", "x", "dropped", false, time.Now())
	if got := c.TotalUnread(); got != 0 {
		t.Fatalf("empty peer key must be ignored, total=%d", got)
	}
}

func TestConversations_Peers(t *testing.T) {
	c := NewConversations()
	now := time.Now().UTC()

	c.Add("zed", "zed", "a", false, now)
	c.Add("amy", "amy", "b", false, now)

	peers := c.Peers()
	if len(peers) != 2 || peers[0] != "amy" || peers[1] != "zed" {
		t.Fatalf("peers=%v, want sorted [amy zed]", peers)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"busconnect/pkg/domain"
)

func TestSendMessageWithClientChatKey(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ctx := context.Background()
	alice, _ := signUp(t, a, "alice", domain.RolePassenger)
	dan, _ := signUp(t, a, "dan", domain.RoleDriver)
	key := fmt.Sprintf("passenger-driver-%d", dan.ID)

	msg, err := a.SendMessage(ctx, alice, SendMessageInput{ChatKey: key, Text: "hi", Sender: "other", SenderName: "mallory"})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.ChatKey != domain.ChatKey(alice.ID, dan.ID) {
		t.Fatalf("expected canonical key, got %q", msg.ChatKey)
	}
	if msg.SenderName != "alice" || msg.Sender != domain.SenderUser || msg.SenderID != alice.ID {
		t.Fatalf("message must be attributed to the caller, got %+v", msg)
	}

	got, err := a.Messages(ctx, alice, key)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 1 || got[0].Text != "hi" {
		t.Fatalf("expected the message first, got %+v", got)
	}

	reply, err := a.SendMessage(ctx, dan, SendMessageInput{RecipientID: alice.ID, Text: "on my way"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ChatKey != msg.ChatKey {
		t.Fatalf("reply should share the conversation, got %q", reply.ChatKey)
	}

	fromDan, err := a.Messages(ctx, dan, fmt.Sprintf("driver-passenger-%d", alice.ID))
	if err != nil {
		t.Fatalf("messages for dan: %v", err)
	}
	if len(fromDan) != 2 || fromDan[0].Sender != domain.SenderOther || fromDan[1].Sender != domain.SenderUser {
		t.Fatalf("unexpected view for dan: %+v", fromDan)
	}

	chats, err := a.Chats(ctx, alice)
	if err != nil {
		t.Fatalf("chats: %v", err)
	}
	if len(chats) != 1 || chats[0].Peer.ID != dan.ID || chats[0].MessageCount != 2 {
		t.Fatalf("unexpected chats: %+v", chats)
	}
}

func TestMessagesRejectForeignKeys(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ctx := context.Background()
	alice, _ := signUp(t, a, "alice", domain.RolePassenger)
	dan, _ := signUp(t, a, "dan", domain.RoleDriver)
	eve, _ := signUp(t, a, "eve", domain.RolePassenger)
	if _, err := a.SendMessage(ctx, alice, SendMessageInput{RecipientID: dan.ID, Text: "secret"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var nf *NotFoundError
	if _, err := a.Messages(ctx, eve, domain.ChatKey(alice.ID, dan.ID)); !errors.As(err, &nf) {
		t.Fatalf("outsider must not read canonical chat, got %v", err)
	}
	if _, err := a.Messages(ctx, eve, fmt.Sprintf("driver-passenger-%d", alice.ID)); !errors.As(err, &nf) {
		t.Fatalf("role in key must match caller, got %v", err)
	}
	if _, err := a.Messages(ctx, alice, fmt.Sprintf("passenger-vendor-%d", dan.ID)); !errors.As(err, &nf) {
		t.Fatalf("peer role in key must match peer, got %v", err)
	}
	var ve *ValidationError
	if _, err := a.Messages(ctx, alice, "anything-goes"); !errors.As(err, &ve) {
		t.Fatalf("unrecognized key must be rejected, got %v", err)
	}
	if _, err := a.SendMessage(ctx, alice, SendMessageInput{RecipientID: alice.ID, Text: "me"}); !errors.As(err, &ve) {
		t.Fatalf("self message must be rejected, got %v", err)
	}
	if _, err := a.SendMessage(ctx, alice, SendMessageInput{Text: "nowhere"}); !errors.As(err, &ve) {
		t.Fatalf("missing recipient must be rejected, got %v", err)
	}
	if _, err := a.SendMessage(ctx, alice, SendMessageInput{RecipientID: 9999, Text: "ghost"}); !errors.As(err, &nf) {
		t.Fatalf("unknown recipient must be NotFound, got %v", err)
	}
}

package app

import (
	"context"
	"strings"

	"busconnect/pkg/domain"
)

// SendMessageInput is the body of POST /api/messages.
// Sender and SenderName are accepted from older clients and ignored; the
// server attributes every message to the authenticated caller.
type SendMessageInput struct {
	ChatKey     string `json:"chat_key" validate:"required_without=RecipientID,max=64"`
	RecipientID int64  `json:"recipient_id" validate:"required_without=ChatKey,gte=0"`
	Text        string `json:"text" validate:"required,max=2000"`
	Sender      string `json:"sender,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
}

// SendMessage appends a message from caller to a conversation. The partition
// key is derived from the two participant ids, never taken from the client.
func (a *App) SendMessage(ctx context.Context, caller domain.User, in SendMessageInput) (domain.Message, error) {
	in.ChatKey = strings.TrimSpace(in.ChatKey)
	in.Text = strings.TrimSpace(in.Text)
	if err := a.check(in); err != nil {
		return domain.Message{}, err
	}

	var peer domain.User
	var err error
	if in.ChatKey != "" {
		peer, err = a.resolvePeer(ctx, caller, in.ChatKey)
		if err != nil {
			return domain.Message{}, err
		}
		if in.RecipientID != 0 && in.RecipientID != peer.ID {
			return domain.Message{}, invalidField("recipient_id", "does not match chat_key")
		}
	} else {
		if in.RecipientID == caller.ID {
			return domain.Message{}, invalidField("recipient_id", "cannot message yourself")
		}
		var found bool
		peer, found, err = a.store.GetUserByID(ctx, in.RecipientID)
		if err != nil {
			return domain.Message{}, storeFailure("lookup recipient", err)
		}
		if !found {
			return domain.Message{}, &NotFoundError{Entity: "recipient"}
		}
	}

	msg, err := a.store.AppendMessage(ctx, domain.Message{
		ChatKey:     domain.ChatKey(caller.ID, peer.ID),
		Text:        in.Text,
		SenderID:    caller.ID,
		RecipientID: peer.ID,
		SenderName:  caller.Username,
		Timestamp:   a.now().UTC(),
	})
	if err != nil {
		return domain.Message{}, storeFailure("append message", err)
	}
	return msg.ViewedBy(caller.ID), nil
}

// Messages returns a conversation the caller takes part in, oldest first.
func (a *App) Messages(ctx context.Context, caller domain.User, chatKey string) ([]domain.Message, error) {
	peer, err := a.resolvePeer(ctx, caller, strings.TrimSpace(chatKey))
	if err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(ctx, domain.ChatKey(caller.ID, peer.ID))
	if err != nil {
		return nil, storeFailure("list messages", err)
	}
	for i := range msgs {
		msgs[i] = msgs[i].ViewedBy(caller.ID)
	}
	return msgs, nil
}

// Chats lists the caller's conversations, most recently active first.
func (a *App) Chats(ctx context.Context, caller domain.User) ([]domain.Chat, error) {
	chats, err := a.store.ListChats(ctx, caller.ID)
	if err != nil {
		return nil, storeFailure("list chats", err)
	}
	return chats, nil
}

// resolvePeer turns a chat key into the other participant.
// Canonical keys ("chat-3-7") must name the caller. Client keys
// ("passenger-driver-7") must start with the caller's role and name a peer
// holding the stated role. Anything else is treated as a chat that does not exist.
func (a *App) resolvePeer(ctx context.Context, caller domain.User, key string) (domain.User, error) {
	var peerID int64
	var peerRole domain.Role
	if lo, hi, err := domain.ParseChatKey(key); err == nil {
		switch caller.ID {
		case lo:
			peerID = hi
		case hi:
			peerID = lo
		default:
			return domain.User{}, &NotFoundError{Entity: "chat"}
		}
	} else if legacy, err := domain.ParseLegacyChatKey(key); err == nil {
		if legacy.OwnRole != caller.Role {
			return domain.User{}, &NotFoundError{Entity: "chat"}
		}
		peerID, peerRole = legacy.PeerID, legacy.PeerRole
	} else {
		return domain.User{}, invalidField("chat_key", "is not a recognized chat key")
	}
	if peerID == caller.ID {
		return domain.User{}, invalidField("chat_key", "cannot message yourself")
	}
	peer, found, err := a.store.GetUserByID(ctx, peerID)
	if err != nil {
		return domain.User{}, storeFailure("lookup chat peer", err)
	}
	if !found || (peerRole != "" && peer.Role != peerRole) {
		return domain.User{}, &NotFoundError{Entity: "chat"}
	}
	return peer, nil
}

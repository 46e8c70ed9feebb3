package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidChatKey = errors.New("invalid chat key")

const chatKeyPrefix = "chat-"

// ChatKey returns the canonical partition key for a conversation between two users.
// The key is symmetric: ChatKey(a, b) == ChatKey(b, a).
func ChatKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return chatKeyPrefix + strconv.FormatInt(a, 10) + "-" + strconv.FormatInt(b, 10)
}

// ParseChatKey returns the two participant ids of a canonical key in ascending order.
func ParseChatKey(key string) (int64, int64, error) {
	rest, ok := strings.CutPrefix(key, chatKeyPrefix)
	if !ok {
		return 0, 0, ErrInvalidChatKey
	}
	left, right, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, 0, ErrInvalidChatKey
	}
	lo, err := parsePositiveID(left)
	if err != nil {
		return 0, 0, err
	}
	hi, err := parsePositiveID(right)
	if err != nil {
		return 0, 0, err
	}
	if lo >= hi {
		return 0, 0, ErrInvalidChatKey
	}
	return lo, hi, nil
}

// LegacyChatKey is the client-built key form "<ownRole>-<peerRole>-<peerID>".
type LegacyChatKey struct {
	OwnRole  Role
	PeerRole Role
	PeerID   int64
}

// ParseLegacyChatKey parses keys such as "passenger-driver-2".
func ParseLegacyChatKey(key string) (LegacyChatKey, error) {
	parts := strings.Split(key, "-")
	if len(parts) != 3 {
		return LegacyChatKey{}, ErrInvalidChatKey
	}
	own, peer := Role(parts[0]), Role(parts[1])
	if !own.Valid() || !peer.Valid() {
		return LegacyChatKey{}, ErrInvalidChatKey
	}
	id, err := parsePositiveID(parts[2])
	if err != nil {
		return LegacyChatKey{}, err
	}
	return LegacyChatKey{OwnRole: own, PeerRole: peer, PeerID: id}, nil
}

func (k LegacyChatKey) String() string {
	return fmt.Sprintf("%s-%s-%d", k.OwnRole, k.PeerRole, k.PeerID)
}

func parsePositiveID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 || strconv.FormatInt(id, 10) != raw {
		return 0, ErrInvalidChatKey
	}
	return id, nil
}

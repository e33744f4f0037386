// Package history stores bounded per-conversation rolling histories with
// expiry. A conversation bucket holds role-tagged turns in chronological
// order and disappears after its TTL elapses.
package history

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message unit in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PrivateKey derives the bucket key for a one-on-one conversation.
func PrivateKey(userID string) string {
	return "private:" + userID
}

// GroupKey derives the bucket key for a group conversation. The scope tag
// keeps a group and a user with the same numeric id in separate buckets.
func GroupKey(groupID string) string {
	return "group:" + groupID
}

// Truncate keeps the most recent 2*maxExchanges turns, preserving order.
func Truncate(turns []Turn, maxExchanges int) []Turn {
	limit := 2 * maxExchanges
	if limit <= 0 || len(turns) <= limit {
		return turns
	}
	return turns[len(turns)-limit:]
}

// Store is the abstract get/put-with-expiry history store. Get returns an
// empty history for absent, expired, and corrupted buckets; only storage
// failures surface as errors.
type Store interface {
	Get(ctx context.Context, key string) ([]Turn, error)
	Put(ctx context.Context, key string, turns []Turn, ttl time.Duration) error
	Close() error
}

// Package entitystate keeps one shared view of per-entity derived state (vote scores,
// membership flags) keyed by entity type and id, and fans writes out to subscribers.
package entitystate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidKey indicates a malformed "type:id" entity reference.
var ErrInvalidKey = errors.New("entitystate: invalid key")

// Key identifies an entity by type and id.
type Key struct {
	Type string
	ID   string
}

// String renders the key as "type:id".
func (k Key) String() string {
	return k.Type + ":" + k.ID
}

// ParseKey parses a "type:id" reference.
func ParseKey(raw string) (Key, error) {
	entityType, entityID, found := strings.Cut(strings.TrimSpace(raw), ":")
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	if !found || entityType == "" || entityID == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return Key{Type: entityType, ID: entityID}, nil
}

// Update kinds published to subscribers.
const (
	KindScore       = "score"
	KindInvalidated = "invalidated"
	KindHeartbeat   = "heartbeat"
)

// Update is a change to the state of one entity.
type Update struct {
	Key       Key
	Kind      string
	Payload   any
	Timestamp time.Time
}

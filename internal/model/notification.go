package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Notification kinds emitted by the upstream chain follower.
const (
	KindChainCommitted = "chain_committed"
	KindChainReorged   = "chain_reorged"
	KindChainReverted  = "chain_reverted"
)

// Notification is an upstream event. It is treated as immutable once
// received: the same value is shared by every execution it triggers, and
// its JSON encoding is passed verbatim to module executables.
type Notification struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Validate checks that the notification carries a known kind.
func (n *Notification) Validate() error {
	switch n.Kind {
	case KindChainCommitted, KindChainReorged, KindChainReverted:
		return nil
	case "":
		return fmt.Errorf("notification kind is required")
	default:
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
}

// Normalize fills in the identifier and receive time when the producer left
// them empty.
func (n *Notification) Normalize(now time.Time) {
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = now.UTC()
	}
}

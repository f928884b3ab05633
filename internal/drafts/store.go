// Package drafts keeps the single in-progress snapshot of an intake form so an
// interrupted session can be recovered later.
package drafts

import (
	"context"
	"errors"
	"time"
)

// KeyPrefix namespaces draft slots in shared stores.
const KeyPrefix = "ficha_clinica_draft"

// ErrCorrupt is returned when a stored draft cannot be decoded.
var ErrCorrupt = errors.New("drafts: corrupt draft")

// Draft is a serialized snapshot of FormData.
type Draft struct {
	Data      map[string]map[string]any `json:"data"`
	Timestamp time.Time                 `json:"timestamp"`
	Version   string                    `json:"version"`
}

// Store persists one draft per slot. Load returns nil, nil when the slot is empty.
type Store interface {
	Save(ctx context.Context, slot string, d Draft) error
	Load(ctx context.Context, slot string) (*Draft, error)
	Clear(ctx context.Context, slot string) error
	Exists(ctx context.Context, slot string) (bool, error)
}

// SlotFor returns the slot holding a practitioner's draft.
func SlotFor(practitionerID string) string {
	return KeyPrefix + ":" + practitionerID
}

// Slot binds a Store to a single slot.
type Slot struct {
	store Store
	key   string
}

// NewSlot returns the draft slot of a practitioner.
func NewSlot(store Store, practitionerID string) *Slot {
	return &Slot{store: store, key: SlotFor(practitionerID)}
}

// Key is the slot identifier.
func (s *Slot) Key() string { return s.key }

func (s *Slot) Save(ctx context.Context, d Draft) error { return s.store.Save(ctx, s.key, d) }

func (s *Slot) Load(ctx context.Context) (*Draft, error) { return s.store.Load(ctx, s.key) }

func (s *Slot) Clear(ctx context.Context) error { return s.store.Clear(ctx, s.key) }

func (s *Slot) Exists(ctx context.Context) (bool, error) { return s.store.Exists(ctx, s.key) }

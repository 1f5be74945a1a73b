// Package features is the product handler mounted under a namespace. It
// exposes add_feature, update_feature and delete_feature; each records the
// request and answers with the namespace that handled it.
package features

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"secure-xmlrpc/server"
)

// Actions exposed by Handler.
const (
	ActionAdd    = "add_feature"
	ActionUpdate = "update_feature"
	ActionDelete = "delete_feature"
)

// Change is one recorded feature request.
type Change struct {
	Namespace string    `json:"namespace"`
	Action    string    `json:"action"`
	Args      []any     `json:"args"`
	Host      string    `json:"host,omitempty"` // Host header the call arrived with
	At        time.Time `json:"at"`
}

// Store receives the changes accepted by a Handler.
type Store interface {
	Record(ctx context.Context, change Change) error
}

// DefaultCapacity is the number of changes a MemoryStore keeps when no
// capacity is given.
const DefaultCapacity = 256

// MemoryStore keeps the most recent changes in order of arrival. Once full,
// each new change evicts the oldest one.
type MemoryStore struct {
	mu      sync.Mutex
	changes []Change
	next    int // slot the next change is written to once the ring is full
}

// NewMemoryStore keeps up to capacity changes; capacity <= 0 selects
// DefaultCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{changes: make([]Change, 0, capacity)}
}

func (s *MemoryStore) Record(_ context.Context, change Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changes == nil {
		s.changes = make([]Change, 0, DefaultCapacity)
	}
	if len(s.changes) < cap(s.changes) {
		s.changes = append(s.changes, change)
		return nil
	}
	s.changes[s.next] = change
	s.next = (s.next + 1) % len(s.changes)
	return nil
}

// Changes returns a copy of the retained changes, oldest first.
func (s *MemoryStore) Changes() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Change, 0, len(s.changes))
	out = append(out, s.changes[s.next:]...)
	return append(out, s.changes[:s.next]...)
}

// Handler implements server.Handler.
type Handler struct {
	namespace string
	store     Store
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler creates the handler for namespace. store may be nil, in which
// case changes are only logged.
func NewHandler(namespace string, store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{namespace: namespace, store: store, logger: logger, now: time.Now}
}

func (h *Handler) Methods() []server.Method {
	return []server.Method{
		{Name: ActionAdd, Fn: h.action(ActionAdd)},
		{Name: ActionUpdate, Fn: h.action(ActionUpdate)},
		{Name: ActionDelete, Fn: h.action(ActionDelete)},
	}
}

func (h *Handler) action(name string) server.MethodFunc {
	return func(ctx context.Context, args []any) (any, error) {
		change := Change{
			Namespace: h.namespace,
			Action:    name,
			Args:      args,
			Host:      server.CallerHost(ctx),
			At:        h.now(),
		}
		// Calls cut off by the host's timeout record nothing.
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("features: %s abandoned: %w", name, err)
		}
		if h.store != nil {
			if err := h.store.Record(ctx, change); err != nil {
				return nil, fmt.Errorf("features: record %s: %w", name, err)
			}
		}
		h.logger.Info("feature change",
			zap.String("namespace", h.namespace),
			zap.String("action", name),
			zap.Int("args", len(args)))
		return h.namespace, nil
	}
}

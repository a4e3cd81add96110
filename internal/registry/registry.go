package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/luaidle/luaidle/pkg/idle"
)

// ErrUnknownHandle is returned for handles that were never registered or
// have been disposed.
var ErrUnknownHandle = errors.New("registry: unknown notification handle")

// Handle correlates a protocol notification with its registry entry
type Handle struct {
	id uuid.UUID
}

// NewHandle mints a random handle
func NewHandle() Handle {
	return Handle{id: uuid.New()}
}

// String returns the canonical UUID form of the handle
func (h Handle) String() string {
	return h.id.String()
}

// IsZero reports whether h was never minted
func (h Handle) IsZero() bool {
	return h.id == uuid.Nil
}

// State is the lifecycle position of one notification
type State int

const (
	Armed State = iota
	Idled
	Resumed
	Disposed
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Idled:
		return "idled"
	case Resumed:
		return "resumed"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Entry is the registry record for one notification
type Entry struct {
	Handle       Handle
	CallbackName string
	Timeout      time.Duration
	State        State
	Notification idle.Notification
	RegisteredAt time.Time
}

// Registry maps notification handles to callback names. It is safe for
// concurrent use; the lock is held only for the map operation itself.
type Registry struct {
	mu      sync.Mutex
	entries map[Handle]*Entry
}

func New() *Registry {
	return &Registry{
		entries: make(map[Handle]*Entry),
	}
}

// Register stores a new entry and returns its freshly minted handle.
// n may be nil and attached later with Attach.
func (r *Registry) Register(callbackName string, timeout time.Duration, n idle.Notification) Handle {
	h := NewHandle()
	entry := &Entry{
		Handle:       h,
		CallbackName: callbackName,
		Timeout:      timeout,
		State:        Armed,
		Notification: n,
		RegisteredAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if _, exists := r.entries[h]; !exists {
			break
		}
		h = NewHandle()
		entry.Handle = h
	}
	r.entries[h] = entry
	return h
}

// Attach sets the protocol notification of an existing entry
func (r *Registry) Attach(h Handle, n idle.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[h]
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "attach %s", h)
	}
	entry.Notification = n
	return nil
}

// Resolve returns the callback name registered for h
func (r *Registry) Resolve(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[h]
	if !ok {
		return "", false
	}
	return entry.CallbackName, true
}

// Lookup returns a copy of the entry registered for h
func (r *Registry) Lookup(h Handle) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[h]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// SetState records the latest lifecycle state of h
func (r *Registry) SetState(h Handle, s State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[h]
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "set state %s", h)
	}
	entry.State = s
	return nil
}

// Dispose removes h and returns its protocol notification, which the caller
// must destroy.
func (r *Registry) Dispose(h Handle) (idle.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[h]
	if !ok {
		return nil, false
	}
	delete(r.entries, h)
	return entry.Notification, true
}

// DisposeAll empties the registry and returns the removed entries
func (r *Registry) DisposeAll() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]Entry, 0, len(r.entries))
	for h, entry := range r.entries {
		e := *entry
		e.State = Disposed
		removed = append(removed, e)
		delete(r.entries, h)
	}
	return removed
}

// Snapshot returns copies of all live entries
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

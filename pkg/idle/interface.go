package idle

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Event is a transition reported by the idle-notification protocol
type Event int

const (
	// Idled is sent when no input arrived for the notification's timeout
	Idled Event = iota + 1
	// Resumed is sent when input arrives after Idled
	Resumed
)

// String returns the argument passed to script callbacks ("idled" or "resumed")
func (e Event) String() string {
	switch e {
	case Idled:
		return "idled"
	case Resumed:
		return "resumed"
	default:
		return "unknown"
	}
}

var (
	// ErrConnection is returned when the display server cannot be reached
	ErrConnection = errors.New("idle: connection failed")

	// ErrCapabilityUnavailable is returned when the seat or the idle
	// notifier global has not been bound
	ErrCapabilityUnavailable = errors.New("idle: capability unavailable")
)

// Handler receives the events of one notification. It is always called on
// the dispatch goroutine.
type Handler func(Event)

// Notification is a protocol object created by a Backend
type Notification interface {
	// Destroy releases the protocol object; no events follow
	Destroy() error
}

// Backend is the interface that all idle-notification session implementations must satisfy
type Backend interface {
	// Connect establishes the session and binds the seat and notifier capabilities
	Connect() error

	// NewNotification creates a notification that fires after timeout of inactivity
	NewNotification(timeout time.Duration, h Handler) (Notification, error)

	// Run dispatches protocol events until the connection closes or ctx is done
	Run(ctx context.Context) error

	// Post queues fn to run on the dispatch goroutine and wakes the loop
	Post(fn func())

	// Name returns the backend type ("wayland" or "x11")
	Name() string

	// Close cleans up any resources used by the backend
	Close() error
}

// TimeoutMillis converts a notification timeout to the protocol's
// millisecond unit, clamping to the uint32 range.
func TimeoutMillis(timeout time.Duration) uint32 {
	if timeout <= 0 {
		return 0
	}
	ms := timeout / time.Millisecond
	if ms > time.Duration(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

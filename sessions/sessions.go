// Package sessions tracks one logical connection per active streaming
// client. Sessions are created on stream-open, destroyed on stream-close or
// process shutdown, and never persisted. The stdio transport has exactly one
// implicit session for the process lifetime and does not use this package.
package sessions

import (
	"context"
	"sync"

	"github.com/druidops/druid-mcp-go/internal/jsonrpc"
	"github.com/google/uuid"
)

// MessageWriter is a session's outbound channel. The streaming transport
// binds it to the live response stream.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg jsonrpc.Message) error
}

// MessageWriterFunc adapts a function to the MessageWriter interface.
type MessageWriterFunc func(ctx context.Context, msg jsonrpc.Message) error

func (f MessageWriterFunc) WriteMessage(ctx context.Context, msg jsonrpc.Message) error {
	return f(ctx, msg)
}

// Session is a live handle for one open streaming client connection.
type Session struct {
	id     string
	writer MessageWriter

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the opaque session identifier. IDs are generated server-side;
// clients never supply them.
func (s *Session) ID() string { return s.id }

// Send delivers one outbound message over the session's bound channel.
func (s *Session) Send(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-s.done:
		return context.Canceled
	default:
	}
	return s.writer.WriteMessage(ctx, msg)
}

// Close marks the session terminated. It is idempotent and never blocks.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed when the session has been terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// IDGenerator produces session identifiers. Injected so tests can use
// deterministic ids; production uses uuid.NewString.
type IDGenerator func() string

// Registry owns the set of active sessions. Create, Get, and Remove are
// individually atomic; no partial registry state is ever observable between
// two operations issued by the same handler.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Session
	newID IDGenerator
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithIDGenerator overrides the session id generation strategy.
func WithIDGenerator(gen IDGenerator) RegistryOption {
	return func(r *Registry) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byID:  make(map[string]*Session),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create allocates a new Session bound to the given writer and registers it
// under a fresh id. Ids are never reused while a session with that id is
// registered.
func (r *Registry) Create(w MessageWriter) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var id string
	for {
		id = r.newID()
		if _, taken := r.byID[id]; !taken {
			break
		}
	}
	s := &Session{id: id, writer: w, done: make(chan struct{})}
	r.byID[id] = s
	return s
}

// Get returns the registered session for id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Remove unregisters a session. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CloseAll closes every registered session and empties the registry. Used on
// process shutdown; Close never blocks, so the sweep is bounded.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.byID = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

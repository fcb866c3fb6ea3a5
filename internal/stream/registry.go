// ABOUTME: In-memory connection registry for fan-out to live event streams
// ABOUTME: Broadcasts payloads to every registered emit capability from a consistent snapshot

package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EmitFunc delivers one payload to a connection's transport. A non-nil
// error means the delivery failed; the registry logs it but leaves
// removal to the connection's own lifecycle.
type EmitFunc func(payload string) error

// connection is a registered stream. Owned exclusively by the Registry.
type connection struct {
	id        string
	emit      EmitFunc
	createdAt time.Time
}

// Registry is the set of currently open event streams. It supports
// concurrent Register/Unregister/Broadcast; the underlying map is never
// exposed.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*connection),
		logger: logger.With("component", "registry"),
	}
}

// Register stores the emit capability under a fresh connection ID and
// returns the ID for later Unregister.
func (r *Registry) Register(emit EmitFunc) string {
	id := uuid.New().String()

	r.mu.Lock()
	r.conns[id] = &connection{
		id:        id,
		emit:      emit,
		createdAt: time.Now(),
	}
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Debug("connection registered", "conn_id", id, "total", total)
	return id
}

// Unregister removes a connection. Unknown IDs are a no-op, so the
// cleanup path may run regardless of how the stream ended.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("connection unregistered", "conn_id", id, "total", total)
	}
}

// Broadcast delivers payload to every connection registered at the time
// of the call. The snapshot is taken under the read lock and emits run
// outside it, so concurrent Register/Unregister never disturb the
// iteration. A failing emit is logged and skipped; the stream's own
// lifecycle removes it.
func (r *Registry) Broadcast(payload string) {
	r.mu.RLock()
	targets := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.emit(payload); err != nil {
			r.logger.Warn("emit failed", "conn_id", c.id, "error", err)
		}
	}
}

// Count returns the number of currently registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

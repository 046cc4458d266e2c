// Package live keeps the in-process set of live client connections per subject
// (a voting) and fans messages out to them.
package live

import (
	"log/slog"
	"sync"

	"github.com/clubhouse/meetings-server/internal/metrics"
)

// Conn is a long-lived, bidirectional client connection
type Conn interface {
	WriteText(text string) error
	WriteBinary(data []byte) error
	Close() error
	// Done is closed once the underlying transport has gone away
	Done() <-chan struct{}
}

// Registry maps a subject to its live connections. It is owned by one server
// process and is safe for concurrent use; sends happen outside the lock.
type Registry struct {
	mu       sync.RWMutex
	subjects map[string]map[string]Conn
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		subjects: make(map[string]map[string]Conn),
		logger:   logger,
		metrics:  m,
	}
}

// Register adds conn under subject. The entry is dropped automatically when
// conn reports Done. Registering an id twice replaces and closes the older connection.
func (r *Registry) Register(subject, id string, conn Conn) {
	r.mu.Lock()
	conns, ok := r.subjects[subject]
	if !ok {
		conns = make(map[string]Conn)
		r.subjects[subject] = conns
	}
	previous, replaced := conns[id]
	conns[id] = conn
	r.mu.Unlock()

	if replaced {
		previous.Close()
	} else {
		r.metrics.ConnectionOpened()
	}

	r.logger.Debug("live connection registered", "subject", subject, "connection_id", id)

	go func() {
		<-conn.Done()
		r.remove(subject, id, conn)
	}()
}

// remove deletes the entry only if it still points at conn
func (r *Registry) remove(subject, id string, conn Conn) {
	r.mu.Lock()
	conns := r.subjects[subject]
	current, ok := conns[id]
	if !ok || current != conn {
		r.mu.Unlock()
		return
	}
	delete(conns, id)
	if len(conns) == 0 {
		delete(r.subjects, subject)
	}
	r.mu.Unlock()

	r.metrics.ConnectionClosed()
	r.logger.Debug("live connection removed", "subject", subject, "connection_id", id)
}

// Count returns the number of live connections under subject
func (r *Registry) Count(subject string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subjects[subject])
}

// BroadcastText sends text to every connection under subject
func (r *Registry) BroadcastText(subject, text string) {
	r.broadcast(subject, metrics.KindText, func(c Conn) error {
		return c.WriteText(text)
	})
}

// BroadcastBinary sends data to every connection under subject
func (r *Registry) BroadcastBinary(subject string, data []byte) {
	r.broadcast(subject, metrics.KindBinary, func(c Conn) error {
		return c.WriteBinary(data)
	})
}

// broadcast sends to all connections in parallel and returns once every send
// finished. A connection that fails to receive is closed.
func (r *Registry) broadcast(subject, kind string, send func(Conn) error) {
	snapshot := r.snapshot(subject)
	if len(snapshot) == 0 {
		return
	}

	var wg sync.WaitGroup
	for id, conn := range snapshot {
		wg.Add(1)
		go func(id string, conn Conn) {
			defer wg.Done()
			if err := send(conn); err != nil {
				r.metrics.BroadcastFailed()
				r.logger.Warn("live broadcast failed",
					"subject", subject, "connection_id", id, "kind", kind, "error", err)
				conn.Close()
				return
			}
			r.metrics.BroadcastSent(kind)
		}(id, conn)
	}
	wg.Wait()
}

// CloseAll closes every connection under subject in parallel, forgets the
// subject and returns once every close finished
func (r *Registry) CloseAll(subject string) {
	r.mu.Lock()
	conns := r.subjects[subject]
	delete(r.subjects, subject)
	r.mu.Unlock()

	// A close may block until its close frame is written
	var wg sync.WaitGroup
	for id, conn := range conns {
		wg.Add(1)
		go func(id string, conn Conn) {
			defer wg.Done()
			if err := conn.Close(); err != nil {
				r.logger.Debug("closing live connection", "subject", subject, "connection_id", id, "error", err)
			}
			r.metrics.ConnectionClosed()
		}(id, conn)
	}
	wg.Wait()

	if len(conns) > 0 {
		r.logger.Info("live connections closed", "subject", subject, "count", len(conns))
	}
}

func (r *Registry) snapshot(subject string) map[string]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.subjects[subject]
	out := make(map[string]Conn, len(conns))
	for id, conn := range conns {
		out[id] = conn
	}
	return out
}

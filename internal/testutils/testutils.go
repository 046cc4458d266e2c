// Package testutils provides an in-memory store and fakes shared by the tests.
package testutils

import (
	"sync"
	"testing"
	"time"

	"github.com/clubhouse/meetings-server/internal/config"
	"github.com/clubhouse/meetings-server/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// NewTestDB opens a fresh in-memory SQLite database with the full schema
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: config.DriverSQLite,
			Path:   ":memory:",
		},
	}

	db, err := config.SetupDatabase(cfg)
	require.NoError(t, err, "Failed to set up test database")

	t.Cleanup(func() { db.Close() })
	return db
}

// NewRepository returns a repository backed by a fresh in-memory database
func NewRepository(t *testing.T) *repository.SQLRepository {
	t.Helper()
	return repository.NewSQLRepository(NewTestDB(t))
}

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Broadcast is one message seen by a Broadcaster
type Broadcast struct {
	Subject string
	Text    string
	Binary  []byte
}

// Broadcaster records every push and close instead of sending it
type Broadcaster struct {
	mu       sync.Mutex
	messages []Broadcast
	closed   map[string]int
}

// NewBroadcaster creates an empty recording broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{closed: make(map[string]int)}
}

func (b *Broadcaster) BroadcastText(subject, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, Broadcast{Subject: subject, Text: text})
}

func (b *Broadcaster) BroadcastBinary(subject string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, Broadcast{Subject: subject, Binary: append([]byte(nil), data...)})
}

func (b *Broadcaster) CloseAll(subject string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed[subject]++
}

// Messages returns the pushes for subject in send order
func (b *Broadcaster) Messages(subject string) []Broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Broadcast
	for _, m := range b.messages {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// Texts returns the text pushes for subject in send order
func (b *Broadcaster) Texts(subject string) []string {
	var out []string
	for _, m := range b.Messages(subject) {
		if m.Binary == nil {
			out = append(out, m.Text)
		}
	}
	return out
}

// Closed reports how often CloseAll ran for subject
func (b *Broadcaster) Closed(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed[subject]
}

package live

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clubhouse/meetings-server/internal/metrics"
	"github.com/clubhouse/meetings-server/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	mu       sync.Mutex
	texts    []string
	binaries [][]byte
	fail     bool
	release  chan struct{} // when set, writes block until it is closed
	closing  chan struct{} // when set, Close blocks until it is closed
	done     chan struct{}
	once     sync.Once
	closes   int
}

func newFakeConn(t *testing.T) *fakeConn {
	c := &fakeConn{done: make(chan struct{})}
	t.Cleanup(func() { c.Close() })
	return c
}

func (c *fakeConn) WriteText(text string) error {
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConn) WriteBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.binaries = append(c.binaries, data)
	return nil
}

func (c *fakeConn) Close() error {
	if c.closing != nil {
		<-c.closing
	}
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) Done() <-chan struct{} {
	return c.done
}

func (c *fakeConn) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *fakeConn) Binaries() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.binaries...)
}

func (c *fakeConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func newTestRegistry() *Registry {
	return NewRegistry(utils.DiscardLogger(), nil)
}

func TestRegistry_BroadcastTextReachesSubjectOnly(t *testing.T) {
	r := newTestRegistry()
	a, b, other := newFakeConn(t), newFakeConn(t), newFakeConn(t)

	r.Register("voting-1", "a", a)
	r.Register("voting-1", "b", b)
	r.Register("voting-2", "other", other)
	assert.Equal(t, 2, r.Count("voting-1"))

	r.BroadcastText("voting-1", "1/3")

	assert.Equal(t, []string{"1/3"}, a.Texts())
	assert.Equal(t, []string{"1/3"}, b.Texts())
	assert.Empty(t, other.Texts())
}

func TestRegistry_BroadcastBinary(t *testing.T) {
	r := newTestRegistry()
	a := newFakeConn(t)
	r.Register("voting-1", "a", a)

	r.BroadcastBinary("voting-1", []byte(`{"totalVotes":2}`))

	require.Len(t, a.Binaries(), 1)
	assert.JSONEq(t, `{"totalVotes":2}`, string(a.Binaries()[0]))
}

func TestRegistry_FailedSendDoesNotAffectOthers(t *testing.T) {
	r := newTestRegistry()
	healthy, broken := newFakeConn(t), newFakeConn(t)
	broken.fail = true

	r.Register("voting-1", "healthy", healthy)
	r.Register("voting-1", "broken", broken)

	r.BroadcastText("voting-1", "1/2")

	assert.Equal(t, []string{"1/2"}, healthy.Texts())
	assert.True(t, broken.Closed(), "a connection that cannot receive is closed")
	assert.Eventually(t, func() bool { return r.Count("voting-1") == 1 }, time.Second, 5*time.Millisecond)

	r.BroadcastText("voting-1", "2/2")
	assert.Equal(t, []string{"1/2", "2/2"}, healthy.Texts())
}

func TestRegistry_SlowConnectionDoesNotBlockOthers(t *testing.T) {
	r := newTestRegistry()
	fast, slow := newFakeConn(t), newFakeConn(t)
	slow.release = make(chan struct{})

	r.Register("voting-1", "fast", fast)
	r.Register("voting-1", "slow", slow)

	finished := make(chan struct{})
	go func() {
		r.BroadcastText("voting-1", "1/2")
		close(finished)
	}()

	assert.Eventually(t, func() bool { return len(fast.Texts()) == 1 }, time.Second, 5*time.Millisecond)

	close(slow.release)
	<-finished
	assert.Equal(t, []string{"1/2"}, slow.Texts())
}

func TestRegistry_RemovesClosedTransport(t *testing.T) {
	r := newTestRegistry()
	a, b := newFakeConn(t), newFakeConn(t)
	r.Register("voting-1", "a", a)
	r.Register("voting-1", "b", b)

	// Simulate the client going away
	a.Close()

	assert.Eventually(t, func() bool { return r.Count("voting-1") == 1 }, time.Second, 5*time.Millisecond)

	r.BroadcastText("voting-1", "1/2")
	assert.Empty(t, a.Texts())
	assert.Equal(t, []string{"1/2"}, b.Texts())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry()
	a, b, other := newFakeConn(t), newFakeConn(t), newFakeConn(t)
	r.Register("voting-1", "a", a)
	r.Register("voting-1", "b", b)
	r.Register("voting-2", "other", other)

	r.CloseAll("voting-1")

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.False(t, other.Closed())
	assert.Zero(t, r.Count("voting-1"))
	assert.Equal(t, 1, r.Count("voting-2"))

	r.BroadcastText("voting-1", "late")
	assert.Empty(t, a.Texts())

	// Closing an unknown subject is a no-op
	r.CloseAll("voting-3")
}

func TestRegistry_CloseAllDoesNotWaitOnSlowClose(t *testing.T) {
	r := newTestRegistry()
	slow := newFakeConn(t)
	slow.closing = make(chan struct{})
	fast := []*fakeConn{newFakeConn(t), newFakeConn(t), newFakeConn(t)}

	r.Register("voting-1", "slow", slow)
	for i, c := range fast {
		r.Register("voting-1", fmt.Sprintf("fast-%d", i), c)
	}

	finished := make(chan struct{})
	go func() {
		r.CloseAll("voting-1")
		close(finished)
	}()

	assert.Eventually(t, func() bool {
		for _, c := range fast {
			if !c.Closed() {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond, "fast connections close while the slow one is still closing")

	select {
	case <-finished:
		t.Fatal("CloseAll returned before the slow connection closed")
	default:
	}
	assert.False(t, slow.Closed())

	close(slow.closing)
	<-finished
	assert.True(t, slow.Closed())
	assert.Zero(t, r.Count("voting-1"))
}

func TestRegistry_RegisterSameIDReplaces(t *testing.T) {
	r := newTestRegistry()
	first, second := newFakeConn(t), newFakeConn(t)

	r.Register("voting-1", "viewer", first)
	r.Register("voting-1", "viewer", second)

	assert.True(t, first.Closed())
	assert.Equal(t, 1, r.Count("voting-1"))

	r.BroadcastText("voting-1", "0/1")
	assert.Empty(t, first.Texts())
	assert.Equal(t, []string{"0/1"}, second.Texts())

	// The stale watcher of the first connection must not evict the second
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r.Count("voting-1"))
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r := newTestRegistry()

	const viewers = 50
	conns := make([]*fakeConn, viewers)
	for i := range conns {
		conns[i] = newFakeConn(t)
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(2)
		go func(i int, c *fakeConn) {
			defer wg.Done()
			r.Register("voting-1", fmt.Sprintf("viewer-%d", i), c)
		}(i, c)
		go func(i int) {
			defer wg.Done()
			r.BroadcastText("voting-1", fmt.Sprintf("%d/%d", i, viewers))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, viewers, r.Count("voting-1"))

	r.BroadcastText("voting-1", "final")
	for _, c := range conns {
		texts := c.Texts()
		require.NotEmpty(t, texts)
		assert.Equal(t, "final", texts[len(texts)-1])
	}

	r.CloseAll("voting-1")
	assert.Zero(t, r.Count("voting-1"))
}

func TestRegistry_Metrics(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	r := NewRegistry(utils.DiscardLogger(), m)
	a, b := newFakeConn(t), newFakeConn(t)
	b.fail = true

	r.Register("voting-1", "a", a)
	r.Register("voting-1", "b", b)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LiveConnections))

	r.BroadcastText("voting-1", "1/2")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Broadcasts.WithLabelValues(metrics.KindText)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastFailures))
	assert.Eventually(t, func() bool { return testutil.ToFloat64(m.LiveConnections) == 1.0 }, time.Second, 5*time.Millisecond)

	r.CloseAll("voting-1")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LiveConnections))
}

package webos

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/touchpad-bridge/server/lib/webos/webostest"
)

// silentConn behaves like a peer that lost power: once silenced, writes
// vanish and reads never return until the connection is closed locally.
// With failWrites set, writes error while reads keep working.
type silentConn struct {
	net.Conn
	silenced   atomic.Bool
	failWrites atomic.Bool
	closed     chan struct{}
	once       sync.Once
}

func (c *silentConn) Read(b []byte) (int, error) {
	if !c.silenced.Load() {
		n, err := c.Conn.Read(b)
		if !c.silenced.Load() {
			return n, err
		}
	}
	<-c.closed
	return 0, net.ErrClosed
}

func (c *silentConn) Write(b []byte) (int, error) {
	if c.failWrites.Load() {
		return 0, syscall.EPIPE
	}
	if c.silenced.Load() {
		return len(b), nil
	}
	return c.Conn.Write(b)
}

func (c *silentConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.Conn.Close()
}

// silencingDialer records every TCP connection it makes, keyed by socket
// ("control", "pointer" or "keyboard"), so a test can break them later.
type silencingDialer struct {
	mu    sync.Mutex
	conns map[string][]*silentConn
}

func (d *silencingDialer) dial(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, error) {
	name := "control"
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" && u.Path != "/" {
		name = strings.TrimPrefix(u.Path, "/")
	}
	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			c, err := (&net.Dialer{}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			sc := &silentConn{Conn: c, closed: make(chan struct{})}
			d.mu.Lock()
			if d.conns == nil {
				d.conns = map[string][]*silentConn{}
			}
			d.conns[name] = append(d.conns[name], sc)
			d.mu.Unlock()
			return sc, nil
		},
	}}
	conn, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{HTTPClient: client, HTTPHeader: header})
	return conn, err
}

func (d *silencingDialer) silenceAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conns := range d.conns {
		for _, c := range conns {
			c.silenced.Store(true)
		}
	}
}

// breakWrites makes every open connection for socket fail on write.
func (d *silencingDialer) breakWrites(socket string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns[socket] {
		c.failWrites.Store(true)
	}
}

func TestSessionResetsWhenTVStopsAnswering(t *testing.T) {
	tv := newTV(t, webostest.Config{IssueKey: "k1", Keyboard: true})
	d := &silencingDialer{}
	m := newTestManager(t, tv, &memStore{}, WithDialer(d.dial), WithPingInterval(50*time.Millisecond))

	require.NoError(t, m.EnsurePointer(t.Context()))

	// a few answered pings keep the session up
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, StateReady, m.State())
	require.True(t, m.pointerReady())

	d.silenceAll()
	require.Eventually(t, func() bool {
		return m.State() == StateEmpty
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, m.pointerReady())

	require.NoError(t, m.EnsurePointer(t.Context()))
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, uint64(2), m.Connects())
}

func TestSessionResetsWhenControlSocketCloses(t *testing.T) {
	tv := newTV(t, webostest.Config{IssueKey: "k1"})
	m := newTestManager(t, tv, &memStore{})

	require.NoError(t, m.EnsurePointer(t.Context()))
	tv.Drop("control")

	require.Eventually(t, func() bool {
		return m.State() == StateEmpty
	}, 5*time.Second, 10*time.Millisecond)
}

func TestControlRecvDrainsQueueAfterClose(t *testing.T) {
	t.Parallel()
	c := &controlSocket{
		socket:  newSocket(nil, 0),
		replies: make(chan Message, controlBacklog),
	}
	defer c.cancel()
	c.replies <- Message{ID: "other_1", Type: TypeResponse}
	c.replies <- Message{ID: "mine_2", Type: TypeResponse}

	msg, err := c.recv(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "other_1", msg.ID)

	c.cancel()
	msg, err = c.recv(t.Context())
	require.NoError(t, err, "queued messages outlive the connection")
	assert.Equal(t, "mine_2", msg.ID)

	_, err = c.recv(t.Context())
	require.ErrorIs(t, err, errControlClosed)
}

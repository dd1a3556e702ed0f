package webos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// DefaultPingInterval matches the keepalive of the TV's own remote apps. A
// ping that is not answered within one interval kills the socket.
const DefaultPingInterval = 20 * time.Second

// controlBacklog bounds unread control messages; further ones are dropped.
const controlBacklog = 32

var errControlClosed = errors.New("control socket closed")

// socket is an open connection plus a context cancelled once it stops reading
// or stops answering pings.
type socket struct {
	conn   *websocket.Conn
	done   context.Context
	cancel context.CancelFunc
}

func (s *socket) alive() bool {
	return s != nil && s.done.Err() == nil
}

func newSocket(conn *websocket.Conn, pingInterval time.Duration) *socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &socket{conn: conn, done: ctx, cancel: cancel}
	if pingInterval > 0 {
		go s.heartbeat(pingInterval)
	}
	return s
}

func (s *socket) heartbeat(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.done.Done():
			return
		case <-t.C:
		}
		ctx, stop := context.WithTimeout(s.done, interval)
		err := s.conn.Ping(ctx)
		stop()
		if err != nil {
			s.cancel()
			_ = s.conn.CloseNow()
			return
		}
	}
}

// drain reads and discards inbound frames so control frames and pongs are
// processed.
func drain(conn *websocket.Conn, pingInterval time.Duration) *socket {
	s := newSocket(conn, pingInterval)
	go func() {
		defer s.cancel()
		for {
			if _, _, err := conn.Read(s.done); err != nil {
				return
			}
		}
	}()
	return s
}

// controlSocket owns the only reader of the control connection and hands
// decoded messages to whoever is waiting in recv.
type controlSocket struct {
	*socket
	replies chan Message
	err     error
}

func openControl(conn *websocket.Conn, pingInterval time.Duration, onDrop func(Message)) *controlSocket {
	c := &controlSocket{
		socket:  newSocket(conn, pingInterval),
		replies: make(chan Message, controlBacklog),
	}
	go func() {
		defer c.cancel()
		for {
			var msg Message
			if err := wsjson.Read(c.done, conn, &msg); err != nil {
				c.err = err
				return
			}
			select {
			case c.replies <- msg:
			default:
				onDrop(msg)
			}
		}
	}()
	return c
}

func (c *controlSocket) alive() bool {
	return c != nil && c.socket.alive()
}

// recv returns the next control message. Messages already queued are
// delivered even after the connection died.
func (c *controlSocket) recv(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.replies:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.replies:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done.Done():
		select {
		case msg := <-c.replies:
			return msg, nil
		default:
		}
		if c.err != nil {
			return Message{}, fmt.Errorf("%w: %w", errControlClosed, c.err)
		}
		return Message{}, errControlClosed
	}
}

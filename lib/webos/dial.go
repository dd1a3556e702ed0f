package webos

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
)

// DefaultOrigin is sent on the control socket when no origin is configured.
const DefaultOrigin = "https://www.lge.com"

// DialFunc opens a websocket. Tests swap it to count or fail attempts.
type DialFunc func(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, error)

// insecureClient is used for wss:// sockets; TVs present self-signed certificates.
var insecureClient = &http.Client{
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	},
}

// Dial is the default DialFunc.
func Dial(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{HTTPHeader: header}
	if strings.HasPrefix(rawURL, "wss://") {
		opts.HTTPClient = insecureClient
	}
	conn, resp, err := websocket.Dial(ctx, rawURL, opts)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return conn, nil
}

// controlEndpoint is one way of reaching the control socket.
type controlEndpoint struct {
	tls  bool
	port int
}

func (e controlEndpoint) url(host string) string {
	scheme := "ws"
	if e.tls {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(e.port))
}

// controlEndpoints lists the endpoints to try in order. A plaintext config
// gets one fallback to the secure port: 3001 for the stock 3000, else port+1.
func controlEndpoints(dev Device) []controlEndpoint {
	eps := []controlEndpoint{{tls: dev.UseTLS, port: dev.Port}}
	if !dev.UseTLS {
		fallback := dev.Port + 1
		if dev.Port == 3000 {
			fallback = 3001
		}
		eps = append(eps, controlEndpoint{tls: true, port: fallback})
	}
	return eps
}

// controlHeader applies the origin policy for the control socket: an explicit
// empty origin sends nothing, an unset origin sends DefaultOrigin.
func controlHeader(dev Device) http.Header {
	origin := DefaultOrigin
	if dev.Origin != nil {
		origin = *dev.Origin
	}
	return originHeader(origin)
}

// socketHeader applies the origin policy for pointer and keyboard sockets:
// only an explicit non-empty origin is sent.
func socketHeader(dev Device) http.Header {
	if dev.Origin == nil {
		return nil
	}
	return originHeader(*dev.Origin)
}

func originHeader(origin string) http.Header {
	if origin == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Origin", origin)
	return h
}

// dialControl walks controlEndpoints and returns the first connection made.
// An HTTP rejection of the upgrade ends the walk.
func (m *Manager) dialControl(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for i, ep := range controlEndpoints(m.dev) {
		u := ep.url(m.dev.Host)
		if i > 0 {
			m.log.Warn("control socket failed; retrying on secure port", "err", lastErr, "url", u)
		} else {
			m.log.Info("connecting to tv", "url", u)
		}

		conn, err := m.dial(ctx, u, controlHeader(m.dev))
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = &ConnectError{Phase: "control", URL: u, Err: err}
		var hs *HandshakeError
		if errors.As(err, &hs) {
			break
		}
	}
	return nil, lastErr
}

func (m *Manager) dialSocket(ctx context.Context, phase, socketURL string) (*websocket.Conn, error) {
	conn, err := m.dial(ctx, socketURL, socketHeader(m.dev))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectError{Phase: phase, URL: socketURL, Err: err}
	}
	return conn, nil
}

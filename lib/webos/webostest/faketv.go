// Package webostest provides a scripted webOS TV for tests: a control socket
// that pairs and hands out socket paths, plus pointer and keyboard sockets
// that record what they receive.
package webostest

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Config scripts how the TV answers.
type Config struct {
	// IssueKey is returned in the registered payload.
	IssueKey string
	// Prompt sends a PROMPT response before registered.
	Prompt bool
	// RejectRegister answers register with an error message.
	RejectRegister bool
	// NoPointerPath omits socketPath from the pointer response.
	NoPointerPath bool
	// Keyboard offers a keyboard socket.
	Keyboard bool
	// InsertTextOK and DeleteOK set returnValue for the IME requests.
	InsertTextOK bool
	DeleteOK     bool
	// RegisterDelay holds the registered reply back.
	RegisterDelay time.Duration
}

type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	URI     string          `json:"uri,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// TV is a fake webOS TV served over httptest.
type TV struct {
	Server *httptest.Server
	cfg    Config

	controlConns atomic.Int32

	mu            sync.Mutex
	registerKeys  []string
	origins       map[string][]string
	requests      []string
	pointerCmds   []string
	keyboardMsgs  []string
	sinkConns     map[string][]*websocket.Conn
}

func New(cfg Config) *TV {
	tv := &TV{cfg: cfg, origins: map[string][]string{}, sinkConns: map[string][]*websocket.Conn{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/", tv.handleControl)
	mux.HandleFunc("/pointer", tv.handleSink("pointer", &tv.pointerCmds))
	mux.HandleFunc("/keyboard", tv.handleSink("keyboard", &tv.keyboardMsgs))
	tv.Server = httptest.NewServer(mux)
	return tv
}

func (tv *TV) Close() {
	tv.Server.CloseClientConnections()
	tv.Server.Close()
}

// Host returns the host the server listens on.
func (tv *TV) Host() string {
	host, _, _ := net.SplitHostPort(tv.Server.Listener.Addr().String())
	return host
}

// Port returns the port the server listens on.
func (tv *TV) Port() int {
	_, port, _ := net.SplitHostPort(tv.Server.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// URL returns the plaintext control socket URL.
func (tv *TV) URL() string {
	return "ws://" + tv.Server.Listener.Addr().String()
}

func (tv *TV) ControlConns() int { return int(tv.controlConns.Load()) }

// RegisterKeys lists the client-key sent with each register request.
func (tv *TV) RegisterKeys() []string {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return append([]string(nil), tv.registerKeys...)
}

// Requests lists request URIs received on the control socket.
func (tv *TV) Requests() []string {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return append([]string(nil), tv.requests...)
}

// Origins lists Origin headers per socket ("control", "pointer", "keyboard").
func (tv *TV) Origins(socket string) []string {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return append([]string(nil), tv.origins[socket]...)
}

func (tv *TV) PointerCommands() []string {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return append([]string(nil), tv.pointerCmds...)
}

func (tv *TV) KeyboardMessages() []string {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return append([]string(nil), tv.keyboardMsgs...)
}

// Drop closes every open "control", "pointer" or "keyboard" socket from the
// TV side.
func (tv *TV) Drop(socket string) {
	tv.mu.Lock()
	conns := tv.sinkConns[socket]
	delete(tv.sinkConns, socket)
	tv.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseNow()
	}
}

func (tv *TV) recordOrigin(socket string, r *http.Request) {
	tv.mu.Lock()
	tv.origins[socket] = append(tv.origins[socket], r.Header.Get("Origin"))
	tv.mu.Unlock()
}

func (tv *TV) socketURL(path string) string {
	return "ws://" + tv.Server.Listener.Addr().String() + path
}

func (tv *TV) handleControl(w http.ResponseWriter, r *http.Request) {
	tv.controlConns.Add(1)
	tv.recordOrigin("control", r)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()
	tv.mu.Lock()
	tv.sinkConns["control"] = append(tv.sinkConns["control"], conn)
	tv.mu.Unlock()

	ctx := r.Context()
	for {
		var msg message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		for _, reply := range tv.reply(msg) {
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				return
			}
		}
	}
}

func (tv *TV) reply(msg message) []any {
	switch msg.Type {
	case "register":
		var p struct {
			ClientKey string `json:"client-key"`
		}
		_ = json.Unmarshal(msg.Payload, &p)
		tv.mu.Lock()
		tv.registerKeys = append(tv.registerKeys, p.ClientKey)
		tv.mu.Unlock()

		if tv.cfg.RejectRegister {
			return []any{map[string]any{"id": msg.ID, "type": "error", "error": "403 User denied access"}}
		}
		var out []any
		if tv.cfg.Prompt {
			out = append(out, map[string]any{"id": msg.ID, "type": "response", "payload": map[string]any{"pairingType": "PROMPT"}})
		}
		if tv.cfg.RegisterDelay > 0 {
			time.Sleep(tv.cfg.RegisterDelay)
		}
		return append(out, map[string]any{"id": msg.ID, "type": "registered", "payload": map[string]any{"client-key": tv.cfg.IssueKey}})

	case "request":
		tv.mu.Lock()
		tv.requests = append(tv.requests, msg.URI)
		tv.mu.Unlock()
		return []any{tv.answer(msg)}
	}
	return nil
}

func (tv *TV) answer(msg message) any {
	respond := func(payload map[string]any) any {
		return map[string]any{"id": msg.ID, "type": "response", "payload": payload}
	}
	switch msg.URI {
	case "ssap://com.webos.service.networkinput/getPointerInputSocket":
		if tv.cfg.NoPointerPath {
			return respond(map[string]any{"returnValue": true})
		}
		return respond(map[string]any{"returnValue": true, "socketPath": tv.socketURL("/pointer")})
	case "ssap://com.webos.service.ime/registerRemoteKeyboard":
		if !tv.cfg.Keyboard {
			return map[string]any{"id": msg.ID, "type": "error", "error": "404 no such service or method"}
		}
		return respond(map[string]any{"returnValue": true, "socketPath": tv.socketURL("/keyboard")})
	case "ssap://com.webos.service.ime/insertText":
		return respond(map[string]any{"returnValue": tv.cfg.InsertTextOK})
	case "ssap://com.webos.service.ime/deleteCharacters":
		return respond(map[string]any{"returnValue": tv.cfg.DeleteOK})
	}
	return map[string]any{"id": msg.ID, "type": "error", "error": "404 no such service or method"}
}

func (tv *TV) handleSink(name string, into *[]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tv.recordOrigin(name, r)
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		tv.mu.Lock()
		tv.sinkConns[name] = append(tv.sinkConns[name], conn)
		tv.mu.Unlock()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			tv.mu.Lock()
			*into = append(*into, string(data))
			tv.mu.Unlock()
		}
	}
}

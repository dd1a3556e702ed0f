package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/touchpad-bridge/server/lib/pointer"
	"github.com/touchpad-bridge/server/lib/webos"
	"github.com/touchpad-bridge/server/lib/webos/webostest"
)

type memStore struct {
	mu  sync.Mutex
	key string
}

func (s *memStore) Load(string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key, nil
}

func (s *memStore) Save(_ string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	return nil
}

type runningBridge struct {
	addr string
	done chan error
	stop context.CancelFunc
}

func startBridge(t *testing.T, tv *webostest.TV, store webos.SecretStore) *runningBridge {
	t.Helper()
	addrCh := make(chan net.Addr, 1)
	b := New(Config{
		Device:     webos.Device{Name: "living-room", Host: tv.Host(), Port: tv.Port()},
		ListenAddr: "127.0.0.1:0",
	}, store, silentLogger(), WithOnListen(func(a net.Addr) { addrCh <- a }))

	ctx, cancel := context.WithCancel(t.Context())
	rb := &runningBridge{done: make(chan error, 1), stop: cancel}
	go func() { rb.done <- b.Run(ctx) }()

	select {
	case a := <-addrCh:
		rb.addr = a.String()
	case err := <-rb.done:
		cancel()
		t.Fatalf("bridge exited before listening: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("bridge did not start listening")
	}
	t.Cleanup(func() {
		cancel()
		<-rb.done
	})
	return rb
}

func dialClient(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(t.Context(), "ws://"+addr+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func TestBridgeForwardsClientCommands(t *testing.T) {
	tv := webostest.New(webostest.Config{IssueKey: "k1", Keyboard: true})
	defer tv.Close()
	store := &memStore{}
	rb := startBridge(t, tv, store)

	key, _ := store.Load("living-room")
	assert.Equal(t, "k1", key)

	client := dialClient(t, rb.addr)
	require.NoError(t, client.Write(t.Context(), websocket.MessageText, []byte("not json")))
	require.NoError(t, wsjson.Write(t.Context(), client, map[string]any{"t": "move", "dx": 120, "dy": 0}))
	require.NoError(t, wsjson.Write(t.Context(), client, map[string]any{"t": "key", "key": "enter"}))

	move := pointer.MoveCommand(pointer.Delta{DX: 40})
	want := []string{move, move, move, pointer.ButtonCommand("ENTER")}
	require.Eventually(t, func() bool {
		return len(tv.PointerCommands()) == len(want)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, tv.PointerCommands())

	require.NoError(t, wsjson.Write(t.Context(), client, map[string]any{"t": "text", "text": "hi"}))
	require.Eventually(t, func() bool {
		return len(tv.KeyboardMessages()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"type":"insertText","text":"hi"}`, tv.KeyboardMessages()[0])
}

func TestBridgeHealthz(t *testing.T) {
	tv := webostest.New(webostest.Config{IssueKey: "k1"})
	defer tv.Close()
	rb := startBridge(t, tv, &memStore{})

	resp, err := http.Get("http://" + rb.addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, healthResponse{Device: "living-room", State: webos.StateReady.String()}, body)
}

func TestBridgeRunFailsWhenPairingRejected(t *testing.T) {
	tv := webostest.New(webostest.Config{RejectRegister: true})
	defer tv.Close()

	b := New(Config{
		Device:     webos.Device{Name: "tv1", Host: tv.Host(), Port: tv.Port()},
		ListenAddr: "127.0.0.1:0",
	}, &memStore{}, silentLogger())

	err := b.Run(t.Context())
	var pe *webos.PairingError
	require.ErrorAs(t, err, &pe)
}

func TestBridgeStopsOnCancel(t *testing.T) {
	tv := webostest.New(webostest.Config{IssueKey: "k1"})
	defer tv.Close()
	rb := startBridge(t, tv, &memStore{})
	client := dialClient(t, rb.addr)

	rb.stop()
	select {
	case err := <-rb.done:
		require.ErrorIs(t, err, context.Canceled)
		rb.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}

	// the client socket is closed with the pipeline
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	_, _, err := client.Read(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBridgeReconnectsAfterPointerDrop(t *testing.T) {
	tv := webostest.New(webostest.Config{IssueKey: "k1"})
	defer tv.Close()
	rb := startBridge(t, tv, &memStore{})
	client := dialClient(t, rb.addr)

	tv.Drop("pointer")
	require.Eventually(t, func() bool {
		_ = wsjson.Write(t.Context(), client, map[string]any{"t": "click"})
		return len(tv.PointerCommands()) > 0
	}, 5*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, tv.ControlConns(), 2)
}

func TestBridgeRunWaitsForClientHandlers(t *testing.T) {
	tv := webostest.New(webostest.Config{IssueKey: "k1", RegisterDelay: 300 * time.Millisecond})
	defer tv.Close()
	rb := startBridge(t, tv, &memStore{})
	client := dialClient(t, rb.addr)

	// the next command reconnects and blocks in the delayed register
	tv.Drop("pointer")
	require.Eventually(t, func() bool {
		_ = wsjson.Write(t.Context(), client, map[string]any{"t": "click"})
		return tv.ControlConns() >= 2
	}, 5*time.Second, 20*time.Millisecond)

	rb.stop()
	select {
	case err := <-rb.done:
		require.ErrorIs(t, err, context.Canceled)
		rb.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}

	controls, pointers := tv.ControlConns(), len(tv.Origins("pointer"))
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, controls, tv.ControlConns(), "no control socket opened after Run returned")
	assert.Equal(t, pointers, len(tv.Origins("pointer")), "no pointer socket opened after Run returned")
}

// Package bridge serves touchpad clients for one TV: it accepts client
// websockets, decodes their commands and drives a webOS session.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/touchpad-bridge/server/lib/webos"
)

const shutdownTimeout = 5 * time.Second

// Config describes one managed device and where its clients connect.
type Config struct {
	Device     webos.Device
	ListenAddr string
}

// Bridge runs the pipeline for one device. Each Run starts from an empty
// session so a restart never inherits half-open sockets or pairing state.
type Bridge struct {
	cfg         Config
	store       webos.SecretStore
	log         *slog.Logger
	sessionOpts []webos.Option
	onListen    func(net.Addr)
}

type Option func(*Bridge)

// WithSessionOptions passes options to every session the bridge creates.
func WithSessionOptions(opts ...webos.Option) Option {
	return func(b *Bridge) { b.sessionOpts = append(b.sessionOpts, opts...) }
}

// WithOnListen reports the bound listener address on every Run.
func WithOnListen(fn func(net.Addr)) Option {
	return func(b *Bridge) { b.onListen = fn }
}

func New(cfg Config, store webos.SecretStore, log *slog.Logger, opts ...Option) *Bridge {
	b := &Bridge{cfg: cfg, store: store, log: log.With("device", cfg.Device.Name)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) Name() string { return b.cfg.Device.Name }

// pipeline is the state of a single Run.
type pipeline struct {
	name       string
	session    *webos.Manager
	dispatcher *Dispatcher
	log        *slog.Logger
	ctx        context.Context
	failCh     chan error

	mu       sync.Mutex
	stopping bool
	clients  sync.WaitGroup
}

// track registers a client handler. It fails once Run is shutting down.
func (p *pipeline) track() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return false
	}
	p.clients.Add(1)
	return true
}

// waitClients blocks until every tracked handler has returned.
func (p *pipeline) waitClients() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()
	p.clients.Wait()
}

// fail hands a session failure to Run; only the first one is kept.
func (p *pipeline) fail(err error) {
	select {
	case p.failCh <- err:
	default:
	}
}

// Run pairs with the TV, serves clients until ctx ends or the session fails,
// and closes every socket before returning.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := append([]webos.Option{webos.WithLogger(b.log)}, b.sessionOpts...)
	session := webos.NewManager(b.cfg.Device, b.store, opts...)
	defer session.Close()

	p := &pipeline{
		name:       b.cfg.Device.Name,
		session:    session,
		dispatcher: NewDispatcher(session, b.log),
		log:        b.log,
		ctx:        ctx,
		failCh:     make(chan error, 1),
	}

	if err := session.EnsurePointer(ctx); err != nil {
		return fmt.Errorf("initial connect: %w", err)
	}

	ln, err := net.Listen("tcp", b.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", b.cfg.ListenAddr, err)
	}
	if b.onListen != nil {
		b.onListen(ln.Addr())
	}

	srv := &http.Server{
		Handler:           p.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		b.log.Info("listening for touchpad clients", "addr", ln.Addr().String())
		serveErr <- srv.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-p.failCh:
		runErr = err
	case err := <-serveErr:
		runErr = fmt.Errorf("listener stopped: %w", err)
	}

	// cancelling ctx closes hijacked client sockets, Shutdown handles the rest
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		b.log.Warn("listener shutdown", "err", err)
	}
	// session.Close runs only after every client handler has returned
	p.waitClients()
	return runErr
}

// handleDispatchError decides whether a failed command only drops that
// command or ends the pipeline.
func (p *pipeline) handleDispatchError(log *slog.Logger, cmd Command, err error) {
	if err == nil || p.ctx.Err() != nil {
		return
	}
	var sendErr *webos.SendError
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.As(err, &sendErr):
		log.Warn("command dropped after send failure", "type", string(cmd.Kind), "err", err)
	default:
		log.Error("session failed while handling command", "type", string(cmd.Kind), "err", err)
		p.fail(err)
	}
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/touchpad-bridge/server/lib/logger"
)

func (p *pipeline) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		chiMiddleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(logger.AddToContext(r.Context(), p.log)))
			})
		},
	)
	r.Get("/healthz", p.handleHealth)
	r.HandleFunc("/*", p.handleClient)
	return r
}

type healthResponse struct {
	Device string `json:"device"`
	State  string `json:"state"`
}

func (p *pipeline) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Device: p.name, State: p.session.State().String()})
}

// handleClient reads one command at a time from a touchpad client and runs it
// to completion before reading the next.
func (p *pipeline) handleClient(w http.ResponseWriter, r *http.Request) {
	if !p.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer p.clients.Done()

	log := logger.FromContext(r.Context()).With("client", uuid.NewString(), "remote", r.RemoteAddr)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Error("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	log.Info("client connected")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				log.Info("client disconnected")
			} else {
				log.Info("client disconnected", "err", err)
			}
			return
		}

		cmd, err := DecodeCommand(data)
		if err != nil {
			log.Debug("ignoring malformed client message", "err", err)
			continue
		}
		p.handleDispatchError(log, cmd, p.dispatcher.Dispatch(ctx, cmd))
	}
}

package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/touchpad-bridge/server/cmd/config"
	"github.com/touchpad-bridge/server/lib/bridge"
	"github.com/touchpad-bridge/server/lib/credstore"
	"github.com/touchpad-bridge/server/lib/logger"
	"github.com/touchpad-bridge/server/lib/supervisor"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	level, _ := logger.ParseLevel(cfg.LogLevel)
	slogger = logger.New(os.Stdout, level)
	slog.SetDefault(slogger)
	slogger.Info("bridge configuration", "config", cfg)

	devices, err := config.LoadOptions(cfg.OptionsPath)
	if err != nil {
		slogger.Error("failed to load add-on options", "path", cfg.OptionsPath, "err", err)
		os.Exit(1)
	}

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(devices) == 0 {
		slogger.Warn("no TVs configured; nothing to do")
		<-ctx.Done()
		return
	}

	store := credstore.New(cfg.KeysDir)
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		listenAddr := net.JoinHostPort(cfg.ListenHost, strconv.Itoa(d.ListenPort))
		b := bridge.New(bridge.Config{Device: d.Device(), ListenAddr: listenAddr}, store, slogger)
		sup := supervisor.New(d.Name, cfg.ReconnectDelay, slogger)
		g.Go(func() error {
			slogger.Info("starting bridge", "device", d.Name, "listen", listenAddr, "tv", d.Host, "tv_port", d.TVPort, "tls", d.UseSSL)
			return sup.Run(gctx, b.Run)
		})
	}

	<-ctx.Done()
	slogger.Info("shutdown signal received")
	if err := g.Wait(); err != nil {
		slogger.Error("bridge failed to shutdown", "err", err)
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Kronh4rd/kolibri/internal/backend"
	"github.com/Kronh4rd/kolibri/internal/broker"
	"github.com/Kronh4rd/kolibri/internal/chat"
	"github.com/Kronh4rd/kolibri/internal/config"
	"github.com/Kronh4rd/kolibri/internal/rest"
	"github.com/Kronh4rd/kolibri/internal/session"
	"github.com/Kronh4rd/kolibri/internal/store"
	"github.com/Kronh4rd/kolibri/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.EndpointCommitted() {
		input := os.Getenv("KOLIBRI_BACKEND_URL")
		if input == "" {
			log.Fatalf("no backend committed: set KOLIBRI_BACKEND_URL to connect")
		}
		if err := backend.NewConnector(cfg).Connect(ctx, input); err != nil {
			log.Fatalf("backend handshake failed: %v", err)
		}
		slog.Info("backend committed", "baseURL", cfg.BaseURL, "brokerHost", cfg.BrokerHost, "brokerPort", cfg.BrokerPort)
	}

	st, err := store.NewGormStore(cfg.DatabasePath, cfg.DeviceSecret)
	if err != nil {
		log.Fatalf("failed to open local store: %v", err)
	}
	defer st.Close()

	client := rest.NewClient(cfg.BaseURL)
	sessions := session.NewCoordinator(client, st)
	messages := chat.NewManager(client, st)

	cur, ok, err := st.CurrentUser()
	if err != nil {
		log.Fatalf("failed to read session: %v", err)
	}
	if !ok {
		log.Fatalf("no session on this device: register or log in first")
	}

	// Revalidate the cached profile, tolerating an offline backend.
	if err := sessions.RefreshUser(ctx); err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			log.Fatalf("session rejected by backend: %v", err)
		}
		slog.Warn("starting with cached session", "err", err)
	}

	consumer := broker.NewConsumer(broker.Config{
		Host:  cfg.BrokerHost,
		Port:  cfg.BrokerPort,
		UID:   cur.UID,
		Token: cur.AccessToken,
	}, messages.HandleInbound)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })

	slog.Info("kolibri daemon running", "uid", cur.UID)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("kolibri daemon stopped")
}

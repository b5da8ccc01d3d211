package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andresmarpz/sandcastle-sub001/internal/agent"
	"github.com/andresmarpz/sandcastle-sub001/internal/config"
	"github.com/andresmarpz/sandcastle-sub001/internal/httpapi"
	"github.com/andresmarpz/sandcastle-sub001/internal/hub"
	"github.com/andresmarpz/sandcastle-sub001/internal/sink"
	"github.com/andresmarpz/sandcastle-sub001/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "hub ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	sessionStore, err := store.NewGormStore(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatalf("failed to initialize session store: %v", err)
	}
	defer func() {
		if err := sessionStore.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	sinks := []sink.Sink{sink.NewLoggingSink(logger)}
	for idx, webhookURL := range cfg.WebhookURLs {
		name := webhookSinkName(idx, webhookURL)
		sinks = append(sinks, sink.NewWebhookSink(name, webhookURL, logger))
	}
	dispatcher := sink.NewDispatcher(logger, sinks)

	agents := agent.NewCLIClient(cfg.AgentBinary, logger)

	coordinator := hub.New(logger, sessionStore, agents, dispatcher, hub.Config{
		BufferCap:       cfg.BufferCap,
		QueueCap:        cfg.QueueCap,
		ApprovalTimeout: cfg.ApprovalTimeout,
		DefaultModel:    cfg.DefaultModel,
		PermissionMode:  cfg.AgentPermissionMode,
		WorkDir:         cfg.AgentWorkDir,
	})

	srv := httpapi.NewServer(logger, cfg.HTTPAddr, coordinator)
	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}
	if err := coordinator.Shutdown(ctx); err != nil {
		logger.Printf("hub shutdown error: %v", err)
	}
}

func webhookSinkName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}

// File: cmd/chatserver/main.go
// Package main
// Staged WebSocket chat server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/momentics/hioload-chat/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file; watched for log_level and idle_timeout changes")
		host       = flag.String("host", "", "listen host, overrides listen_addr")
		port       = flag.Int("port", 0, "listen port, overrides listen_addr")
		adminAddr  = flag.String("admin", "", "admin HTTP address, overrides admin_addr")
		workers    = flag.Int("workers", 0, "workers per stage, overrides workers")
		backend    = flag.String("credentials", "", "credential backend: memory, sqlite or redis")
		dsn        = flag.String("dsn", "", "sqlite path or redis address")
		logLevel   = flag.String("log-level", "", "log level (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "text", "log format (text, json)")
	)
	flag.Parse()

	cfg := server.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = server.LoadConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	if *host != "" || *port != 0 {
		h, p, _ := net.SplitHostPort(cfg.ListenAddr)
		if *host != "" {
			h = *host
		}
		if *port != 0 {
			p = strconv.Itoa(*port)
		}
		cfg.ListenAddr = net.JoinHostPort(h, p)
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *backend != "" {
		cfg.Credentials.Backend = *backend
	}
	if *dsn != "" {
		cfg.Credentials.DSN = *dsn
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level := new(slog.LevelVar)
	logger := setupLogger(level, *logFormat)
	slog.SetDefault(logger)

	opts := []server.ServerOption{server.WithLogger(logger), server.WithLevelVar(level)}
	if *configPath != "" {
		opts = append(opts, server.WithConfigFile(*configPath))
	}
	srv, err := server.New(cfg, opts...)
	if err != nil {
		logger.Error("server init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("chat server listening",
		"addr", srv.Addr(),
		"admin", srv.AdminAddr(),
		"credentials", cfg.Credentials.Backend,
		"log_format", *logFormat)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
}

// setupLogger writes to stdout; the level stays adjustable through lv.
func setupLogger(lv *slog.LevelVar, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

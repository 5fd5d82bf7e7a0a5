package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/georecon/pkg/api"
)

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	addr := fs.String("addr", "", "listen address; overrides config")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*cfgPath)
	if err != nil {
		return 1
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	// SIGINT/SIGTERM: graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer st.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(st, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("georecon listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		logger.Error("server error", "error", err)
		return 1
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	return 0
}

func cmdMCP(args []string) int {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*cfgPath)
	if err != nil {
		return 1
	}

	st, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		return 1
	}
	defer st.Close()

	srv := server.NewMCPServer("georecon", "1.0.0", server.WithToolCapabilities(false))
	api.RegisterMCPTools(srv, st, logger)

	logger.Info("mcp serving on stdio")
	if err := server.ServeStdio(srv); err != nil {
		logger.Error("mcp server", "error", err)
		return 1
	}
	return 0
}

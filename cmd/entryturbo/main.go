// Command entryturbo keeps the Entry turbo-mode control in place on a live
// editor page and exposes its state over HTTP and MCP.
//
// Usage:
//
//	entryturbo -url https://playentry.org/ws/new -admin :8090
//	entryturbo -config entryturbo.yaml -mcp
//	entryturbo -offline page.html -url https://playentry.org/ws/1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/entryturbo/turbo"
	"github.com/hazyhaar/entryturbo/turbo/dom/htmldom"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	pageURL := flag.String("url", "", "editor URL (overrides config)")
	dbPath := flag.String("db", "", "preference database path (overrides config)")
	adminAddr := flag.String("admin", "", "admin HTTP listen address (overrides config)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdin/stdout")
	offline := flag.String("offline", "", "run against a local HTML file instead of Chrome")
	remote := flag.String("remote", "", "DevTools websocket URL of a running Chrome")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := turbo.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = turbo.LoadConfigFile(*configPath); err != nil {
			logger.Error("entryturbo: load config", "error", err)
			os.Exit(1)
		}
	}
	if *pageURL != "" {
		cfg.Page.URL = *pageURL
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *adminAddr != "" {
		cfg.Admin.Addr = *adminAddr
	}
	if *remote != "" {
		cfg.Browser.Remote = *remote
	}
	if *mcpStdio {
		cfg.Admin.MCP = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, cfg, *offline); err != nil {
		logger.Error("entryturbo: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *turbo.Config, offline string) error {
	var page *htmldom.Page
	if offline != "" {
		src, err := os.ReadFile(offline)
		if err != nil {
			return fmt.Errorf("read offline page: %w", err)
		}
		if page, err = htmldom.NewPage(cfg.Page.URL, string(src)); err != nil {
			return err
		}
	}

	// A nil *htmldom.Page must not reach the daemon as a non-nil dom.Page.
	var d *turbo.Daemon
	if page != nil {
		d = turbo.NewDaemon(cfg, page, logger)
	} else {
		d = turbo.NewDaemon(cfg, nil, logger)
	}
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()
	e := d.Engine()

	logger.Info("entryturbo: started",
		"url", cfg.Page.URL,
		"offline", offline != "",
		"store", cfg.Store.Path,
	)

	errc := make(chan error, 2)

	if cfg.Admin.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           e.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("entryturbo: admin listening", "addr", cfg.Admin.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("admin: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Admin.MCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "entryturbo", Version: "v1.0.0"}, nil)
		e.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}

	logger.Info("entryturbo: shutting down", "stats", e.Stats())
	if page != nil && !cfg.Admin.MCP {
		fmt.Println(page.HostDocument().Render())
	}
	return nil
}

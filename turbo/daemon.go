package turbo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/entryturbo/turbo/dom"
	"github.com/hazyhaar/entryturbo/turbo/internal/bridge"
	"github.com/hazyhaar/entryturbo/turbo/internal/browser"
	"github.com/hazyhaar/entryturbo/turbo/internal/store"
)

// Daemon wires the preference store, the bridge, a page and the engine.
// With no page given it launches Chrome and opens cfg.Page.URL.
type Daemon struct {
	cfg    *Config
	logger *slog.Logger
	page   dom.Page

	mgr   *browser.Manager
	tab   *browser.Tab
	cdp   *browser.Page
	db    *sql.DB
	store *store.Store

	injector *bridge.Injector
	engine   *Engine
}

// NewDaemon creates a Daemon. page may be nil.
func NewDaemon(cfg *Config, page dom.Page, logger *slog.Logger) *Daemon {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{cfg: cfg, page: page, logger: logger}
}

// Start opens everything and starts the engine and the injector. On error
// whatever was opened is closed again.
func (d *Daemon) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	d.db, err = store.Open(d.cfg.Store.Path,
		store.WithMkdirAll(),
		store.WithBusyTimeout(int(d.cfg.Store.BusyTimeout.Milliseconds())),
		store.WithSynchronous(d.cfg.Store.Synchronous),
	)
	if err != nil {
		return fmt.Errorf("turbo: open store: %w", err)
	}
	if d.cfg.Store.Path == ":memory:" {
		d.db.SetMaxOpenConns(1)
	}
	d.store, err = store.New(d.db, d.logger)
	if err != nil {
		return err
	}

	if d.page == nil {
		if err := d.openBrowser(ctx); err != nil {
			return err
		}
		d.page = d.cdp
	}

	bus := bridge.NewBus(d.logger)
	d.engine, err = New(Options{
		Page:    d.page,
		Bus:     bus,
		Journal: d.store,
		Config:  d.cfg,
		Logger:  d.logger,
	})
	if err != nil {
		return err
	}
	d.injector = bridge.NewInjector(bus, d.store, d.cfg.Engine.StateDelay, d.logger)

	if err := d.engine.Start(ctx); err != nil {
		return err
	}
	d.injector.Start(ctx)
	return nil
}

func (d *Daemon) openBrowser(ctx context.Context) error {
	b := d.cfg.Browser
	d.mgr = browser.NewManager(browser.Config{
		RemoteURL:        b.Remote,
		Headless:         b.Headless == nil || *b.Headless,
		Bin:              b.Bin,
		Stealth:          b.Stealth,
		ResourceBlocking: b.ResourceBlocking,
		Logger:           d.logger,
	})
	if _, err := d.mgr.Start(ctx); err != nil {
		return fmt.Errorf("turbo: start browser: %w", err)
	}

	tab, err := browser.OpenTab(ctx, d.mgr, d.cfg.Page.URL, d.cfg.Page.LoadTimeout)
	if err != nil {
		return fmt.Errorf("turbo: open tab: %w", err)
	}
	d.tab = tab

	d.cdp, err = browser.NewPage(ctx, tab.Page, d.logger)
	if err != nil {
		return fmt.Errorf("turbo: attach page: %w", err)
	}
	return nil
}

// Engine returns the engine, nil before Start.
func (d *Daemon) Engine() *Engine { return d.engine }

// Stop tears everything down in reverse order. Safe on a partially
// started Daemon.
func (d *Daemon) Stop() {
	if d.engine != nil {
		d.engine.Stop()
	}
	if d.injector != nil {
		d.injector.Stop()
	}
	if d.cdp != nil {
		d.cdp.Close()
	}
	if d.tab != nil {
		if err := d.tab.Close(); err != nil {
			d.logger.Debug("turbo: close tab", "error", err)
		}
	}
	if d.mgr != nil {
		d.mgr.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}

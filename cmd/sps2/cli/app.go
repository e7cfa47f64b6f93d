// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sps2/sps2go/lib/config"
	"github.com/sps2/sps2go/lib/fetch"
	"github.com/sps2/sps2go/lib/gc"
	"github.com/sps2/sps2go/lib/statedb"
	"github.com/sps2/sps2go/lib/statemgr"
	"github.com/sps2/sps2go/lib/store"
)

// Globals holds the flag values every sps2 subcommand inherits,
// parsed once by main() before the command tree dispatches.
type Globals struct {
	JSON       bool
	Debug      bool
	Color      ColorMode
	ConfigPath string
}

// App is the shared runtime every subcommand's Run function receives:
// loaded configuration plus lazily-opened handles to the store, state
// database, and state manager. Handles are opened on first use and
// closed together by Close, so a read-only command like "list" never
// pays for resources it does not touch.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	JSON   bool
	Color  bool

	mu      sync.Mutex
	db      *statedb.DB
	objects *store.Store
	manager *statemgr.Manager
}

// NewApp loads configuration per globals and constructs an App. The
// config path resolution order is --config, then SPS2_CONFIG, per
// lib/config's "no implicit discovery" contract.
func NewApp(globals Globals) (*App, error) {
	logger := NewLogger(globals.Debug)

	var cfg *config.Config
	var err error
	if globals.ConfigPath != "" {
		cfg, err = config.LoadFile(globals.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	return &App{
		Config: cfg,
		Logger: logger,
		JSON:   globals.JSON,
		Color:  ResolveColor(globals.Color),
	}, nil
}

// DB returns the state database, opening it on first call.
func (a *App) DB() (*statedb.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db, nil
	}
	db, err := statedb.Open(statedb.Config{Path: a.Config.Paths.Database, Logger: a.Logger})
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	a.db = db
	return db, nil
}

// Store returns the content-addressed object store, opening it on
// first call.
func (a *App) Store() (*store.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects != nil {
		return a.objects, nil
	}
	st, err := store.Open(a.Config.Paths.Store)
	if err != nil {
		return nil, err
	}
	a.objects = st
	return st, nil
}

// Manager returns the state manager, building it on first call from
// DB and Store.
func (a *App) Manager() (*statemgr.Manager, error) {
	a.mu.Lock()
	if a.manager != nil {
		defer a.mu.Unlock()
		return a.manager, nil
	}
	a.mu.Unlock()

	db, err := a.DB()
	if err != nil {
		return nil, err
	}
	st, err := a.Store()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.manager == nil {
		a.manager = statemgr.New(statemgr.Config{
			DB:         db,
			Store:      st,
			LivePrefix: a.Config.Paths.Live,
			StatesDir:  a.Config.Paths.States,
			Logger:     a.Logger,
		})
	}
	return a.manager, nil
}

// Collector builds a garbage collector over DB and Store using the
// configured retention policy.
func (a *App) Collector() (*gc.Collector, error) {
	db, err := a.DB()
	if err != nil {
		return nil, err
	}
	st, err := a.Store()
	if err != nil {
		return nil, err
	}

	graceWindow, err := time.ParseDuration(a.Config.GC.GraceWindow)
	if err != nil {
		graceWindow = 0
	}

	return gc.New(gc.Config{
		DB:          db,
		Store:       st,
		RetainCount: a.Config.GC.RetainCount,
		RetainAge:   time.Duration(a.Config.GC.RetainDays) * 24 * time.Hour,
		GraceWindow: graceWindow,
		Logger:      a.Logger,
	}), nil
}

// Fetcher builds a Fetcher using the pipeline timing configuration.
func (a *App) Fetcher() *fetch.Fetcher {
	total, err := time.ParseDuration(a.Config.Pipeline.TotalDeadline)
	if err != nil {
		total = 0
	}
	stall, err := time.ParseDuration(a.Config.Pipeline.StallDeadline)
	if err != nil {
		stall = 0
	}
	return fetch.New(fetch.Config{
		Logger:       a.Logger,
		TotalDeadline: total,
		StallTimeout: stall,
		MaxRetries:   a.Config.Pipeline.RetryAttempts,
	})
}

// Close releases every resource this App has opened.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

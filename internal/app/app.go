// Package app serves the engine over HTTP: JSON read endpoints, command endpoints and
// a websocket stream of state changes for the dashboard.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"RollerLink/internal/dispatch"
	"RollerLink/internal/ingest"
	"RollerLink/internal/jam"
	"RollerLink/internal/orchestrator"
	"RollerLink/internal/state"
	"RollerLink/internal/util"
)

// Deps are the engine components the API reads from and drives.
type Deps struct {
	Store        *state.Store
	Dispatcher   *dispatch.Dispatcher
	Orchestrator *orchestrator.Orchestrator
	Jam          *jam.Detector
	Ingest       *ingest.Ingestor
	// MaxCurrent (mA) scales the load percentage of each motor.
	MaxCurrent float64
}

type App struct {
	Deps
	Mux    *http.ServeMux
	Server *http.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	stopped bool
}

// NewApp wires the routes over deps.
func NewApp(deps Deps) *App {
	if deps.MaxCurrent <= 0 {
		deps.MaxCurrent = 2000
	}
	a := &App{
		Deps:     deps,
		Mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	a.registerRoutes()
	return a
}

// Start launches the web server and blocks until stopped.
func (a *App) Start(addr string) error {
	if addr == "" {
		util.Info("[app] app server not started (empty address)")
		return nil
	}
	addr = strings.TrimPrefix(addr, "http://")
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.Server = srv
	a.mu.Unlock()
	util.Info("[app] API listening at http://%s", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("[app] HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the web server.
func (a *App) Stop() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.stopped = true
	srv := a.Server
	a.mu.Unlock()
	if srv == nil {
		return
	}
	util.Info("[app] shutting down web server...")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		util.Error("[app] HTTP server shutdown error: %v", err)
		return
	}
	util.Info("[app] web server stopped cleanly")
}

// Package server exposes the read-only HTTP API: the current plan, the
// forecasts behind it, optimizer metrics, tick history, and a websocket
// stream of published plans.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/scheduler"
	"github.com/homeflux/homeflux/pkg/storage"
	"github.com/levenlabs/go-lflag"
)

// Server handles the HTTP API for the scheduler.
type Server struct {
	sched *scheduler.Scheduler
	db    storage.Database
	hub   *hub

	listenAddr string
	httpServer *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(sched *scheduler.Scheduler, db storage.Database) *Server {
	srv := New(sched, db)

	// get the port from PORT when running in a managed environment
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})

	return srv
}

// New returns a server with explicit configuration, bypassing flags.
func New(sched *scheduler.Scheduler, db storage.Database) *Server {
	s := &Server{
		sched: sched,
		db:    db,
		hub:   newHub(),
	}
	sched.OnPublish(s.BroadcastPlan)
	return s
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/plan", s.handlePlan)
	mux.HandleFunc("GET /api/forecast", s.handleForecast)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/prices", s.handlePrices)
	mux.HandleFunc("GET /api/records", s.handleRecords)
	mux.HandleFunc("GET /api/records/{ts}", s.handleRecord)
	mux.HandleFunc("GET /api/ws", s.handleWS)
	return gziphandler.GzipHandler(mux)
}

// Run starts the HTTP server and blocks until ctx ends or the listener
// fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capture server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to encode response", slog.Any("error", err))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.sched.Current()
	if !ok {
		http.Error(w, "no plan published yet", http.StatusNotFound)
		return
	}
	s.writeJSON(r.Context(), w, snap.Plan)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.sched.Current()
	if !ok {
		http.Error(w, "no tick completed yet", http.StatusNotFound)
		return
	}
	s.writeJSON(r.Context(), w, map[string]any{
		"pv":    snap.PV,
		"load":  snap.Load,
		"price": snap.Price,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.sched.Current()
	if !ok {
		http.Error(w, "no tick completed yet", http.StatusNotFound)
		return
	}
	s.writeJSON(r.Context(), w, map[string]any{
		"metrics":    snap.Metrics,
		"record":     snap.Record,
		"wsClients":  s.hub.clientCount(),
	})
}

// handlePrices returns the per-hour tariff component breakdown behind the
// current price series.
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.sched.Current()
	if !ok {
		http.Error(w, "no tick completed yet", http.StatusNotFound)
		return
	}
	s.writeJSON(r.Context(), w, map[string]any{
		"series":    snap.Price,
		"breakdown": s.sched.PriceBreakdown(snap.Market, snap.Plan.TickTS),
	})
}

// handleRecords returns persisted tick records in an optional time range,
// defaulting to the last 24 hours.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid start", http.StatusBadRequest)
			return
		}
		start = ts
	}
	if v := r.URL.Query().Get("end"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid end", http.StatusBadRequest)
			return
		}
		end = ts
	}

	records, err := s.db.GetTickRecords(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch tick records", slog.Any("error", err))
		http.Error(w, "failed to fetch records", http.StatusInternalServerError)
		return
	}
	s.writeJSON(ctx, w, map[string]any{"records": records})
}

// handleRecord returns the persisted record for a single tick, addressed by
// its RFC3339 timestamp.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ts, err := time.Parse(time.RFC3339, r.PathValue("ts"))
	if err != nil {
		http.Error(w, "invalid timestamp", http.StatusBadRequest)
		return
	}

	record, found, err := s.db.GetTickRecord(ctx, ts)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch tick record", slog.Any("error", err))
		http.Error(w, "failed to fetch record", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "no record for that tick", http.StatusNotFound)
		return
	}
	s.writeJSON(ctx, w, record)
}

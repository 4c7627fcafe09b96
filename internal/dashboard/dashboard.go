// Package dashboard implements the node's HTTP-facing surface (spec §4.8,
// §6): a landing page, a live SSE event stream, a point-in-time JSON stats
// endpoint, and the location opt-in mutation.
//
// Grounded on the teacher's internal/daemon package: a *http.ServeMux with
// Go 1.22+ method-pattern routes, a thin Server struct wrapping *http.Server,
// and respondJSON/respondError helpers returning a consistent envelope —
// adapted from the teacher's Unix-socket, bearer-token-authenticated admin
// API to a plain TCP, unauthenticated public dashboard, since spec §6 names
// PORT as the externally reachable surface with no auth step.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lklynet/hypermind/internal/diagnostics"
	"github.com/lklynet/hypermind/internal/gossip"
	"github.com/lklynet/hypermind/internal/registry"
	"github.com/lklynet/hypermind/internal/validate"
)

// maxRequestBodySize bounds the location opt-in payload, mirroring the
// teacher's handler-level body limit.
const maxRequestBodySize = 1 << 16

// LocationEntry is one peer's opted-in geolocation, as surfaced in the
// "locations" field of Stats.
type LocationEntry struct {
	ID   string  `json:"id"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	City string  `json:"city"`
}

// Stats is the JSON shape served by both the SSE stream and /api/stats
// (spec §4.8's data contract: count, direct, id, diagnostics, locations,
// optedIn). UptimeSeconds and Peers are additions beyond the minimal
// contract; clients that only read the named fields are unaffected.
type Stats struct {
	Count         int                  `json:"count"`
	Direct        int                  `json:"direct"`
	ID            string               `json:"id"`
	Diagnostics   diagnostics.Window   `json:"diagnostics"`
	Locations     []LocationEntry      `json:"locations"`
	OptedIn       bool                 `json:"optedIn"`
	UptimeSeconds int64                `json:"uptimeSeconds"`
	Peers         []registry.Snapshot  `json:"peers"`
}

// LocationOptInRequest is the POST /api/location-optin body.
type LocationOptInRequest struct {
	Enabled bool    `json:"enabled"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city"`
}

// LocationOptInResponse is the POST /api/location-optin response body
// (spec §4.8): success of the mutation, the location now in effect (if
// any), and whether the node currently has one attached to its HEARTBEATs.
type LocationOptInResponse struct {
	Success     bool               `json:"success"`
	Location    *registry.Location `json:"location"`
	HasLocation bool               `json:"hasLocation"`
}

// Server is the node's HTTP dashboard and API.
type Server struct {
	reg    *registry.Registry
	diag   *diagnostics.Diagnostics
	engine *gossip.Engine

	startTime time.Time

	locationOptIn atomic.Bool

	httpServer *http.Server
	broker     *sseBroker
}

// New constructs a dashboard Server. throttle is the minimum interval
// between SSE broadcasts (config.BroadcastThrottle).
func New(reg *registry.Registry, diag *diagnostics.Diagnostics, engine *gossip.Engine, throttle time.Duration) *Server {
	s := &Server{
		reg:       reg,
		diag:      diag,
		engine:    engine,
		startTime: time.Now(),
		broker:    newSSEBroker(rate.NewLimiter(rate.Every(throttle), 1)),
	}
	engine.SetOnChange(func() { s.broker.Force(s.snapshot()) })
	return s
}

// Start builds the route table and begins serving on addr in the
// background; it returns once the listener is confirmed bound.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/location-optin", s.handleLocationOptIn)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) { s.diag.Handler().ServeHTTP(w, r) })

	ln, err := newListener(addr)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open indefinitely
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("dashboard: server error", "error", err)
		}
	}()
	slog.Info("dashboard: listening", "addr", addr)
	return nil
}

// Run drives the SSE broadcaster until ctx is canceled.
func (s *Server) Run(ctx context.Context) {
	s.broker.run(ctx, s.snapshot)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer != nil {
		s.httpServer.Shutdown(ctx)
	}
}

func (s *Server) snapshot() Stats {
	peers := s.reg.Snapshot()
	var locs []LocationEntry
	for _, p := range peers {
		if p.Loc != nil {
			locs = append(locs, LocationEntry{ID: p.ID, Lat: p.Loc.Lat, Lon: p.Loc.Lon, City: p.Loc.City})
		}
	}
	return Stats{
		Count:         s.reg.Size(),
		Direct:        s.engine.ConnectionCount(),
		ID:            s.engine.SelfID(),
		Diagnostics:   s.diag.LastWindow(),
		Locations:     locs,
		OptedIn:       s.locationOptIn.Load(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Peers:         peers,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(renderIndexPage(s.snapshot())))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientID := uuid.NewString()
	slog.Debug("dashboard: sse client connected", "client", clientID)
	defer slog.Debug("dashboard: sse client disconnected", "client", clientID)

	ch := s.broker.subscribe()
	defer s.broker.unsubscribe(ch)

	// Send an immediate snapshot so the client doesn't wait for the next
	// throttled tick to render anything.
	writeEvent(w, s.snapshot())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case stats, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, stats)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, stats Stats) {
	body, err := json.Marshal(stats)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", body)
}

func (s *Server) handleLocationOptIn(w http.ResponseWriter, r *http.Request) {
	var req LocationOptInRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.Enabled {
		s.locationOptIn.Store(false)
		s.engine.SetLocation(nil)
		s.broker.Force(s.snapshot())
		respondJSON(w, http.StatusOK, LocationOptInResponse{Success: true, HasLocation: false})
		return
	}

	if err := validate.FiniteCoordinate("lat", req.Lat, 90); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.FiniteCoordinate("lon", req.Lon, 180); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc := &registry.Location{Lat: req.Lat, Lon: req.Lon, City: req.City}
	s.engine.SetLocation(loc)
	s.locationOptIn.Store(true)
	s.broker.Force(s.snapshot())
	respondJSON(w, http.StatusOK, LocationOptInResponse{Success: true, Location: loc, HasLocation: true})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

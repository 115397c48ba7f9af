// Package httpapi serves the internal ops API: manual trigger runs,
// alert pipeline health, and read access to arrivals and alerts. The
// API carries no authentication; bind it to loopback.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"anchorwatch/internal/alert"
	"anchorwatch/internal/dispatch"
	"anchorwatch/internal/domain"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/storage"
	"anchorwatch/internal/trigger"
)

type Server struct {
	store      *storage.Store
	engine     *trigger.Engine
	dispatcher *dispatch.Dispatcher
	composer   *alert.Composer
	log        logx.Logger
	now        func() time.Time
}

func NewServer(store *storage.Store, engine *trigger.Engine, dispatcher *dispatch.Dispatcher, composer *alert.Composer, log logx.Logger) *Server {
	return &Server{
		store: store, engine: engine, dispatcher: dispatcher, composer: composer,
		log: log, now: time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/internal/trigger/{triggerType}", s.handleTrigger)
	r.Get("/internal/health/alerts", s.handleHealth)
	r.Get("/internal/arrivals", s.handleArrivals)
	r.Get("/internal/arrivals/{id}", s.handleArrival)
	r.Patch("/internal/alerts/{id}/read", s.handleAlertMark(s.markRead))
	r.Patch("/internal/alerts/{id}/ack", s.handleAlertMark(s.markAcknowledged))
	return r
}

// Serve runs the API until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("ops api listening", logx.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleTrigger starts one evaluation pass of the named monitor and
// returns immediately with a run id; the pass completes in the
// background.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := domain.ParseTriggerType(chi.URLParam(r, "triggerType"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	m, ok := s.engine.MonitorByType(t)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "no monitor for " + string(t)})
		return
	}

	runID := uuid.NewString()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		n, err := s.engine.RunMonitor(ctx, m)
		if err != nil {
			s.log.Warn("manual trigger run failed",
				logx.String("run", runID), logx.String("type", string(t)), logx.Err(err))
			return
		}
		s.log.Info("manual trigger run finished",
			logx.String("run", runID), logx.String("type", string(t)), logx.Int("issued", n))
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       runID,
		"trigger_type": string(t),
	})
}

// handleHealth reports the delivery pipeline state. 503 when degraded
// so load balancer checks can page on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.dispatcher.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if h.Degraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"health":                h,
		"missing_contact_drops": s.composer.MissingContactCount(),
	})
}

func (s *Server) handleArrivals(w http.ResponseWriter, r *http.Request) {
	arrivals, err := s.store.ActiveArrivals(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": arrivals})
}

// handleArrival returns one arrival with its derived intelligence,
// document checklist, and alert history.
func (s *Server) handleArrival(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.store.GetArrival(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "arrival not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	out := map[string]any{"arrival": a}
	if it, err := s.store.GetIntelligence(r.Context(), id); err == nil {
		out["intelligence"] = it
	}
	if docs, err := s.store.DocumentsForArrival(r.Context(), id); err == nil {
		out["documents"] = docs
	}
	if alerts, err := s.store.AlertsForArrival(r.Context(), id); err == nil {
		out["alerts"] = alerts
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) markRead(ctx context.Context, id string) error {
	return s.store.MarkAlertRead(ctx, id, s.now())
}

func (s *Server) markAcknowledged(ctx context.Context, id string) error {
	return s.store.MarkAlertAcknowledged(ctx, id, s.now())
}

func (s *Server) handleAlertMark(mark func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := mark(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "alert not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

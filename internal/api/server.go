// Package api exposes the scheduler trigger and the operator control plane
// over HTTP. The trigger endpoint is called by an external cron; the /admin
// endpoints are the manual levers for pausing, draining and wiping the queue
// storage.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"marketsync/internal/config"
	"marketsync/internal/dispatcher"
	"marketsync/internal/models"
	"marketsync/internal/queue"
	"marketsync/internal/report"
)

// RunsMirror pushes run summaries to an external sheet. Optional.
type RunsMirror interface {
	MirrorRuns(ctx context.Context, runs []models.SyncRun) error
}

// RunSource lists recorded sync runs for reports.
type RunSource interface {
	SyncRunsSince(ctx context.Context, since time.Time) ([]models.SyncRun, error)
}

type Server struct {
	cfg        config.ServerConfig
	redisCfg   config.RedisConfig
	dispatcher *dispatcher.Dispatcher
	queue      *queue.Queue
	brands     []models.Brand
	runs       RunSource
	exporter   *report.Exporter
	mirror     RunsMirror
	server     *http.Server
	logger     zerolog.Logger
}

func NewServer(
	cfg config.ServerConfig,
	redisCfg config.RedisConfig,
	d *dispatcher.Dispatcher,
	q *queue.Queue,
	brands []models.Brand,
	runs RunSource,
	exporter *report.Exporter,
	mirror RunsMirror,
	logger *zerolog.Logger,
) *Server {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "api").Logger()
	}
	s := &Server{
		cfg:        cfg,
		redisCfg:   redisCfg,
		dispatcher: d,
		queue:      q,
		brands:     brands,
		runs:       runs,
		exporter:   exporter,
		mirror:     mirror,
		logger:     base,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	scheduler := schedulerGate(s.cfg)
	r.With(scheduler).Get("/trigger-daily-sync", s.handleTriggerDaily)
	r.With(scheduler).Post("/trigger-daily-sync", s.handleTriggerDaily)
	r.With(scheduler).Get("/orders", s.handleOrders)

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminGate(s.cfg))
		r.Get("/pause-queue", s.handlePause)
		r.Get("/resume-queue", s.handleResume)
		r.Get("/remove-job", s.handleRemoveJob)
		r.Get("/stop-all-jobs", s.handleStopAll)
		r.Get("/flush-redis", s.handleFlushRedis)
		r.Get("/export-report", s.handleExportReport)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleTriggerDaily(w http.ResponseWriter, r *http.Request) {
	res := s.dispatcher.DispatchDaily(r.Context(), time.Now())

	failed := make(map[string]string, len(res.Failed))
	for brand, err := range res.Failed {
		failed[brand] = err.Error()
	}
	body := map[string]any{
		"enqueued": len(res.Enqueued),
		"brands":   res.Enqueued,
		"failed":   failed,
	}
	if len(res.Enqueued) == 0 && len(res.Failed) > 0 {
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	brand := r.URL.Query().Get("brand")
	if brand == "" {
		brand = s.cfg.DefaultBrand
	}
	if err := s.dispatcher.DispatchAdHoc(r.Context(), brand, time.Now()); err != nil {
		if errors.Is(err, dispatcher.ErrUnknownBrand) {
			writeError(w, http.StatusNotFound, "unknown brand")
			return
		}
		s.logger.Error().Err(err).Str("brand", brand).Msg("ad hoc enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enqueued", "brand": brand})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.eachQueue(w, r, "paused", s.queue.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.eachQueue(w, r, "resumed", s.queue.Resume)
}

func (s *Server) eachQueue(w http.ResponseWriter, r *http.Request, verb string, op func(context.Context, string) error) {
	var errs []error
	for _, b := range s.brands {
		if err := op(r.Context(), b.QueueName()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.QueueName(), err))
		}
	}
	if len(errs) > 0 {
		s.logger.Error().Err(errors.Join(errs...)).Msg("queue operation partially failed")
		writeError(w, http.StatusInternalServerError, "operation failed for some queues")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": verb, "queues": len(s.brands)})
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	brand := r.URL.Query().Get("brand")
	if brand == "" {
		brand = s.cfg.DefaultBrand
	}
	queueName := models.Brand{Key: brand}.QueueName()

	if err := s.queue.Remove(r.Context(), queueName, jobID); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("remove job failed")
		writeError(w, http.StatusInternalServerError, "remove failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "jobId": jobID})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.StopAll(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("stop all failed")
		writeError(w, http.StatusInternalServerError, "stop failed")
		return
	}
	s.logger.Warn().Msg("all queues stopped by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleFlushRedis(w http.ResponseWriter, r *http.Request) {
	if err := queue.FlushStorage(r.Context(), s.redisCfg.Address, s.redisCfg.Password, s.redisCfg.DB); err != nil {
		s.logger.Error().Err(err).Msg("flush failed")
		writeError(w, http.StatusInternalServerError, "flush failed")
		return
	}
	s.logger.Warn().Msg("redis storage flushed by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
			return
		}
		since = parsed
	}

	runs, err := s.runs.SyncRunsSince(r.Context(), since)
	if err != nil {
		s.logger.Error().Err(err).Msg("list sync runs failed")
		writeError(w, http.StatusInternalServerError, "report failed")
		return
	}
	path, err := s.exporter.WriteRunReport(runs, since)
	if err != nil {
		s.logger.Error().Err(err).Msg("write report failed")
		writeError(w, http.StatusInternalServerError, "report failed")
		return
	}

	mirrored := false
	if s.mirror != nil {
		if err := s.mirror.MirrorRuns(r.Context(), runs); err != nil {
			s.logger.Error().Err(err).Msg("sheet mirror failed")
		} else {
			mirrored = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "runs": len(runs), "mirrored": mirrored})
}

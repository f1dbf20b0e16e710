package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/resolution"
	"github.com/user/price-aggregator/internal/scheduler"
)

type crawlRequest struct {
	Sources []string `json:"sources"`
}

// handleCrawlStart starts the crawl loop for the requested sources, or for
// every active catalog source when the list is empty. Each source gets its
// own outcome: started, ignored (already running) or failed.
func (s *Server) handleCrawlStart(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	ids := req.Sources
	if len(ids) == 0 {
		sources, err := s.catalog.ListSources(r.Context())
		if err != nil {
			s.logger.Error("failed to list sources", zap.Error(err))
			s.respondWithError(w, http.StatusInternalServerError, "Could not list sources")
			return
		}
		for _, src := range sources {
			if src.Active {
				ids = append(ids, src.ID)
			}
		}
	}

	started := make([]string, 0, len(ids))
	ignored := make([]string, 0)
	failed := make(map[string]string)
	for _, id := range ids {
		switch err := s.sched.StartSource(id); {
		case err == nil:
			started = append(started, id)
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			ignored = append(ignored, id)
		case errors.Is(err, scheduler.ErrUnknownSource):
			failed[id] = "unknown source"
		default:
			s.logger.Error("failed to start source", zap.String("source", id), zap.Error(err))
			failed[id] = "could not start"
		}
	}

	s.respondWithJSON(w, http.StatusAccepted, map[string]any{
		"started": started,
		"ignored": ignored,
		"failed":  failed,
	})
}

func (s *Server) handleCrawlStop(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	ids := req.Sources
	if len(ids) == 0 {
		for id := range s.sched.Stats() {
			ids = append(ids, id)
		}
	}

	stopped := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := s.sched.StopSource(id); err == nil {
			stopped = append(stopped, id)
		}
	}
	s.respondWithJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

func (s *Server) handleCrawlStatus(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]bool)
	for id := range s.sched.Stats() {
		status[id] = s.sched.IsRunning(id)
	}
	s.respondWithJSON(w, http.StatusOK, status)
}

func (s *Server) handleCrawlStats(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.sched.Stats())
}

type resolutionRequest struct {
	Mode          string  `json:"mode"`
	BatchSize     int     `json:"batch_size"`
	MinMatchScore float64 `json:"min_match_score"`
}

// handleResolutionStart launches a resolution job. Tuning fields omitted
// from the request fall back to the configured values. A second start while
// one runs answers 409 with the running job's id.
func (s *Server) handleResolutionStart(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	mode := domain.ResolutionMode(req.Mode)
	switch mode {
	case "", domain.ModeFresh, domain.ModeIncremental:
	default:
		s.respondWithError(w, http.StatusBadRequest, "Mode must be 'fresh' or 'incremental'")
		return
	}
	if req.MinMatchScore < 0 || req.MinMatchScore > 1 {
		s.respondWithError(w, http.StatusBadRequest, "min_match_score must be within (0, 1]")
		return
	}
	if req.BatchSize < 0 {
		s.respondWithError(w, http.StatusBadRequest, "batch_size must be positive")
		return
	}

	opts := resolution.Options{
		Mode:          mode,
		BatchSize:     req.BatchSize,
		MinMatchScore: req.MinMatchScore,
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = s.config.ResolutionBatchSize
	}
	if opts.MinMatchScore == 0 {
		opts.MinMatchScore = s.config.MinMatchScore
	}

	jobID, err := s.resolution.Start(r.Context(), opts)
	if errors.Is(err, resolution.ErrJobRunning) {
		s.respondWithJSON(w, http.StatusConflict, map[string]string{
			"error":  "resolution job already running",
			"job_id": jobID,
		})
		return
	}
	if err != nil {
		s.logger.Error("failed to start resolution job", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not start resolution job")
		return
	}
	s.respondWithJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// handleResolutionStatus serves the current job, or a historical one when
// job_id is given.
func (s *Server) handleResolutionStatus(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("job_id"); id != "" {
		job, err := s.resolution.Job(r.Context(), id)
		if err != nil {
			s.respondWithError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.respondWithJSON(w, http.StatusOK, jobView(job))
		return
	}

	job := s.resolution.Status()
	if job == nil {
		s.respondWithError(w, http.StatusNotFound, "No resolution job has run yet")
		return
	}
	s.respondWithJSON(w, http.StatusOK, jobView(job))
}

// handleResolutionEvents streams progress events over SSE until the client
// disconnects.
func (s *Server) handleResolutionEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	events, unsubscribe := s.resolution.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case p := <-events:
			payload, err := json.Marshal(p)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleSourceCookies accepts session cookies for a source in any of the
// common export formats and forwards them normalized.
func (s *Server) handleSourceCookies(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "Request body required")
		return
	}

	cookies, err := ParseCookies(body)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.sched.Cookies(sourceID, cookies); err != nil {
		s.respondWithError(w, http.StatusNotFound, "Unknown source: "+sourceID)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]any{"accepted": len(cookies)})
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Listing id must be numeric")
		return
	}

	points, err := s.listings.PriceHistory(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load price history", zap.Int64("listing", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not load price history")
		return
	}
	s.respondWithJSON(w, http.StatusOK, points)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.pgPing.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if err := s.redisPing.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	if healthStatus["postgres"] != "healthy" || healthStatus["redis"] != "healthy" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// resolutionJobView is the wire shape of a resolution job.
type resolutionJobView struct {
	ID               string         `json:"id"`
	Status           string         `json:"status"`
	Mode             string         `json:"mode"`
	TotalRaw         int            `json:"total_raw"`
	Processed        int            `json:"processed"`
	CanonicalCreated int            `json:"canonical_created"`
	MappingsCreated  int            `json:"mappings_created"`
	SourceBreakdown  map[string]int `json:"source_breakdown,omitempty"`
	CurrentPhase     string         `json:"current_phase"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

func jobView(j *domain.ResolutionJob) resolutionJobView {
	return resolutionJobView{
		ID:               j.ID,
		Status:           string(j.Status),
		Mode:             string(j.Mode),
		TotalRaw:         j.TotalRaw,
		Processed:        j.Processed,
		CanonicalCreated: j.CanonicalCreated,
		MappingsCreated:  j.MappingsCreated,
		SourceBreakdown:  j.SourceBreakdown,
		CurrentPhase:     string(j.CurrentPhase),
		ErrorMessage:     j.ErrorMessage,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

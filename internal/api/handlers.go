package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/maltedev/yellowpages-scraper/internal/cache"
	"github.com/maltedev/yellowpages-scraper/internal/database"
	"github.com/maltedev/yellowpages-scraper/internal/models"
	"github.com/maltedev/yellowpages-scraper/internal/scraper"
	"golang.org/x/sync/semaphore"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200

	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// Searcher runs one search with its own session.
type Searcher interface {
	Search(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error)
}

// SearcherFactory builds a fresh Searcher per request so sessions are never
// shared between searches.
type SearcherFactory func() (Searcher, error)

type ResultCache interface {
	Get(ctx context.Context, key string) (*models.SearchResult, error)
	Set(ctx context.Context, key string, result *models.SearchResult) error
}

type RunStore interface {
	SaveSearch(ctx context.Context, result *models.SearchResult) error
	RecentRuns(ctx context.Context, limit int) ([]database.RunSummary, error)
}

// OutboxMonitor reports the backlog of unpublished search events.
type OutboxMonitor interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	newSearcher SearcherFactory
	sem         *semaphore.Weighted
	cache       ResultCache
	store       RunStore
	outbox      OutboxMonitor
	logger      *slog.Logger

	searches  atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
	inFlight  atomic.Int64
}

type Option func(*Handlers)

func WithCache(c ResultCache) Option {
	return func(h *Handlers) { h.cache = c }
}

func WithStore(s RunStore) Option {
	return func(h *Handlers) { h.store = s }
}

func WithOutbox(o OutboxMonitor) Option {
	return func(h *Handlers) { h.outbox = o }
}

// NewHandlers serves searches, running at most maxConcurrent at a time.
func NewHandlers(factory SearcherFactory, maxConcurrent int64, logger *slog.Logger, opts ...Option) *Handlers {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		newSearcher: factory,
		sem:         semaphore.NewWeighted(maxConcurrent),
		logger:      logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SearchRequest is the body of POST /api/v1/searches. NoCache skips the cache
// lookup but still refreshes the entry.
type SearchRequest struct {
	Terms    string `json:"terms"`
	Location string `json:"location"`
	Pages    int    `json:"pages"`
	NoCache  bool   `json:"no_cache"`
}

type SearchResponse struct {
	Cached bool                 `json:"cached"`
	Result *models.SearchResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

type StatsResponse struct {
	Searches  int64 `json:"searches"`
	Failures  int64 `json:"failures"`
	CacheHits int64 `json:"cache_hits"`
	InFlight  int64 `json:"in_flight"`
}

// CreateSearch runs a search synchronously and returns its listings.
func (h *Handlers) CreateSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Pages == 0 {
		req.Pages = 1
	}

	ctx := r.Context()
	key := cache.Key(req.Terms, req.Location, req.Pages)

	if h.cache != nil && !req.NoCache {
		cached, err := h.cache.Get(ctx, key)
		if err != nil {
			h.logger.Warn("cache lookup failed", "error", err)
		}
		if cached != nil {
			h.cacheHits.Add(1)
			h.respondJSON(w, http.StatusOK, SearchResponse{Cached: true, Result: cached})
			return
		}
	}

	if !h.sem.TryAcquire(1) {
		h.respondError(w, http.StatusTooManyRequests, "too many searches in progress")
		return
	}
	defer h.sem.Release(1)

	h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	h.searches.Add(1)

	searcher, err := h.newSearcher()
	if err != nil {
		h.failures.Add(1)
		h.logger.Error("failed to build searcher", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start search")
		return
	}

	result, err := searcher.Search(ctx, req.Terms, req.Location, req.Pages)
	if err != nil {
		if errors.Is(err, scraper.ErrInvalidQuery) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.failures.Add(1)
		h.logger.Error("search failed", "error", err, "terms", req.Terms, "location", req.Location)
		h.respondJSON(w, http.StatusBadGateway, SearchResponse{Result: result, Error: err.Error()})
		return
	}

	if h.store != nil {
		if err := h.store.SaveSearch(ctx, result); err != nil {
			h.logger.Error("failed to save search", "error", err, "run_id", result.RunID)
		}
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, key, result); err != nil {
			h.logger.Warn("failed to cache search", "error", err)
		}
	}

	h.respondJSON(w, http.StatusOK, SearchResponse{Result: result})
}

// ListSearches returns the most recent stored runs.
func (h *Handlers) ListSearches(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.respondError(w, http.StatusNotImplemented, "search history requires a database")
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.store.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list searches", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list searches")
		return
	}
	if runs == nil {
		runs = []database.RunSummary{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, StatsResponse{
		Searches:  h.searches.Load(),
		Failures:  h.failures.Load(),
		CacheHits: h.cacheHits.Load(),
		InFlight:  h.inFlight.Load(),
	})
}

// Health reports ok, degrading when the outbox backlog grows.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.PendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
		}
		dead, err := h.outbox.DeadLetterCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to read dead letter count", "error", err)
		}
		health["outbox"] = map[string]int64{"pending": pending, "dead_letter": dead}

		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if dead > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

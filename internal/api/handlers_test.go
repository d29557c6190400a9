package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/yellowpages-scraper/internal/cache"
	"github.com/maltedev/yellowpages-scraper/internal/database"
	"github.com/maltedev/yellowpages-scraper/internal/models"
	"github.com/maltedev/yellowpages-scraper/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type searchFunc func(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error)

func (f searchFunc) Search(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error) {
	return f(ctx, terms, location, pages)
}

func factoryFor(fn searchFunc) SearcherFactory {
	return func() (Searcher, error) { return fn, nil }
}

func okSearch(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error) {
	result := models.NewSearchResult("run-1", terms, location, "https://www.yellowpages.com/search", pages)
	result.PagesFetched = pages
	result.Listings = []models.Listing{{Name: models.StringPtr("El Pollo Loco"), Page: 1}}
	return result, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*models.SearchResult
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*models.SearchResult)}
}

func (c *memoryCache) Get(ctx context.Context, key string) (*models.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memoryCache) Set(ctx context.Context, key string, result *models.SearchResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
	return nil
}

type memoryStore struct {
	saved   []*models.SearchResult
	runs    []database.RunSummary
	saveErr error
	limit   int
}

func (s *memoryStore) SaveSearch(ctx context.Context, result *models.SearchResult) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, result)
	return nil
}

func (s *memoryStore) RecentRuns(ctx context.Context, limit int) ([]database.RunSummary, error) {
	s.limit = limit
	return s.runs, nil
}

func postSearch(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/searches", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeSearch(t *testing.T, rec *httptest.ResponseRecorder) SearchResponse {
	t.Helper()
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	router := NewRouter(NewHandlers(factoryFor(okSearch), 1, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

type fixedOutbox struct {
	pending, dead int64
}

func (o fixedOutbox) PendingCount(ctx context.Context) (int64, error) { return o.pending, nil }

func (o fixedOutbox) DeadLetterCount(ctx context.Context) (int64, error) { return o.dead, nil }

func TestHealthReportsOutbox(t *testing.T) {
	tests := []struct {
		name       string
		outbox     fixedOutbox
		wantStatus int
		wantHealth string
	}{
		{"Healthy", fixedOutbox{pending: 3}, http.StatusOK, "ok"},
		{"Backlog", fixedOutbox{pending: 5000}, http.StatusOK, "warning"},
		{"Dead letters", fixedOutbox{dead: 500}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandlers(factoryFor(okSearch), 1, nil, WithOutbox(tt.outbox)))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body struct {
				Status string           `json:"status"`
				Outbox map[string]int64 `json:"outbox"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantHealth, body.Status)
			assert.Equal(t, tt.outbox.pending, body.Outbox["pending"])
			assert.Equal(t, tt.outbox.dead, body.Outbox["dead_letter"])
		})
	}
}

func TestCreateSearch(t *testing.T) {
	t.Run("Returns listings", func(t *testing.T) {
		var gotPages int
		router := NewRouter(NewHandlers(factoryFor(func(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error) {
			gotPages = pages
			return okSearch(ctx, terms, location, pages)
		}), 1, nil))

		rec := postSearch(t, router, `{"terms":"chicken","location":"Los Angeles, CA"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		resp := decodeSearch(t, rec)
		assert.False(t, resp.Cached)
		require.NotNil(t, resp.Result)
		assert.Equal(t, "chicken", resp.Result.Terms)
		assert.Len(t, resp.Result.Listings, 1)
		assert.Equal(t, 1, gotPages, "pages defaults to one")
	})

	t.Run("Malformed body", func(t *testing.T) {
		router := NewRouter(NewHandlers(factoryFor(okSearch), 1, nil))

		rec := postSearch(t, router, `{"terms":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid request body"}`, rec.Body.String())
	})

	t.Run("Invalid query", func(t *testing.T) {
		router := NewRouter(NewHandlers(factoryFor(func(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error) {
			return nil, fmt.Errorf("%w: terms and location are required", scraper.ErrInvalidQuery)
		}), 1, nil))

		rec := postSearch(t, router, `{"terms":"","location":"Austin, TX"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "terms and location are required")
	})

	t.Run("Failure returns partial result", func(t *testing.T) {
		store := &memoryStore{}
		router := NewRouter(NewHandlers(factoryFor(func(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error) {
			result, _ := okSearch(ctx, terms, location, pages)
			return result, errors.New("failed to fetch page 2: status 403")
		}), 1, nil, WithStore(store)))

		rec := postSearch(t, router, `{"terms":"chicken","location":"LA","pages":3}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		resp := decodeSearch(t, rec)
		assert.Contains(t, resp.Error, "status 403")
		require.NotNil(t, resp.Result)
		assert.Len(t, resp.Result.Listings, 1)
		assert.Empty(t, store.saved, "failed runs are not persisted")
	})

	t.Run("Factory failure", func(t *testing.T) {
		handlers := NewHandlers(func() (Searcher, error) {
			return nil, errors.New("no proxy")
		}, 1, nil)

		rec := postSearch(t, NewRouter(handlers), `{"terms":"chicken","location":"LA"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("Store failure does not fail the request", func(t *testing.T) {
		store := &memoryStore{saveErr: errors.New("connection reset")}
		router := NewRouter(NewHandlers(factoryFor(okSearch), 1, nil, WithStore(store)))

		rec := postSearch(t, router, `{"terms":"chicken","location":"LA"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCreateSearchCache(t *testing.T) {
	calls := 0
	c := newMemoryCache()
	store := &memoryStore{}
	router := NewRouter(NewHandlers(factoryFor(func(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error) {
		calls++
		return okSearch(ctx, terms, location, pages)
	}), 1, nil, WithCache(c), WithStore(store)))

	first := postSearch(t, router, `{"terms":"chicken","location":"Los Angeles, CA","pages":2}`)
	require.Equal(t, http.StatusOK, first.Code)
	assert.False(t, decodeSearch(t, first).Cached)
	assert.Contains(t, c.entries, cache.Key("chicken", "Los Angeles, CA", 2))
	assert.Len(t, store.saved, 1)

	second := postSearch(t, router, `{"terms":"Chicken","location":"los angeles, ca","pages":2}`)
	require.Equal(t, http.StatusOK, second.Code)
	assert.True(t, decodeSearch(t, second).Cached)
	assert.Equal(t, 1, calls)

	third := postSearch(t, router, `{"terms":"chicken","location":"Los Angeles, CA","pages":2,"no_cache":true}`)
	require.Equal(t, http.StatusOK, third.Code)
	assert.False(t, decodeSearch(t, third).Cached)
	assert.Equal(t, 2, calls)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, StatsResponse{Searches: 2, CacheHits: 1}, stats)
}

func TestCreateSearchConcurrencyLimit(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	router := NewRouter(NewHandlers(factoryFor(func(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error) {
		close(started)
		<-release
		return okSearch(ctx, terms, location, pages)
	}), 1, nil))

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- postSearch(t, router, `{"terms":"chicken","location":"LA"}`)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first search never started")
	}

	busy := postSearch(t, router, `{"terms":"pizza","location":"LA"}`)
	assert.Equal(t, http.StatusTooManyRequests, busy.Code)

	close(release)
	assert.Equal(t, http.StatusOK, (<-done).Code)
}

func TestListSearches(t *testing.T) {
	finished := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		store      *memoryStore
		query      string
		wantStatus int
		wantLimit  int
	}{
		{"No database", nil, "", http.StatusNotImplemented, 0},
		{"Default limit", &memoryStore{runs: []database.RunSummary{{RunID: "run-1", FinishedAt: finished}}}, "", http.StatusOK, defaultRunsLimit},
		{"Explicit limit", &memoryStore{}, "?limit=5", http.StatusOK, 5},
		{"Limit is capped", &memoryStore{}, "?limit=1000", http.StatusOK, maxRunsLimit},
		{"Bad limit", &memoryStore{}, "?limit=zero", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.store != nil {
				opts = append(opts, WithStore(tt.store))
			}
			router := NewRouter(NewHandlers(factoryFor(okSearch), 1, nil, opts...))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/searches"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.store != nil {
				assert.Equal(t, tt.wantLimit, tt.store.limit)
			}
			if tt.wantStatus == http.StatusOK {
				var body struct {
					Runs  []database.RunSummary `json:"runs"`
					Count int                   `json:"count"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, len(tt.store.runs), body.Count)
				assert.NotNil(t, body.Runs)
			}
		})
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		NewRouter(NewHandlers(factoryFor(okSearch), 1, nil)), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI counts list calls and lets tests block a fetch.
type fakeAPI struct {
	mu        sync.Mutex
	listCalls int
	gate      chan struct{} // when non-nil, List waits on it
	entities  map[int64]models.Entity
	deleteLog []int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{entities: map[int64]models.Entity{
		1: {ID: 1, Name: "one"},
		2: {ID: 2, Name: "two"},
	}}
}

func (f *fakeAPI) List(ctx context.Context, key ListKey) (*models.EntityPage, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data := make([]models.Entity, 0, len(f.entities))
	for id := int64(1); id <= 10; id++ {
		if e, ok := f.entities[id]; ok {
			data = append(data, e)
		}
	}
	return &models.EntityPage{
		Data:       data,
		Pagination: models.Pagination{Page: key.Page, Limit: key.Limit, Total: len(data), TotalPages: 1},
	}, nil
}

func (f *fakeAPI) Get(_ context.Context, id int64) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound}
	}
	return &e, nil
}

func (f *fakeAPI) Create(_ context.Context, req CreateRequest) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := int64(len(f.entities) + 1)
	e := models.Entity{ID: id, Name: req.Name}
	f.entities[id] = e
	return &e, nil
}

func (f *fakeAPI) Update(_ context.Context, id int64, req UpdateRequest) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound}
	}
	if req.Name.Set {
		e.Name = req.Name.Value
	}
	f.entities[id] = e
	return &e, nil
}

func (f *fakeAPI) Delete(_ context.Context, id int64) error {
	// Widen the window for concurrent mutations.
	time.Sleep(5 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteLog = append(f.deleteLog, id)
	if _, ok := f.entities[id]; !ok {
		return &APIError{StatusCode: http.StatusNotFound}
	}
	delete(f.entities, id)
	return nil
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func TestListKeyNormalize(t *testing.T) {
	assert.Equal(t, ListKey{Search: "x", Page: 1, Limit: 10}, ListKey{Search: "  x "}.Normalize())
	assert.Equal(t, ListKey{Page: 3, Limit: 100}, ListKey{Page: 3, Limit: 500}.Normalize())
}

func TestSessionCachesByKey(t *testing.T) {
	api := newFakeAPI()
	s := NewSession(api, nil)
	ctx := context.Background()

	_, err := s.List(ctx, ListKey{Search: "a"})
	require.NoError(t, err)
	_, err = s.List(ctx, ListKey{Search: " a ", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls(), "normalized keys share an entry")

	_, err = s.List(ctx, ListKey{Search: "a", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls())

	_, ok := s.Cached(ListKey{Search: "a"})
	assert.True(t, ok)
}

func TestSessionMutationsInvalidate(t *testing.T) {
	api := newFakeAPI()
	s := NewSession(api, nil)
	ctx := context.Background()

	page, err := s.List(ctx, ListKey{})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)

	require.NoError(t, s.Delete(ctx, 1))
	_, ok := s.Cached(ListKey{})
	assert.False(t, ok, "delete must drop cached pages")

	page, err = s.List(ctx, ListKey{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, int64(2), page.Data[0].ID)

	gen := s.Generation()
	_, err = s.Create(ctx, CreateRequest{Name: "three"})
	require.NoError(t, err)
	assert.Greater(t, s.Generation(), gen)

	gen = s.Generation()
	_, err = s.Update(ctx, 2, UpdateRequest{Name: models.Some("deux")})
	require.NoError(t, err)
	assert.Greater(t, s.Generation(), gen)
}

func TestSessionFailedMutationKeepsCache(t *testing.T) {
	api := newFakeAPI()
	s := NewSession(api, nil)
	ctx := context.Background()

	_, err := s.List(ctx, ListKey{})
	require.NoError(t, err)

	failing := &failingAPI{fakeAPI: api}
	s.api = failing
	_, err = s.Create(ctx, CreateRequest{Name: "x"})
	require.ErrorIs(t, err, ErrConflict)

	_, ok := s.Cached(ListKey{})
	assert.True(t, ok)
}

type failingAPI struct{ *fakeAPI }

func (f *failingAPI) Create(context.Context, CreateRequest) (*models.Entity, error) {
	return nil, &APIError{StatusCode: http.StatusConflict}
}

func TestSessionStaleFetchNotCached(t *testing.T) {
	api := newFakeAPI()
	gate := make(chan struct{})
	api.gate = gate
	s := NewSession(api, nil)
	ctx := context.Background()

	done := make(chan *models.EntityPage)
	go func() {
		page, err := s.List(ctx, ListKey{})
		assert.NoError(t, err)
		done <- page
	}()

	require.Eventually(t, func() bool { return api.calls() == 1 }, time.Second, time.Millisecond)
	// The in-flight fetch predates this invalidation.
	s.Invalidate()

	api.mu.Lock()
	api.gate = nil
	api.mu.Unlock()
	close(gate)

	<-done
	assert.Equal(t, 2, api.calls(), "stale result must trigger a refetch")
	_, ok := s.Cached(ListKey{})
	assert.True(t, ok, "the fresh result is cached")
}

func TestSessionSingleflight(t *testing.T) {
	api := newFakeAPI()
	api.gate = make(chan struct{})
	s := NewSession(api, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.List(ctx, ListKey{})
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return api.calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(api.gate)
	wg.Wait()

	assert.Equal(t, 1, api.calls())
}

func TestSessionSharedFetchSurvivesCallerCancel(t *testing.T) {
	api := newFakeAPI()
	api.gate = make(chan struct{})
	s := NewSession(api, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.List(firstCtx, ListKey{})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return api.calls() == 1 }, time.Second, time.Millisecond)

	second := make(chan *models.EntityPage, 1)
	go func() {
		page, err := s.List(context.Background(), ListKey{})
		assert.NoError(t, err)
		second <- page
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still waiting on the shared fetch")
	}

	close(api.gate)
	page := <-second
	require.NotNil(t, page)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 1, api.calls(), "the second caller shared the first fetch")
	_, ok := s.Cached(ListKey{})
	assert.True(t, ok)
}

func TestSessionSerializesMutationsPerID(t *testing.T) {
	api := newFakeAPI()
	s := NewSession(api, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Delete(ctx, 1)
		}(i)
	}
	wg.Wait()

	var ok, notFound int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNotFound):
			notFound++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, notFound)
	assert.Empty(t, s.locks.m, "locks are released")
}

func TestSessionWatchInvalidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		_ = wsjson.Write(r.Context(), c, models.ChangeMessage{
			Topic:       "entities.entity.deleted",
			EntityEvent: models.EntityEvent{Action: models.EntityDeleted, ID: 7},
		})
		// Hold the connection until the client goes away.
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	s := NewSession(newFakeAPI(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen atomic.Int64
	errc := make(chan error, 1)
	go func() {
		errc <- s.Watch(ctx, "ws"+srv.URL[len("http"):], func(m models.ChangeMessage) {
			seen.Store(m.ID)
		})
	}()

	require.Eventually(t, func() bool { return seen.Load() == 7 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), s.Generation())

	cancel()
	assert.NoError(t, <-errc)
}

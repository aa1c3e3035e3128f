package entities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/HerbHall/entitykit/internal/services"
	"github.com/HerbHall/entitykit/internal/testutil"
	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, opts ...services.EntityRepoOption) (*Service, *testutil.MockBus) {
	t.Helper()
	bus := testutil.NewMockBus()
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return NewService(testutil.NewEntityRepo(t, opts...), bus, metrics, testutil.Logger(t)), bus
}

func strPtr(s string) *string { return &s }

func mustCreate(t *testing.T, svc *Service, name string, desc *string) *models.Entity {
	t.Helper()
	e, err := svc.Create(context.Background(), CreateInput{Name: name, Description: desc})
	require.NoError(t, err)
	return e
}

func TestServiceCreateGetRoundTrip(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, "Foo", strPtr("bar"))

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Foo", got.Name)
	assert.Equal(t, "bar", got.DescriptionOrEmpty())
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.UpdatedAt)

	assert.Equal(t, []string{TopicEntityCreated}, bus.Topics())
	payload, ok := bus.Events()[0].Payload.(models.EntityEvent)
	require.True(t, ok)
	assert.Equal(t, created.ID, payload.ID)
	assert.Equal(t, models.EntityCreated, payload.Action)
}

func TestServiceCreateTrimsName(t *testing.T) {
	svc, _ := newTestService(t)

	e := mustCreate(t, svc, "  padded  ", nil)
	assert.Equal(t, "padded", e.Name)
}

func TestServiceCreateConflict(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, "Foo", nil)
	bus.Reset()

	_, err := svc.Create(ctx, CreateInput{Name: "foo"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, bus.Events(), "failed create must not publish")
}

func TestServiceCreateCaseSensitivePolicy(t *testing.T) {
	svc, _ := newTestService(t, services.WithNamePolicy(services.NameCaseSensitive))
	ctx := context.Background()

	mustCreate(t, svc, "Foo", nil)
	_, err := svc.Create(ctx, CreateInput{Name: "foo"})
	assert.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "Foo"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestServiceConcurrentCreateSameName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Create(ctx, CreateInput{Name: "race"})
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"empty name", CreateInput{Name: ""}, "name"},
		{"whitespace name", CreateInput{Name: "   "}, "name"},
		{"long name", CreateInput{Name: strings.Repeat("a", 101)}, "name"},
		{"long description", CreateInput{Name: "ok", Description: strPtr(strings.Repeat("d", 501))}, "description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	// Limits are counted in characters, not bytes.
	_, err := svc.Create(ctx, CreateInput{Name: strings.Repeat("é", 100)})
	assert.NoError(t, err)
}

func TestServiceUpdate(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()

	e := mustCreate(t, svc, "Foo", strPtr("bar"))
	mustCreate(t, svc, "Other", nil)
	bus.Reset()

	t.Run("own name is not a conflict", func(t *testing.T) {
		got, err := svc.Update(ctx, e.ID, UpdateInput{Name: models.Some("Foo")})
		require.NoError(t, err)
		assert.Equal(t, "Foo", got.Name)
		assert.NotNil(t, got.UpdatedAt)
	})

	t.Run("case change of own name", func(t *testing.T) {
		got, err := svc.Update(ctx, e.ID, UpdateInput{Name: models.Some("FOO")})
		require.NoError(t, err)
		assert.Equal(t, "FOO", got.Name)
	})

	t.Run("other entity's name conflicts", func(t *testing.T) {
		_, err := svc.Update(ctx, e.ID, UpdateInput{Name: models.Some("other")})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("description only", func(t *testing.T) {
		got, err := svc.Update(ctx, e.ID, UpdateInput{Description: models.Some("new")})
		require.NoError(t, err)
		assert.Equal(t, "FOO", got.Name)
		assert.Equal(t, "new", got.DescriptionOrEmpty())
	})

	t.Run("null description clears", func(t *testing.T) {
		got, err := svc.Update(ctx, e.ID, UpdateInput{Description: models.Null[string]()})
		require.NoError(t, err)
		assert.Nil(t, got.Description)
	})

	t.Run("null name rejected", func(t *testing.T) {
		_, err := svc.Update(ctx, e.ID, UpdateInput{Name: models.Null[string]()})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := svc.Update(ctx, 9999, UpdateInput{Name: models.Some("x")})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	for _, topic := range bus.Topics() {
		assert.Equal(t, TopicEntityUpdated, topic)
	}
}

func TestServiceDelete(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()

	e := mustCreate(t, svc, "doomed", nil)
	mustCreate(t, svc, "kept", nil)

	require.NoError(t, svc.Delete(ctx, e.ID))
	_, err := svc.Get(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, e.ID), ErrNotFound)
	page, err := svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Total)

	topics := bus.Topics()
	assert.Equal(t, TopicEntityDeleted, topics[len(topics)-1])
}

func TestServiceListScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		mustCreate(t, svc, fmt.Sprintf("item-%02d", i), nil)
	}

	page, err := svc.List(ctx, ListQuery{Page: 2, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Data, 10)
	assert.Equal(t, models.Pagination{Page: 2, Limit: 10, Total: 25, TotalPages: 3}, page.Pagination)
	assert.Equal(t, "item-15", page.Data[0].Name)

	page, err = svc.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 10, page.Pagination.Limit)

	page, err = svc.List(ctx, ListQuery{Page: 9, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Equal(t, 3, page.Pagination.TotalPages)
}

func TestServiceListEmpty(t *testing.T) {
	svc, _ := newTestService(t)

	page, err := svc.List(context.Background(), ListQuery{})
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.Equal(t, 0, page.Pagination.Total)
	assert.Equal(t, 1, page.Pagination.TotalPages)
}

func TestServiceListSearch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, "Foobar", nil)
	mustCreate(t, svc, "baz", strPtr("nothing relevant"))

	page, err := svc.List(ctx, ListQuery{Search: "  foo "})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Foobar", page.Data[0].Name)
	assert.Equal(t, 1, page.Pagination.Total)
}

func TestServiceListValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, q := range []ListQuery{{Page: -1}, {Limit: -5}, {Limit: 101}} {
		_, err := svc.List(ctx, q)
		assert.ErrorIs(t, err, ErrInvalid, "query %+v", q)
	}
}

// stubRepo overrides selected repository methods.
type stubRepo struct {
	services.EntityRepository
	nameTaken func(ctx context.Context, name string, excludeID int64) (bool, error)
	create    func(ctx context.Context, e *models.Entity) error
	find      func(ctx context.Context, f services.EntityFilter, o services.ListOptions) ([]models.Entity, error)
	count     func(ctx context.Context, f services.EntityFilter) (int, error)
}

func (s *stubRepo) NameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	return s.nameTaken(ctx, name, excludeID)
}

func (s *stubRepo) Create(ctx context.Context, e *models.Entity) error { return s.create(ctx, e) }

func (s *stubRepo) Find(ctx context.Context, f services.EntityFilter, o services.ListOptions) ([]models.Entity, error) {
	return s.find(ctx, f, o)
}

func (s *stubRepo) Count(ctx context.Context, f services.EntityFilter) (int, error) {
	return s.count(ctx, f)
}

func TestServiceCreateLostRaceIsConflict(t *testing.T) {
	repo := &stubRepo{
		nameTaken: func(context.Context, string, int64) (bool, error) { return false, nil },
		create:    func(context.Context, *models.Entity) error { return services.ErrAlreadyExists },
	}
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{Name: "late"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestServiceStoreFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	repo := &stubRepo{
		nameTaken: func(context.Context, string, int64) (bool, error) { return false, nil },
		create:    func(context.Context, *models.Entity) error { return boom },
		find: func(context.Context, services.EntityFilter, services.ListOptions) ([]models.Entity, error) {
			return []models.Entity{}, nil
		},
		count: func(context.Context, services.EntityFilter) (int, error) { return 0, boom },
	}
	bus := testutil.NewMockBus()
	svc := NewService(repo, bus, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{Name: "x"})
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "create", se.Op)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrConflict)

	_, err = svc.List(context.Background(), ListQuery{})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "list", se.Op)

	assert.Empty(t, bus.Events())
}

func TestServiceListTruncatesOversizedPage(t *testing.T) {
	repo := &stubRepo{
		find: func(_ context.Context, _ services.EntityFilter, o services.ListOptions) ([]models.Entity, error) {
			return make([]models.Entity, o.Limit+3), nil
		},
		count: func(context.Context, services.EntityFilter) (int, error) { return 50, nil },
	}
	svc := NewService(repo, nil, nil, nil)

	page, err := svc.List(context.Background(), ListQuery{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, page.Data, 5)
}

func TestServiceMetricsOutcomes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, "counted", nil)
	_, _ = svc.Create(ctx, CreateInput{Name: "counted"})
	_, _ = svc.Get(ctx, 12345)

	assert.Equal(t, 1.0, promtest.ToFloat64(svc.metrics.operations.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(svc.metrics.operations.WithLabelValues("create", "conflict")))
	assert.Equal(t, 1.0, promtest.ToFloat64(svc.metrics.operations.WithLabelValues("get", "not_found")))
}

package entities

import (
	"context"
	"errors"
	"time"

	"github.com/HerbHall/entitykit/internal/pagination"
	"github.com/HerbHall/entitykit/internal/services"
	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event topics published after successful mutations.
const (
	TopicEntityCreated = "entities.entity.created"
	TopicEntityUpdated = "entities.entity.updated"
	TopicEntityDeleted = "entities.entity.deleted"
)

// ListQuery selects one page of entities.
type ListQuery struct {
	Search string
	Page   int
	Limit  int
}

// CreateInput is a validated create request.
type CreateInput struct {
	Name        string
	Description *string
}

// UpdateInput carries the fields supplied by an update request.
type UpdateInput struct {
	Name        models.Optional[string]
	Description models.Optional[string]
}

// Service implements list/get/create/update/delete on top of an
// EntityRepository. The repository's UNIQUE constraint is authoritative for
// names; the NameTaken lookups only produce an early Conflict.
type Service struct {
	repo    services.EntityRepository
	bus     plugin.EventBus
	metrics *Metrics
	logger  *zap.Logger
}

// NewService creates a Service. bus and metrics may be nil.
func NewService(repo services.EntityRepository, bus plugin.EventBus, metrics *Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, bus: bus, metrics: metrics, logger: logger}
}

// List returns the requested page. The count and page queries run
// concurrently and both must succeed.
func (s *Service) List(ctx context.Context, q ListQuery) (page *models.EntityPage, err error) {
	defer func(start time.Time) { s.metrics.observe("list", start, err) }(time.Now())

	q, err = ValidateListQuery(q)
	if err != nil {
		return nil, err
	}
	filter := services.EntityFilter{Search: q.Search}
	offset := pagination.Offset(q.Page, q.Limit)

	var (
		items []models.Entity
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.repo.Find(gctx, filter, services.ListOptions{Limit: q.Limit, Offset: offset})
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.Count(gctx, filter)
		return err
	})
	if err = g.Wait(); err != nil {
		return nil, s.storeErr("list", err)
	}

	if len(items) > q.Limit {
		items = items[:q.Limit]
	}
	meta := pagination.Calculate(q.Page, q.Limit, total)
	return &models.EntityPage{
		Data: items,
		Pagination: models.Pagination{
			Page:       meta.Page,
			Limit:      meta.Limit,
			Total:      meta.Total,
			TotalPages: meta.TotalPages,
		},
	}, nil
}

// Get returns one entity or ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (e *models.Entity, err error) {
	defer func(start time.Time) { s.metrics.observe("get", start, err) }(time.Now())

	e, err = s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.mapErr("get", err)
	}
	return e, nil
}

// Create stores a new entity, or returns ErrConflict when the name is taken.
func (s *Service) Create(ctx context.Context, in CreateInput) (e *models.Entity, err error) {
	defer func(start time.Time) { s.metrics.observe("create", start, err) }(time.Now())

	if in, err = in.validate(); err != nil {
		return nil, err
	}

	taken, err := s.repo.NameTaken(ctx, in.Name, 0)
	if err != nil {
		return nil, s.storeErr("create", err)
	}
	if taken {
		return nil, ErrConflict
	}

	e = &models.Entity{Name: in.Name, Description: in.Description}
	if err = s.repo.Create(ctx, e); err != nil {
		return nil, s.mapErr("create", err)
	}

	s.publish(ctx, TopicEntityCreated, models.EntityCreated, e.ID, e)
	return e, nil
}

// Update applies the supplied fields. Renaming an entity to its current
// name is not a conflict.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (e *models.Entity, err error) {
	defer func(start time.Time) { s.metrics.observe("update", start, err) }(time.Now())

	if in, err = in.validate(); err != nil {
		return nil, err
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.mapErr("update", err)
	}

	patch := services.EntityPatch{Description: in.Description}
	if in.Name.Set {
		name := in.Name.Value
		patch.Name = &name
		if name != current.Name {
			taken, err := s.repo.NameTaken(ctx, name, id)
			if err != nil {
				return nil, s.storeErr("update", err)
			}
			if taken {
				return nil, ErrConflict
			}
		}
	}

	e, err = s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, s.mapErr("update", err)
	}

	s.publish(ctx, TopicEntityUpdated, models.EntityUpdated, e.ID, e)
	return e, nil
}

// Delete permanently removes an entity, or returns ErrNotFound.
func (s *Service) Delete(ctx context.Context, id int64) (err error) {
	defer func(start time.Time) { s.metrics.observe("delete", start, err) }(time.Now())

	if err = s.repo.Delete(ctx, id); err != nil {
		return s.mapErr("delete", err)
	}

	s.publish(ctx, TopicEntityDeleted, models.EntityDeleted, id, nil)
	return nil
}

// mapErr translates repository sentinels into service errors.
func (s *Service) mapErr(op string, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, services.ErrAlreadyExists):
		return ErrConflict
	default:
		return s.storeErr(op, err)
	}
}

func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Error("entity store failure", zap.String("op", op), zap.Error(err))
	return &StoreError{Op: op, Err: err}
}

func (s *Service) publish(ctx context.Context, topic, action string, id int64, e *models.Entity) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(context.WithoutCancel(ctx), plugin.Event{
		Topic:     topic,
		Source:    "entities",
		Timestamp: time.Now().UTC(),
		Payload:   models.EntityEvent{Action: action, ID: id, Entity: e},
	})
}

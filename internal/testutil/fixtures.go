package testutil

import (
	"time"

	"github.com/HerbHall/entitykit/pkg/models"
)

// NewEntity returns an Entity with sensible defaults, suitable for test
// fixtures. ID is left zero so it can be passed straight to Create.
func NewEntity(opts ...func(*models.Entity)) models.Entity {
	e := models.Entity{
		Name:      "test-entity",
		CreatedAt: Epoch,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// WithName sets the entity name.
func WithName(name string) func(*models.Entity) {
	return func(e *models.Entity) { e.Name = name }
}

// WithDescription sets a non-null description.
func WithDescription(desc string) func(*models.Entity) {
	return func(e *models.Entity) { e.Description = &desc }
}

// WithID sets the entity ID.
func WithID(id int64) func(*models.Entity) {
	return func(e *models.Entity) { e.ID = id }
}

// WithUpdatedAt marks the entity as updated at t.
func WithUpdatedAt(t time.Time) func(*models.Entity) {
	return func(e *models.Entity) { e.UpdatedAt = &t }
}

package models

import "time"

// Field limits for an Entity, counted in Unicode code points.
const (
	NameMinLength        = 1
	NameMaxLength        = 100
	DescriptionMaxLength = 500
)

// Entity is the named resource managed by the API.
type Entity struct {
	ID          int64      `json:"id" example:"42"`
	Name        string     `json:"name" example:"Primary uplink"`
	Description *string    `json:"description" example:"Fibre handoff in rack 3"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

// DescriptionOrEmpty returns the description, or "" when it is null.
func (e *Entity) DescriptionOrEmpty() string {
	if e.Description == nil {
		return ""
	}
	return *e.Description
}

// Pagination is the metadata returned alongside a page of entities.
type Pagination struct {
	Page       int `json:"page" example:"1"`
	Limit      int `json:"limit" example:"10"`
	Total      int `json:"total" example:"25"`
	TotalPages int `json:"totalPages" example:"3"`
}

// EntityPage is one page of a list query.
type EntityPage struct {
	Data       []Entity   `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// EntityEvent is the payload published when an entity changes.
type EntityEvent struct {
	Action string  `json:"action"`
	ID     int64   `json:"id"`
	Entity *Entity `json:"entity,omitempty"`
}

// Entity event actions.
const (
	EntityCreated = "created"
	EntityUpdated = "updated"
	EntityDeleted = "deleted"
)

// ChangeMessage is one frame of the entity change feed.
type ChangeMessage struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	EntityEvent
}

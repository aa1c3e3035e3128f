package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/HerbHall/entitykit/internal/server"
	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"go.uber.org/zap"
)

// BasePath is where the entity routes are mounted.
const BasePath = "/api/v1/entities"

// maxBodyBytes bounds create and update request bodies.
const maxBodyBytes = 64 << 10

// CreateRequest is the body of POST /entities.
// @Description Request body for creating an entity.
type CreateRequest struct {
	Name        models.Optional[string] `json:"name" swaggertype:"string" example:"Primary uplink"`
	Description models.Optional[string] `json:"description" swaggertype:"string" example:"Fibre handoff in rack 3"`
}

// UpdateRequest is the body of PATCH /entities/{id}. Omitted fields are
// left unchanged; a null description clears it.
// @Description Partial update of an entity.
type UpdateRequest struct {
	Name        models.Optional[string] `json:"name" swaggertype:"string" example:"Backup uplink"`
	Description models.Optional[string] `json:"description" swaggertype:"string" example:"Moved to rack 4"`
}

// Handler serves the entity REST endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the routes relative to BasePath.
func (h *Handler) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "", Handler: h.handleList},
		{Method: "POST", Path: "", Handler: h.handleCreate, Write: true},
		{Method: "GET", Path: "/{id}", Handler: h.handleGet},
		{Method: "PATCH", Path: "/{id}", Handler: h.handleUpdate, Write: true},
		{Method: "PUT", Path: "/{id}", Handler: h.handleUpdate, Write: true},
		{Method: "DELETE", Path: "/{id}", Handler: h.handleDelete, Write: true},
	}
}

// RegisterRoutes mounts the routes on mux under BasePath.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	for _, rt := range h.Routes() {
		mux.HandleFunc(rt.Method+" "+BasePath+rt.Path, rt.Handler)
	}
}

// handleList returns one page of entities.
//
//	@Summary		List entities
//	@Description	Paginated list, newest first, optionally filtered by a case-insensitive search on name or description.
//	@Tags			entities
//	@Produce		json
//	@Param			searchTerm	query		string	false	"Substring of name or description"
//	@Param			page		query		int		false	"Page number (>= 1)"		default(1)
//	@Param			limit		query		int		false	"Page size (1-100)"		default(10)
//	@Success		200			{object}	models.EntityPage
//	@Failure		400			{object}	server.Problem
//	@Failure		500			{object}	server.Problem
//	@Router			/entities [get]
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.svc.List(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleGet returns a single entity.
//
//	@Summary		Get entity
//	@Tags			entities
//	@Produce		json
//	@Param			id	path		int	true	"Entity ID"
//	@Success		200	{object}	models.Entity
//	@Failure		400	{object}	server.Problem
//	@Failure		404	{object}	server.Problem
//	@Router			/entities/{id} [get]
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleCreate creates an entity.
//
//	@Summary		Create entity
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateRequest	true	"New entity"
//	@Success		201		{object}	models.Entity
//	@Failure		400		{object}	server.Problem
//	@Failure		409		{object}	server.Problem	"Name already in use"
//	@Router			/entities [post]
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !req.Name.Set || req.Name.Null {
		h.writeError(w, r, &ValidationError{Field: "name", Wrapped: errors.New("is required")})
		return
	}

	e, err := h.svc.Create(r.Context(), CreateInput{
		Name:        req.Name.Value,
		Description: req.Description.Ptr(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%d", BasePath, e.ID))
	writeJSON(w, http.StatusCreated, e)
}

// handleUpdate applies a partial update.
//
//	@Summary		Update entity
//	@Description	Only supplied fields change. Send "description": null to clear the description.
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Entity ID"
//	@Param			request	body		UpdateRequest	true	"Fields to change"
//	@Success		200		{object}	models.Entity
//	@Failure		400		{object}	server.Problem
//	@Failure		404		{object}	server.Problem
//	@Failure		409		{object}	server.Problem	"Name already in use"
//	@Router			/entities/{id} [patch]
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req UpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.svc.Update(r.Context(), id, UpdateInput{Name: req.Name, Description: req.Description})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleDelete removes an entity.
//
//	@Summary		Delete entity
//	@Tags			entities
//	@Param			id	path	int	true	"Entity ID"
//	@Success		204
//	@Failure		400	{object}	server.Problem
//	@Failure		404	{object}	server.Problem
//	@Router			/entities/{id} [delete]
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps service errors to problem responses. Store failures are
// logged and reported generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	instance := r.URL.Path
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		server.ValidationFailed(w, ve.Field, ve.Error(), instance)
	case errors.Is(err, ErrNotFound):
		server.NotFound(w, "entity not found", instance)
	case errors.Is(err, ErrConflict):
		server.Conflict(w, "an entity with this name already exists", instance)
	default:
		h.logger.Error("entity request failed",
			zap.String("method", r.Method),
			zap.String("path", instance),
			zap.Error(err),
		)
		server.InternalError(w, "internal server error", instance)
	}
}

func parseListQuery(r *http.Request) (ListQuery, error) {
	vals := r.URL.Query()
	q := ListQuery{Search: vals.Get("searchTerm")}

	var err error
	if q.Page, err = parsePositiveParam(vals.Get("page"), "page"); err != nil {
		return q, err
	}
	if q.Limit, err = parsePositiveParam(vals.Get("limit"), "limit"); err != nil {
		return q, err
	}
	return ValidateListQuery(q)
}

// parsePositiveParam returns 0 for an absent parameter so defaults apply.
func parsePositiveParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(field, raw, "must be an integer")
	}
	if n < 1 {
		return 0, invalid(field, raw, "must be >= 1")
	}
	return n, nil
}

func parseID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, invalid("id", raw, "must be a positive integer")
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalid("body", nil, "malformed JSON: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalid("body", nil, "must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

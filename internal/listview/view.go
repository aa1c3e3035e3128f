// Package listview renders the entity list for a terminal: a state machine
// over the client session, a text renderer and an interactive loop.
package listview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/HerbHall/entitykit/internal/client"
	"github.com/HerbHall/entitykit/internal/pagination"
	"github.com/HerbHall/entitykit/pkg/models"
)

// State is the view's load state.
type State int

const (
	Loading State = iota
	Error
	Ready
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Error:
		return "error"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DeletePrompt is shown before a delete is issued.
const DeletePrompt = "Are you sure you want to delete this entity?"

// ErrCancelled is returned when the user declines a confirmation.
var ErrCancelled = errors.New("cancelled")

// Confirmer asks the user to confirm a destructive action.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// View holds the query and the last loaded page.
type View struct {
	src     client.API
	confirm Confirmer

	mu     sync.Mutex
	search string
	page   int
	limit  int
	state  State
	result *models.EntityPage
	err    error
}

// New creates a View reading from src. limit <= 0 uses the default page size.
func New(src client.API, confirm Confirmer, limit int) *View {
	key := client.ListKey{Limit: limit}.Normalize()
	return &View{
		src:     src,
		confirm: confirm,
		page:    key.Page,
		limit:   key.Limit,
		state:   Loading,
	}
}

// Snapshot is a consistent copy of the view state.
type Snapshot struct {
	State  State
	Query  client.ListKey
	Result *models.EntityPage
	Err    error
}

// Snapshot returns the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{
		State:  v.state,
		Query:  client.ListKey{Search: v.search, Page: v.page, Limit: v.limit},
		Result: v.result,
		Err:    v.err,
	}
}

// TotalPages returns the page count of the last loaded result, or 1.
func (v *View) TotalPages() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalPagesLocked()
}

func (v *View) totalPagesLocked() int {
	if v.result == nil {
		return 1
	}
	return max(1, v.result.Pagination.TotalPages)
}

// Load fetches the current query. If the page is past the end, for example
// after deleting the last row of the last page, it steps back to the last
// page and loads again.
func (v *View) Load(ctx context.Context) error {
	v.mu.Lock()
	v.state = Loading
	key := client.ListKey{Search: v.search, Page: v.page, Limit: v.limit}
	v.mu.Unlock()

	page, err := v.src.List(ctx, key)
	if err == nil && len(page.Data) == 0 && key.Page > 1 && key.Page > page.Pagination.TotalPages {
		key.Page = pagination.Clamp(key.Page, page.Pagination.TotalPages)
		page, err = v.src.List(ctx, key)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.state = Error
		v.err = err
		return err
	}
	v.page = key.Page
	v.state = Ready
	v.result = page
	v.err = nil
	return nil
}

// Search sets the term and returns to page 1.
func (v *View) Search(ctx context.Context, term string) error {
	v.mu.Lock()
	v.search = strings.TrimSpace(term)
	v.page = 1
	v.mu.Unlock()
	return v.Load(ctx)
}

// GoTo loads page n clamped to [1, totalPages].
func (v *View) GoTo(ctx context.Context, n int) error {
	v.mu.Lock()
	v.page = pagination.Clamp(n, v.totalPagesLocked())
	v.mu.Unlock()
	return v.Load(ctx)
}

// Next loads the following page, staying on the last one.
func (v *View) Next(ctx context.Context) error {
	return v.GoTo(ctx, v.Snapshot().Query.Page+1)
}

// Prev loads the preceding page, staying on the first one.
func (v *View) Prev(ctx context.Context) error {
	return v.GoTo(ctx, v.Snapshot().Query.Page-1)
}

// Delete asks for confirmation and deletes id. On failure the displayed
// page is left as it was and the error carries a message for the user.
func (v *View) Delete(ctx context.Context, id int64) error {
	if v.confirm != nil && !v.confirm.Confirm(DeletePrompt) {
		return ErrCancelled
	}
	if err := v.src.Delete(ctx, id); err != nil {
		return &DeleteError{Err: err}
	}
	return v.Load(ctx)
}

// DeleteError reports a failed delete.
type DeleteError struct {
	Err error
}

func (e *DeleteError) Error() string {
	return "Failed to delete entity: " + client.Message(e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

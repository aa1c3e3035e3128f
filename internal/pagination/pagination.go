// Package pagination computes offsets, page counts and the page window shown
// by list views. All functions are pure; callers clamp page and limit first.
package pagination

// Defaults and bounds shared by the API and the list view.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// WindowRadius is how many pages either side of the current page are
	// always shown.
	WindowRadius = 2
)

// Meta describes one page of a result set.
type Meta struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
	Offset     int
}

// Item is one entry in a page window. Gap is set when pages were skipped
// between the previous item and this one.
type Item struct {
	Page int
	Gap  bool
}

// Offset returns the number of records to skip for page.
func Offset(page, limit int) int {
	return (page - 1) * limit
}

// TotalPages returns ceil(total/limit), never less than 1.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 1
	}
	return (total + limit - 1) / limit
}

// Calculate combines Offset and TotalPages.
func Calculate(page, limit, total int) Meta {
	return Meta{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: TotalPages(total, limit),
		Offset:     Offset(page, limit),
	}
}

// Window returns the pages to render for current out of totalPages: the
// first page, the last page and every page within WindowRadius of current,
// in ascending order.
func Window(current, totalPages int) []Item {
	if totalPages < 1 {
		totalPages = 1
	}

	candidates := make([]int, 0, 2*WindowRadius+3)
	candidates = append(candidates, 1)
	for p := current - WindowRadius; p <= current+WindowRadius; p++ {
		if p > 1 && p < totalPages {
			candidates = append(candidates, p)
		}
	}
	if totalPages > 1 {
		candidates = append(candidates, totalPages)
	}

	items := make([]Item, 0, len(candidates))
	prev := 0
	for _, p := range candidates {
		if p <= prev {
			continue
		}
		items = append(items, Item{Page: p, Gap: prev != 0 && p != prev+1})
		prev = p
	}
	return items
}

// Clamp bounds page to [1, totalPages].
func Clamp(page, totalPages int) int {
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		return 1
	}
	if page > totalPages {
		return totalPages
	}
	return page
}

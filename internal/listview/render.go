package listview

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/HerbHall/entitykit/internal/client"
	"github.com/HerbHall/entitykit/internal/pagination"
	"github.com/HerbHall/entitykit/pkg/models"
)

// EmptyMessage is shown when a query matches nothing.
const EmptyMessage = "No entities found."

const (
	descriptionWidth = 40
	timeLayout       = "2006-01-02 15:04"
)

// Render writes the current state to w: a table of the page followed by the
// pagination bar.
func (v *View) Render(w io.Writer) error {
	snap := v.Snapshot()
	switch snap.State {
	case Loading:
		_, err := fmt.Fprintln(w, "Loading...")
		return err
	case Error:
		_, err := fmt.Fprintf(w, "Failed to load entities: %s\n", client.Message(snap.Err))
		return err
	}

	if snap.Query.Search != "" {
		fmt.Fprintf(w, "Search: %q\n", snap.Query.Search)
	}
	if snap.Result == nil || len(snap.Result.Data) == 0 {
		_, err := fmt.Fprintln(w, EmptyMessage)
		return err
	}

	if err := RenderTable(w, snap.Result.Data); err != nil {
		return err
	}
	p := snap.Result.Pagination
	fmt.Fprintf(w, "%d entities, page %d of %d\n", p.Total, p.Page, max(1, p.TotalPages))
	if bar := PaginationBar(p.Page, p.TotalPages); bar != "" {
		_, err := fmt.Fprintln(w, bar)
		return err
	}
	return nil
}

// RenderTable writes entities as aligned columns.
func RenderTable(w io.Writer, entities []models.Entity) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION\tCREATED")
	for _, e := range entities {
		desc := "-"
		if e.Description != nil && *e.Description != "" {
			desc = truncate(*e.Description, descriptionWidth)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.ID, e.Name, desc, e.CreatedAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}

// RenderEntity writes every field of one entity.
func RenderEntity(w io.Writer, e *models.Entity) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	desc := "-"
	if e.Description != nil {
		desc = *e.Description
	}
	updated := "-"
	if e.UpdatedAt != nil {
		updated = e.UpdatedAt.Local().Format(timeLayout)
	}
	fmt.Fprintf(tw, "ID:\t%d\n", e.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", e.Name)
	fmt.Fprintf(tw, "Description:\t%s\n", desc)
	fmt.Fprintf(tw, "Created:\t%s\n", e.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(tw, "Updated:\t%s\n", updated)
	return tw.Flush()
}

// PaginationBar formats the page controls, e.g.
// "< Prev  1 ... 3 4 [5] 6 7 ... 9  Next >". Disabled controls are shown in
// parentheses. It returns "" when there is only one page.
func PaginationBar(current, totalPages int) string {
	if totalPages <= 1 {
		return ""
	}
	current = pagination.Clamp(current, totalPages)

	var b strings.Builder
	if current > 1 {
		b.WriteString("< Prev ")
	} else {
		b.WriteString("(Prev) ")
	}
	for _, item := range pagination.Window(current, totalPages) {
		if item.Gap {
			b.WriteString(" ...")
		}
		b.WriteByte(' ')
		if item.Page == current {
			b.WriteString("[" + strconv.Itoa(item.Page) + "]")
		} else {
			b.WriteString(strconv.Itoa(item.Page))
		}
	}
	if current < totalPages {
		b.WriteString("  Next >")
	} else {
		b.WriteString("  (Next)")
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

package listview

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/HerbHall/entitykit/internal/client"
	"github.com/HerbHall/entitykit/pkg/models"
)

const helpText = `Commands:
  list | l                 show the current page, refetching after changes
  search <term>            filter by name or description (empty clears)
  page <n>                 go to page n
  next | n                 next page
  prev | p                 previous page
  show <id>                show one entity
  create                   create an entity
  edit <id>                edit an entity
  delete <id>              delete an entity
  refresh | r              reload the current page from the server
  help                     show this help
  exit | quit              leave the program`

// REPL is the interactive entity browser.
type REPL struct {
	api     client.API
	view    *View
	scanner *bufio.Scanner
	out     io.Writer

	// OnRefresh, if set, runs before "refresh" reloads the page. The
	// command-line client drops its cache here.
	OnRefresh func()
}

// NewREPL creates a REPL reading commands from in and writing to out.
func NewREPL(api client.API, in io.Reader, out io.Writer, limit int) *REPL {
	r := &REPL{
		api:     api,
		scanner: bufio.NewScanner(in),
		out:     out,
	}
	r.view = New(api, r, limit)
	return r
}

// View returns the list view driven by the REPL.
func (r *REPL) View() *View { return r.view }

// Confirm asks a yes/no question on the REPL's input. Only "y" or "yes"
// confirm.
func (r *REPL) Confirm(prompt string) bool {
	line, ok := r.prompt(prompt + " [y/N]: ")
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (r *REPL) prompt(label string) (string, bool) {
	fmt.Fprint(r.out, label)
	if !r.scanner.Scan() {
		return "", false
	}
	return r.scanner.Text(), true
}

func (r *REPL) println(a ...any) { fmt.Fprintln(r.out, a...) }

// Run loads the first page and processes commands until EOF, "exit" or
// ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	_ = r.view.Load(ctx)
	r.show()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, ok := r.prompt(r.promptLabel())
		if !ok {
			return r.scanner.Err()
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help", "h", "?":
			r.println(helpText)

		case "l", "list":
			// Served from the session cache unless it was invalidated.
			_ = r.view.Load(ctx)
			r.show()

		case "r", "refresh":
			if r.OnRefresh != nil {
				r.OnRefresh()
			}
			_ = r.view.Load(ctx)
			r.show()

		case "search", "s":
			_ = r.view.Search(ctx, strings.Join(args, " "))
			r.show()

		case "page":
			n, err := r.intArg(args, "page number")
			if err != nil {
				r.println(err)
				continue
			}
			_ = r.view.GoTo(ctx, n)
			r.show()

		case "n", "next":
			_ = r.view.Next(ctx)
			r.show()

		case "p", "prev":
			_ = r.view.Prev(ctx)
			r.show()

		case "show":
			r.showEntity(ctx, args)

		case "create", "add":
			r.create(ctx)

		case "edit":
			r.edit(ctx, args)

		case "delete", "rm":
			r.delete(ctx, args)

		case "exit", "quit", "q":
			r.println("Bye!")
			return nil

		default:
			r.println("Unknown command:", cmd)
		}
	}
}

func (r *REPL) promptLabel() string {
	snap := r.view.Snapshot()
	label := fmt.Sprintf("entities p%d/%d", snap.Query.Page, r.view.TotalPages())
	if snap.Query.Search != "" {
		label += fmt.Sprintf(" %q", snap.Query.Search)
	}
	return label + "> "
}

// show renders the view. Load errors are part of the view state, so
// callers discard them before calling show.
func (r *REPL) show() {
	if err := r.view.Render(r.out); err != nil {
		r.println("render:", err)
	}
}

func (r *REPL) intArg(args []string, what string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: expected one %s", what)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", what, args[0])
	}
	return n, nil
}

func (r *REPL) idArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New("usage: expected one entity id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id: %q", args[0])
	}
	return id, nil
}

func (r *REPL) showEntity(ctx context.Context, args []string) {
	id, err := r.idArg(args)
	if err != nil {
		r.println(err)
		return
	}
	e, err := r.api.Get(ctx, id)
	if err != nil {
		r.println(client.Message(err))
		return
	}
	_ = RenderEntity(r.out, e)
}

func (r *REPL) create(ctx context.Context) {
	name, ok := r.prompt("Name: ")
	if !ok {
		return
	}
	desc, ok := r.prompt("Description (optional): ")
	if !ok {
		return
	}

	req := client.CreateRequest{Name: strings.TrimSpace(name)}
	if d := strings.TrimSpace(desc); d != "" {
		req.Description = &d
	}
	e, err := r.api.Create(ctx, req)
	if err != nil {
		r.println("Failed to create entity:", client.Message(err))
		return
	}
	r.println(fmt.Sprintf("Created entity %d.", e.ID))
	_ = r.view.Load(ctx)
	r.show()
}

// edit prompts for each field. An empty answer keeps the current value;
// "-" clears the description.
func (r *REPL) edit(ctx context.Context, args []string) {
	id, err := r.idArg(args)
	if err != nil {
		r.println(err)
		return
	}
	cur, err := r.api.Get(ctx, id)
	if err != nil {
		r.println(client.Message(err))
		return
	}

	name, ok := r.prompt(fmt.Sprintf("Name [%s]: ", cur.Name))
	if !ok {
		return
	}
	desc, ok := r.prompt(fmt.Sprintf("Description [%s] (- to clear): ", cur.DescriptionOrEmpty()))
	if !ok {
		return
	}

	var req client.UpdateRequest
	if n := strings.TrimSpace(name); n != "" {
		req.Name = models.Some(n)
	}
	switch d := strings.TrimSpace(desc); d {
	case "":
	case "-":
		req.Description = models.Null[string]()
	default:
		req.Description = models.Some(d)
	}
	if req.Name.IsZero() && req.Description.IsZero() {
		r.println("Nothing to change.")
		return
	}

	if _, err := r.api.Update(ctx, id, req); err != nil {
		r.println("Failed to update entity:", client.Message(err))
		return
	}
	r.println(fmt.Sprintf("Updated entity %d.", id))
	_ = r.view.Load(ctx)
	r.show()
}

func (r *REPL) delete(ctx context.Context, args []string) {
	id, err := r.idArg(args)
	if err != nil {
		r.println(err)
		return
	}
	switch err := r.view.Delete(ctx, id); {
	case errors.Is(err, ErrCancelled):
		r.println("Cancelled.")
	case err != nil:
		var de *DeleteError
		if errors.As(err, &de) {
			r.println(de.Error())
			return
		}
		r.show()
	default:
		r.println(fmt.Sprintf("Deleted entity %d.", id))
		r.show()
	}
}

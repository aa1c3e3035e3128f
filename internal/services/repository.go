// Package services provides repository interfaces and their SQLite and
// PostgreSQL implementations. Repositories speak in models and sentinel
// errors; the HTTP layer never sees driver errors.
package services

import (
	"errors"
	"strings"
)

// ListOptions controls pagination for list queries.
type ListOptions struct {
	Limit  int // Max results per page (default 10, max 100).
	Offset int // Number of results to skip.
}

// Sentinel errors returned by repositories.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// normalizeListOptions applies defaults and caps to list options.
func normalizeListOptions(opts ListOptions) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

// likeEscaper escapes LIKE metacharacters so a search term matches literally.
// Queries pair it with ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern returns a LIKE pattern matching term as a substring.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(foldCase(term)) + "%"
}

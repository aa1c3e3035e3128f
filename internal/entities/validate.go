package entities

import (
	"strings"
	"unicode/utf8"

	"github.com/HerbHall/entitykit/internal/pagination"
	"github.com/HerbHall/entitykit/pkg/models"
)

// NormalizeName trims surrounding whitespace and checks the length bounds.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	if n < models.NameMinLength {
		return "", invalid("name", raw, "must not be empty")
	}
	if n > models.NameMaxLength {
		return "", invalid("name", raw, "must be at most %d characters, got %d", models.NameMaxLength, n)
	}
	return name, nil
}

// ValidateDescription checks the description length bound.
func ValidateDescription(desc string) error {
	if n := utf8.RuneCountInString(desc); n > models.DescriptionMaxLength {
		return invalid("description", desc, "must be at most %d characters, got %d", models.DescriptionMaxLength, n)
	}
	return nil
}

// ValidateListQuery rejects out-of-range paging and normalizes the search
// term. Zero page or limit means "use the default".
func ValidateListQuery(q ListQuery) (ListQuery, error) {
	if q.Page == 0 {
		q.Page = pagination.DefaultPage
	}
	if q.Limit == 0 {
		q.Limit = pagination.DefaultLimit
	}
	if q.Page < 1 {
		return q, invalid("page", q.Page, "must be >= 1")
	}
	if q.Limit < 1 || q.Limit > pagination.MaxLimit {
		return q, invalid("limit", q.Limit, "must be between 1 and %d", pagination.MaxLimit)
	}
	q.Search = strings.TrimSpace(q.Search)
	return q, nil
}

func (in CreateInput) validate() (CreateInput, error) {
	name, err := NormalizeName(in.Name)
	if err != nil {
		return in, err
	}
	in.Name = name
	if in.Description != nil {
		if err := ValidateDescription(*in.Description); err != nil {
			return in, err
		}
	}
	return in, nil
}

func (in UpdateInput) validate() (UpdateInput, error) {
	if in.Name.Set {
		if in.Name.Null {
			return in, invalid("name", nil, "must not be null")
		}
		name, err := NormalizeName(in.Name.Value)
		if err != nil {
			return in, err
		}
		in.Name.Value = name
	}
	if in.Description.Set && !in.Description.Null {
		if err := ValidateDescription(in.Description.Value); err != nil {
			return in, err
		}
	}
	return in, nil
}

// Package seed loads entity fixtures from YAML and applies them through a
// caller-supplied create function. A sample set is embedded in the binary.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/entitykit/pkg/models"
)

//go:embed sample.yaml
var sampleRawData []byte

// Entry is one entity to create.
type Entry struct {
	Name        string  `yaml:"name"`
	Description *string `yaml:"description"`
}

// Set is the top-level structure of a seed file.
type Set struct {
	Entities []Entry `yaml:"entities"`
}

var (
	sampleOnce sync.Once
	sampleSet  *Set
	sampleErr  error
)

// Sample returns a copy of the embedded sample set, parsed on first use.
func Sample() (*Set, error) {
	sampleOnce.Do(func() {
		sampleSet, sampleErr = Parse(bytes.NewReader(sampleRawData))
	})
	if sampleErr != nil {
		return nil, sampleErr
	}
	cp := &Set{Entities: make([]Entry, len(sampleSet.Entities))}
	copy(cp.Entities, sampleSet.Entities)
	return cp, nil
}

// Parse decodes and validates a seed file. Unknown keys are rejected.
func Parse(r io.Reader) (*Set, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Set
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return &Set{}, nil
		}
		return nil, fmt.Errorf("seed: parse yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field lengths and rejects names that repeat within the
// set, compared case-insensitively.
func (s *Set) Validate() error {
	seen := make(map[string]int, len(s.Entities))
	for i := range s.Entities {
		e := &s.Entities[i]
		e.Name = strings.TrimSpace(e.Name)
		n := utf8.RuneCountInString(e.Name)
		if n < models.NameMinLength || n > models.NameMaxLength {
			return fmt.Errorf("seed: entry %d: name must be %d-%d characters",
				i+1, models.NameMinLength, models.NameMaxLength)
		}
		if e.Description != nil && utf8.RuneCountInString(*e.Description) > models.DescriptionMaxLength {
			return fmt.Errorf("seed: entry %d (%s): description exceeds %d characters",
				i+1, e.Name, models.DescriptionMaxLength)
		}
		key := strings.ToLower(e.Name)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("seed: entry %d (%s) repeats entry %d", i+1, e.Name, prev)
		}
		seen[key] = i + 1
	}
	return nil
}

// CreateFunc creates one entry.
type CreateFunc func(ctx context.Context, e Entry) error

// Result counts what Apply did.
type Result struct {
	Created int
	Skipped int
}

// Apply creates every entry in order. Entries for which isDuplicate reports
// true are counted as skipped, so seeding twice is harmless. Any other error
// stops the run.
func Apply(ctx context.Context, s *Set, create CreateFunc, isDuplicate func(error) bool) (Result, error) {
	var res Result
	for _, e := range s.Entities {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := create(ctx, e)
		switch {
		case err == nil:
			res.Created++
		case isDuplicate != nil && isDuplicate(err):
			res.Skipped++
		default:
			return res, fmt.Errorf("seed %q: %w", e.Name, err)
		}
	}
	return res, nil
}

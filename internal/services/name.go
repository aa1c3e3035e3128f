package services

import "strings"

// NamePolicy decides when two entity names collide. Repositories store
// Key(name) in a UNIQUE column, so the policy is enforced by the database
// and must stay fixed for the lifetime of a deployment.
type NamePolicy int

const (
	// NameCaseInsensitive treats "Foo" and "foo" as the same name.
	NameCaseInsensitive NamePolicy = iota
	// NameCaseSensitive only rejects exact duplicates.
	NameCaseSensitive
)

// Key returns the uniqueness key for name.
func (p NamePolicy) Key(name string) string {
	if p == NameCaseSensitive {
		return name
	}
	return foldCase(name)
}

// foldCase is the single case fold behind name keys and search, so a name
// that collides with another can also be found by it.
func foldCase(s string) string { return strings.ToLower(s) }

func (p NamePolicy) String() string {
	if p == NameCaseSensitive {
		return "case-sensitive"
	}
	return "case-insensitive"
}

// NamePolicyFor maps the name_case_sensitive setting to a policy.
func NamePolicyFor(caseSensitive bool) NamePolicy {
	if caseSensitive {
		return NameCaseSensitive
	}
	return NameCaseInsensitive
}

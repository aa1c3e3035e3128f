package server

import (
	"encoding/json"
	"net/http"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound     = "https://entitykit.dev/problems/not-found"
	ProblemTypeBadRequest   = "https://entitykit.dev/problems/validation"
	ProblemTypeInternal     = "https://entitykit.dev/problems/internal-error"
	ProblemTypeUnauthorized = "https://entitykit.dev/problems/unauthorized"
	ProblemTypeForbidden    = "https://entitykit.dev/problems/forbidden"
	ProblemTypeRateLimited  = "https://entitykit.dev/problems/rate-limited"
	ProblemTypeConflict     = "https://entitykit.dev/problems/conflict"
	ProblemTypeUnavailable  = "https://entitykit.dev/problems/unavailable"
)

// ProblemContentType is the media type of problem responses.
const ProblemContentType = "application/problem+json"

// Problem represents an RFC 7807 Problem Details response.
// @Description RFC 7807 Problem Details error response.
type Problem struct {
	Type     string `json:"type" example:"https://entitykit.dev/problems/conflict"`
	Title    string `json:"title" example:"Conflict"`
	Status   int    `json:"status" example:"409"`
	Detail   string `json:"detail,omitempty" example:"an entity named \"Foo\" already exists"`
	Instance string `json:"instance,omitempty" example:"/api/v1/entities"`
	// Field names the offending input for validation problems.
	Field string `json:"field,omitempty" example:"name"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", ProblemContentType)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeStatusProblem(w http.ResponseWriter, typ string, status int, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     typ,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	writeStatusProblem(w, ProblemTypeNotFound, http.StatusNotFound, detail, instance)
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	writeStatusProblem(w, ProblemTypeBadRequest, http.StatusBadRequest, detail, instance)
}

// ValidationFailed writes a 400 problem response naming the rejected field.
func ValidationFailed(w http.ResponseWriter, field, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeBadRequest,
		Title:    http.StatusText(http.StatusBadRequest),
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: instance,
		Field:    field,
	})
}

// Conflict writes a 409 problem response.
func Conflict(w http.ResponseWriter, detail, instance string) {
	writeStatusProblem(w, ProblemTypeConflict, http.StatusConflict, detail, instance)
}

// Unauthorized writes a 401 problem response.
func Unauthorized(w http.ResponseWriter, detail, instance string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="entitykit"`)
	writeStatusProblem(w, ProblemTypeUnauthorized, http.StatusUnauthorized, detail, instance)
}

// Forbidden writes a 403 problem response.
func Forbidden(w http.ResponseWriter, detail, instance string) {
	writeStatusProblem(w, ProblemTypeForbidden, http.StatusForbidden, detail, instance)
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	writeStatusProblem(w, ProblemTypeInternal, http.StatusInternalServerError, detail, instance)
}

// RateLimited writes a 429 problem response.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	writeStatusProblem(w, ProblemTypeRateLimited, http.StatusTooManyRequests, detail, instance)
}

// Unavailable writes a 503 problem response.
func Unavailable(w http.ResponseWriter, detail, instance string) {
	writeStatusProblem(w, ProblemTypeUnavailable, http.StatusServiceUnavailable, detail, instance)
}

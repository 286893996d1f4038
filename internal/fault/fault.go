package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a validation failure so callers can branch on it.
type Code string

const (
	NotFound            Code = "not_found"
	InvalidTransition   Code = "invalid_transition"
	CapacityUnavailable Code = "capacity_unavailable"
	Expired             Code = "expired"
	AlreadyRedeemed     Code = "already_redeemed"
	Unauthorized        Code = "unauthorized"
)

// Fault is a typed validation failure returned as a value, never panicked.
// Infrastructure errors (store unreachable) stay plain errors.
type Fault struct {
	Code   Code
	Entity string
	Reason string
}

func (f *Fault) Error() string {
	if f.Reason == "" {
		return fmt.Sprintf("%s: %s", f.Entity, f.Code)
	}
	return fmt.Sprintf("%s: %s: %s", f.Entity, f.Code, f.Reason)
}

// New builds a fault for an entity with an optional human-readable reason.
func New(code Code, entity, reason string) *Fault {
	return &Fault{Code: code, Entity: entity, Reason: reason}
}

// CodeOf extracts the fault code from an error chain, or "" for plain errors.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// Is reports whether err carries the given fault code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a fault code to the status the API surfaces.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case NotFound:
		return http.StatusNotFound
	case InvalidTransition, AlreadyRedeemed, CapacityUnavailable:
		return http.StatusConflict
	case Expired:
		return http.StatusGone
	case Unauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

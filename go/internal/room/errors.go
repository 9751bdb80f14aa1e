package room

import (
	"errors"
	"net/http"

	"github.com/mcdev12/timeline/go/internal/catalog"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
	ErrRoomFull          = errors.New("room is full")
	ErrInsufficientFunds = errors.New("insufficient coins")
	ErrConflict          = errors.New("conflict")
	ErrNoOp              = errors.New("no change")
	ErrStoreUnavailable  = errors.New("room store unavailable")
	ErrCatalogEmpty      = catalog.ErrEmpty

	// ErrStale means a timeout lost the race against another turn change.
	ErrStale = errors.New("stale turn")
	// ErrVersionConflict is returned by a Store when the saved version moved underneath.
	ErrVersionConflict = errors.New("room version conflict")
)

// Code returns the client-facing code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrVersionConflict):
		return "conflict"
	case errors.Is(err, ErrNoOp):
		return "no_op"
	case errors.Is(err, ErrCatalogEmpty):
		return "catalog_empty"
	case errors.Is(err, ErrStale):
		return "stale"
	default:
		return "store_unavailable"
	}
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "room_full", "conflict", "stale":
		return http.StatusConflict
	case "invalid_state", "no_op", "insufficient_funds":
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

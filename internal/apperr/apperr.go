// Package apperr classifies domain errors for transports: a stable machine
// code plus the HTTP status it maps to.
package apperr

import (
	"context"
	"errors"
	"net/http"

	"tabla/internal/modules/assignment"
	"tabla/internal/modules/chat"
	"tabla/internal/modules/courier"
	"tabla/internal/modules/location"
	"tabla/internal/modules/order"
	"tabla/internal/realtime"
)

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, order.ErrValidation),
		errors.Is(err, chat.ErrValidation),
		errors.Is(err, location.ErrInvalidLocation):
		return "validation"

	case errors.Is(err, order.ErrInvalidTransition):
		return "invalid_transition"

	case errors.Is(err, assignment.ErrPersonUnavailable):
		return "person_unavailable"

	case errors.Is(err, courier.ErrToggleBlocked):
		return "toggle_blocked"

	case errors.Is(err, order.ErrConflict),
		errors.Is(err, courier.ErrExists):
		return "conflict"

	case errors.Is(err, order.ErrNotAssignee):
		return "not_assignee"

	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, courier.ErrNotFound),
		errors.Is(err, chat.ErrNotFound):
		return "not_found"

	case errors.Is(err, location.ErrNoLocation):
		return "no_location"

	case errors.Is(err, order.ErrBadRequest),
		errors.Is(err, courier.ErrBadRequest):
		return "bad_request"

	case errors.Is(err, realtime.ErrTransport):
		return "transport"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case "validation":
		return http.StatusUnprocessableEntity
	case "invalid_transition", "person_unavailable", "toggle_blocked", "conflict":
		return http.StatusConflict
	case "not_assignee":
		return http.StatusForbidden
	case "not_found", "no_location":
		return http.StatusNotFound
	case "bad_request", "canceled":
		return http.StatusBadRequest
	case "transport":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message is safe to show to an end user: business refusals keep their
// actionable text, anything unexpected is reduced to a generic line.
func Message(err error) string {
	if Kind(err) == "internal" {
		return "internal error"
	}
	return err.Error()
}

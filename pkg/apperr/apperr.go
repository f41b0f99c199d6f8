// Package apperr defines the business-rule failure taxonomy shared by the
// stage engine and its HTTP handlers. Every mutating operation returns one
// of these tagged errors instead of leaking a raw storage error; handlers
// translate the kind to an HTTP status.
package apperr

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Kind tags the class of failure.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindPrecondition Kind = "PRECONDITION"
	KindNotFound     Kind = "NOT_FOUND"
	KindPermission   Kind = "PERMISSION"
	KindConflict     Kind = "CONFLICT" // concurrent-update version mismatch
	KindInternal     Kind = "INTERNAL"
)

// Error is a tagged failure with a stable, human-readable reason.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func Validation(msg string) *Error   { return &Error{Kind: KindValidation, Message: msg} }
func Precondition(msg string) *Error { return &Error{Kind: KindPrecondition, Message: msg} }
func NotFound(msg string) *Error     { return &Error{Kind: KindNotFound, Message: msg} }
func Permission(msg string) *Error   { return &Error{Kind: KindPermission, Message: msg} }
func Conflict(msg string) *Error     { return &Error{Kind: KindConflict, Message: msg} }
func Internal(msg string) *Error     { return &Error{Kind: KindInternal, Message: msg} }

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}

// ToFiber maps a tagged error to the fiber error the global handler renders.
// Unknown errors become 500s without exposing their text.
func ToFiber(err error) error {
	var ae *Error
	if !errors.As(err, &ae) {
		return fiber.ErrInternalServerError
	}
	switch ae.Kind {
	case KindValidation:
		return fiber.NewError(fiber.StatusBadRequest, ae.Message)
	case KindPrecondition:
		return fiber.NewError(fiber.StatusUnprocessableEntity, ae.Message)
	case KindNotFound:
		return fiber.NewError(fiber.StatusNotFound, ae.Message)
	case KindPermission:
		return fiber.NewError(fiber.StatusForbidden, ae.Message)
	case KindConflict:
		return fiber.NewError(fiber.StatusConflict, ae.Message)
	default:
		return fiber.ErrInternalServerError
	}
}

package chat

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine wraps exactly one of them.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrPersistence     = errors.New("persistence failure")
	ErrUnauthenticated = errors.New("authentication failed")
)

var (
	ErrRoomIDRequired      = fmt.Errorf("%w: room ID is required", ErrValidation)
	ErrMessageIDRequired   = fmt.Errorf("%w: message ID is required", ErrValidation)
	ErrRecipientRequired   = fmt.Errorf("%w: recipient ID required for private messages", ErrValidation)
	ErrEmptyContent        = fmt.Errorf("%w: message content cannot be empty", ErrValidation)
	ErrEmptyEmoji          = fmt.Errorf("%w: emoji is required for reaction", ErrValidation)
	ErrRoomNameRequired    = fmt.Errorf("%w: room name is required", ErrValidation)
	ErrRoomNotFound        = fmt.Errorf("room %w", ErrNotFound)
	ErrMessageNotFound     = fmt.Errorf("message %w", ErrNotFound)
	ErrUserNotFound        = fmt.Errorf("user %w", ErrNotFound)
	ErrRecipientNotFound   = fmt.Errorf("recipient %w", ErrNotFound)
	ErrNotMember           = fmt.Errorf("%w: you are not a member of this room", ErrForbidden)
	ErrNotParticipant      = fmt.Errorf("%w: you are not part of this conversation", ErrForbidden)
	ErrNotAuthor           = fmt.Errorf("%w: you can only delete your own messages", ErrForbidden)
	ErrRoomNameTaken       = fmt.Errorf("%w: room name already exists", ErrConflict)
	ErrGlobalRoomExists    = fmt.Errorf("%w: global room already exists", ErrConflict)
	ErrMissingToken        = fmt.Errorf("%w: no token provided", ErrUnauthenticated)
	ErrInvalidToken        = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrInvalidTokenSubject = fmt.Errorf("%w: token carries no user id", ErrUnauthenticated)
)

// IsDomainError reports whether err is one of the client-facing kinds, as
// opposed to an internal failure whose detail must not leave the process.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnauthenticated)
}

package errors

import (
	stderrors "errors"
	"fmt"
)

// Session failures surfaced to the alert channel.
var (
	ErrAuth        = fmt.Errorf("cannot resolve participant identity")
	ErrNotFound    = fmt.Errorf("not found")
	ErrFetch       = fmt.Errorf("fetch failed")
	ErrConnection  = fmt.Errorf("connection failed")
	ErrSendFailure = fmt.Errorf("message could not be sent")
	ErrSendTimeout = fmt.Errorf("message was not confirmed in time")
)

// Local rejections, nothing is emitted when one of those is returned.
var (
	ErrNotConnected   = fmt.Errorf("not connected")
	ErrEmptyContent   = fmt.Errorf("message content is empty")
	ErrContentTooLong = fmt.Errorf("message content is too long")
	ErrNoActiveRoom   = fmt.Errorf("no active room")
	ErrUnknownMessage = fmt.Errorf("unknown message")
	ErrNotRetryable   = fmt.Errorf("only failed messages can be retried")
	ErrSessionClosed  = fmt.Errorf("session closed")
	ErrWorkerPanic    = fmt.Errorf("worker panic")
)

// Relay server side.
var (
	ErrUserAlreadyExists = fmt.Errorf("user already exists")
	ErrRoomNotFound      = fmt.Errorf("room not found")
	ErrInvalidToken      = fmt.Errorf("invalid token")
	ErrInvalidPassword   = fmt.Errorf("password must mix upper and lower case letters, digits and symbols")
	ErrBadCredentials    = fmt.Errorf("invalid username or password")
	ErrNotMember         = fmt.Errorf("not a member of this room")
)

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

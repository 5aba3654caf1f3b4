// Package apperr holds the error taxonomy shared by the realtime core and its transports.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindTransient      Kind = "transient_persistence"
	KindInternal       Kind = "internal"
)

// Error is a classified failure. Sentinels are compared by identity with errors.Is.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrUnauthenticated       = newErr(KindAuthentication, "unauthenticated", "authentication required")
	ErrDuplicateConnection   = newErr(KindConflict, "duplicate_connection", "connection already registered")
	ErrConnectionNotFound    = newErr(KindNotFound, "connection_not_found", "connection not registered")
	ErrSessionClosed         = newErr(KindConflict, "session_closed", "connection is closing")
	ErrRoomNotFound          = newErr(KindNotFound, "room_not_found", "room not found")
	ErrMessageNotFound       = newErr(KindNotFound, "message_not_found", "message not found")
	ErrDocumentNotFound      = newErr(KindNotFound, "document_not_found", "document not found")
	ErrNotAMember            = newErr(KindAuthorization, "not_a_member", "not a member of this room")
	ErrNotInRoom             = newErr(KindAuthorization, "not_in_room", "not currently in this room")
	ErrAccessDenied          = newErr(KindAuthorization, "access_denied", "no access to this document")
	ErrNotJoined             = newErr(KindAuthorization, "not_joined", "not collaborating on this document")
	ErrDocumentSessionClosed = newErr(KindConflict, "document_session_closed", "document already left on this connection")
	ErrVersionExists         = newErr(KindConflict, "version_exists", "version snapshot already exists")
	ErrRateLimited           = newErr(KindValidation, "rate_limited", "rate limit exceeded")
	ErrServiceOnly           = newErr(KindAuthorization, "service_only", "requires a service credential")
)

// Validation reports a malformed inbound payload.
func Validation(format string, args ...any) *Error {
	return newErr(KindValidation, "invalid_payload", fmt.Sprintf(format, args...))
}

// Transient wraps a failed durable write or read.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Code: "persistence_failed", Msg: op + " failed", Err: err}
}

// Persistence passes classified storage errors (not found, not a member)
// through unchanged and wraps everything else as transient.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Transient(op, err)
}

// KindOf classifies err; unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine readable code for err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// PublicMessage is the text safe to send back to a client. Internal causes stay in logs.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

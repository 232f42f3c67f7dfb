package service

import "errors"

var (
	// ErrValidation covers empty or over-length content. Surfaced as a
	// per-message error; never closes a connection.
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied covers edits by non-senders, deletes by
	// non-sender non-admins, muted senders and admin-only moderation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrThreadLocked is returned for sends into a locked thread.
	ErrThreadLocked = errors.New("thread is locked")

	// ErrDeleted is returned for edits of a soft-deleted message.
	ErrDeleted = errors.New("message is deleted")
)

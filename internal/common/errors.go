// Package common defines shared sentinel errors used across the medtrack
// core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Local-recoverable errors.
	ErrNotFound         = errors.New("not found")
	ErrRelatedNotSynced = errors.New("related record not synced yet")

	// Remote collaborator errors.
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrValidationRejected = errors.New("validation rejected")

	// Storage medium errors. No local durability is possible when this
	// fires, so it is surfaced immediately rather than retried.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Sync flow control.
	ErrSyncSkipped = errors.New("sync skipped")

	// Session lifecycle: the refresh path failed and credentials must be
	// re-entered.
	ErrSessionExpired = errors.New("session expired")
)

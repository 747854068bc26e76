package models

import "errors"

// Application-level errors. Adapters wrap their own failures with these so
// handlers can map them to status codes with errors.Is.
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateID      = errors.New("trade id already exists for user")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrExternalFetch    = errors.New("external fetch failed")
	ErrConfiguration    = errors.New("invalid or missing configuration")
	ErrTransactionBuild = errors.New("failed to build transaction")
	ErrProviderDisabled = errors.New("no AI provider configured")
)

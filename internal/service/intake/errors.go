package intake

import "errors"

var (
	ErrSourceNotConfigured = errors.New("spreadsheet source is not configured")
	ErrRequestNotFound     = errors.New("purchase request not found")
)

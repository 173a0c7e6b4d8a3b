package approval

import "errors"

var (
	ErrRequestNotFound         = errors.New("purchase request not found")
	ErrRequestAlreadyProcessed = errors.New("purchase request already processed")
	ErrTokenCollision          = errors.New("ticket token collision")
)

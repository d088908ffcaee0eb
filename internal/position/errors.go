package position

import "errors"

// Structural errors returned to callers of the mutating operations. The
// engine never retries on its own; the caller decides.
var (
	ErrManagerInactive     = errors.New("position manager is not active")
	ErrMaxPositionsReached = errors.New("maximum open positions reached")
	ErrPositionNotFound    = errors.New("position not found")
	ErrInvalidTickData     = errors.New("invalid tick data")
	ErrInvalidDecision     = errors.New("invalid trade decision")
)

package types

import "errors"

// Error taxonomy for the rebalancing engine. Venue failures are per-asset and
// recoverable; the rest are fatal for the calling operation.
var (
	ErrPositionNotFound      = errors.New("position not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrVenueDepositFailed    = errors.New("venue deposit failed")
	ErrVenueWithdrawFailed   = errors.New("venue withdraw failed")
	ErrInvalidTickRange      = errors.New("invalid tick range")
	ErrInvalidReservePercent = errors.New("invalid reserve percent")
	ErrInvalidAmount         = errors.New("invalid amount")
)

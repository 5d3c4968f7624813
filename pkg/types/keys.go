package types

import "time"

const (
	// ModuleName is the codespace of every error raised by the rental core.
	ModuleName = "renft"

	// SentinelPaymentToken is the reserved payment token id that never resolves.
	SentinelPaymentToken uint8 = 0

	// FeeDenominator is the basis-point denominator used by the fee policy.
	FeeDenominator = 10_000

	Day = 24 * time.Hour

	// MaxRentDuration is the largest duration a uint8 field can carry.
	MaxRentDuration = 255
)

package types

import (
	"cosmossdk.io/errors"
)

// NOTE: code 1 is left unused, cosmos reserves it for internal errors.

var (
	ErrInvalidInput           = errors.Register(ModuleName, 2, "invalid input")
	ErrNotAuthorized          = errors.Register(ModuleName, 3, "not authorized")
	ErrInvalidState           = errors.Register(ModuleName, 4, "invalid lending state")
	ErrUnresolvedPaymentToken = errors.Register(ModuleName, 5, "unresolved payment token")
	ErrInsufficientFunds      = errors.Register(ModuleName, 6, "insufficient funds or allowance")
	ErrDurationExceeded       = errors.Register(ModuleName, 7, "rent duration exceeds max rent duration")
	ErrNotYetDue              = errors.Register(ModuleName, 8, "rental is not yet due")
	ErrReentrantCall          = errors.Register(ModuleName, 9, "reentrant call")
	ErrNotFound               = errors.Register(ModuleName, 10, "not found")
)

// Code returns the registered code of err within this module's codespace,
// or 0 when err does not originate from it.
func Code(err error) uint32 {
	if err == nil {
		return 0
	}
	codespace, code, _ := errors.ABCIInfo(err, false)
	if codespace != ModuleName {
		return 0
	}
	return code
}

// services/errors.go
package services

import (
	"errors"
	"fmt"
)

// Error categories. Every error the engine returns for a rejected call wraps
// exactly one of these, so the HTTP layer can map it without string matching.
var (
	ErrValidation = errors.New("validation failed")
	ErrState      = errors.New("operation not allowed")
	ErrTimeout    = errors.New("too early")
)

var (
	ErrBadCommitment      = fmt.Errorf("%w: commitment must be 32 bytes", ErrValidation)
	ErrBadSecret          = fmt.Errorf("%w: secret must be 16 bytes", ErrValidation)
	ErrStakeTooLow        = fmt.Errorf("%w: deposit below minimum stake", ErrValidation)
	ErrStakeTooHigh       = fmt.Errorf("%w: deposit above maximum stake", ErrValidation)
	ErrInsufficientStake  = fmt.Errorf("%w: deposit does not cover the stake", ErrValidation)
	ErrSelfJoin           = fmt.Errorf("%w: creator cannot join own game", ErrValidation)
	ErrMissingCaller      = fmt.Errorf("%w: caller identity missing", ErrValidation)
	ErrGameNotFound       = fmt.Errorf("%w: game not found", ErrState)
	ErrWrongState         = fmt.Errorf("%w: game is not in the required state", ErrState)
	ErrNotPlayer          = fmt.Errorf("%w: caller is not the expected player", ErrState)
	ErrNotPrivileged      = fmt.Errorf("%w: caller is not privileged", ErrState)
	ErrRevealWindowActive = fmt.Errorf("%w: reveal window has not elapsed", ErrTimeout)
)

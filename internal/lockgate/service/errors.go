package service

import (
	"errors"
	"fmt"
)

var (
	ErrPolicyDenied  = errors.New("policy denied")
	ErrBusy          = errors.New("lock busy")
	ErrStoreWrite    = errors.New("store write failed")
	ErrStoreRead     = errors.New("store read failed")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrInvalidToken  = errors.New("invalid token")
	ErrUnknownLocker = errors.New("unknown locker")
	ErrClosed        = errors.New("lock machine closed")

	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidMethod  = errors.New("unsupported unlock method")
)

var (
	// ErrResetWrite is a failed idle-command write.  The lock is Locked in
	// memory but the store may still say "1".
	ErrResetWrite = fmt.Errorf("%w: reset command", ErrStoreWrite)

	// ErrDiverged is reported when the store holds an open command that no
	// cycle on this machine accounts for.
	ErrDiverged = errors.New("command diverged from lock state")
)

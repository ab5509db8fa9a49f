package booking

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserInactive     = errors.New("user is not active")
	ErrAlreadyBooked    = errors.New("already booked")
	ErrNotBooked        = errors.New("device is not booked")
	ErrNotOwner         = errors.New("device is booked by another user")
	ErrSelfTransfer     = errors.New("device is already yours")
	ErrTransferNotFound = errors.New("transfer request not found")
)

// LimitError: у пользователя уже Max забронированных устройств.
type LimitError struct {
	Max int
	// Other: лимит чужой (новый владелец при передаче).
	Other bool
}

func (e *LimitError) Error() string {
	if e.Other {
		return fmt.Sprintf("new owner already holds %d devices", e.Max)
	}
	return fmt.Sprintf("booking limit of %d devices reached", e.Max)
}

// ErrLimit: для errors.Is.
var ErrLimit = errors.New("booking limit reached")

func (e *LimitError) Is(target error) bool { return target == ErrLimit }

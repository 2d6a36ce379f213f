package ledger

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound            = errors.New("user not found")
	ErrUnknownReferrer     = errors.New("referrer not found")
	ErrSelfReferral        = errors.New("self referral rejected")
	ErrAlreadyLinked       = errors.New("user already has a referrer")
	ErrCycle               = errors.New("referral cycle rejected")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnauthorized        = errors.New("administrator capability required")
	ErrInsufficientFunds   = errors.New("balance would go below zero")
	ErrStorage             = errors.New("storage failure")
	ErrDeliveryUnavailable = errors.New("delivery capability unavailable")
)

// StorageError wraps a backend failure. It matches ErrStorage with errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError. Nil stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorage reports whether err is a transient storage failure.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

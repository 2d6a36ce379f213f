// Package ledger holds the user and transaction records of the referral
// program and the storage contract every backend implements.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a participant of the referral program.
type User struct {
	ID          int64
	DisplayName string
	Balance     int64
	ReferrerID  *int64
	Tier        int
	CreatedAt   time.Time
}

// HasReferrer reports whether the user was already linked to a referrer.
func (u User) HasReferrer() bool {
	return u.ReferrerID != nil
}

// Transaction is an immutable ledger entry. Balance always equals the sum of
// the amounts of all transactions targeting the user.
type Transaction struct {
	ID           uuid.UUID
	TargetUserID int64
	Amount       int64
	Reason       string
	BalanceAfter int64
	CreatedAt    time.Time
}

// SetReferrerResult is the outcome of Tx.SetReferrerOnce.
type SetReferrerResult int

const (
	ReferrerSet SetReferrerResult = iota
	ReferrerAlreadySet
	ReferrerUserNotFound
)

func (r SetReferrerResult) String() string {
	switch r {
	case ReferrerSet:
		return "set"
	case ReferrerAlreadySet:
		return "already_set"
	case ReferrerUserNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Reader is the read side shared by Store and Tx.
type Reader interface {
	// GetUser returns ErrNotFound when the user does not exist.
	GetUser(ctx context.Context, id int64) (*User, error)
	// CountReferralsOf counts users whose referrer is id. Only committed links
	// are counted, plus links written earlier in the same Tx.
	CountReferralsOf(ctx context.Context, id int64) (int, error)
}

// Tx is the view handed to Store.Update. All writes become visible together
// when the update function returns nil and are discarded otherwise.
type Tx interface {
	Reader

	// ReferrerChain returns the referrer ids above id, nearest first, stopping
	// after limit entries.
	ReferrerChain(ctx context.Context, id int64, limit int) ([]int64, error)
	SetReferrerOnce(ctx context.Context, id, referrerID int64) (SetReferrerResult, error)
	// AppendTransaction applies tx.Amount to the target balance and records tx.
	// It is the only way a balance changes.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	AdjustBalance(ctx context.Context, id, delta int64, reason string) (int64, error)
	SetTier(ctx context.Context, id int64, tier int) error
	// SumTransactions sums the amounts targeting id, including entries
	// appended earlier in the same Tx.
	SumTransactions(ctx context.Context, id int64) (int64, error)
}

// Store is durable keyed storage for users and the append-only transaction log.
type Store interface {
	Reader

	CreateUserIfAbsent(ctx context.Context, id int64, displayName string) (*User, error)
	ReferralsOf(ctx context.Context, id int64) ([]User, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
	TransactionsOf(ctx context.Context, id int64) ([]Transaction, error)
	SumTransactions(ctx context.Context, id int64) (int64, error)

	// Update runs fn atomically with the given users locked in ascending id
	// order. Users missing from storage are simply not locked.
	Update(ctx context.Context, ids []int64, fn func(tx Tx) error) error

	AdjustBalance(ctx context.Context, id, delta int64, reason string) (int64, error)
	SetReferrerOnce(ctx context.Context, id, referrerID int64) (SetReferrerResult, error)
}

// AdjustBalance is the single-user Update most callers need.
func AdjustBalance(ctx context.Context, s Store, id, delta int64, reason string) (int64, error) {
	var balance int64
	err := s.Update(ctx, []int64{id}, func(tx Tx) error {
		var err error
		balance, err = tx.AdjustBalance(ctx, id, delta, reason)
		return err
	})
	return balance, err
}

// SetReferrerOnce locks both users and records the link if none exists yet.
func SetReferrerOnce(ctx context.Context, s Store, id, referrerID int64) (SetReferrerResult, error) {
	result := ReferrerUserNotFound
	err := s.Update(ctx, []int64{id, referrerID}, func(tx Tx) error {
		var err error
		result, err = tx.SetReferrerOnce(ctx, id, referrerID)
		return err
	})
	return result, err
}

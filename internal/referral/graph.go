// Package referral maintains the referrer -> referrals forest on top of the
// ledger store.
package referral

import (
	"context"
	"slices"

	"github.com/pkg/errors"

	"referral-bot/internal/ledger"
)

// LinkResult is the outcome of linking a user to a referrer.
type LinkResult int

const (
	Linked LinkResult = iota
	RejectedSelfReference
	RejectedAlreadyLinked
	RejectedUnknownReferrer
	RejectedCycle
)

// maxChainDepth bounds the ancestor walk of the cycle check.
const maxChainDepth = 1 << 16

func (r LinkResult) String() string {
	switch r {
	case Linked:
		return "linked"
	case RejectedSelfReference:
		return "rejected_self_reference"
	case RejectedAlreadyLinked:
		return "rejected_already_linked"
	case RejectedUnknownReferrer:
		return "rejected_unknown_referrer"
	case RejectedCycle:
		return "rejected_cycle"
	default:
		return "unknown"
	}
}

// Err maps a rejection to its ledger error. Linked maps to nil.
func (r LinkResult) Err() error {
	switch r {
	case Linked:
		return nil
	case RejectedSelfReference:
		return ledger.ErrSelfReferral
	case RejectedAlreadyLinked:
		return ledger.ErrAlreadyLinked
	case RejectedUnknownReferrer:
		return ledger.ErrUnknownReferrer
	case RejectedCycle:
		return ledger.ErrCycle
	default:
		return errors.Errorf("unknown link result %d", int(r))
	}
}

// Link records referrerID as the referrer of userID inside tx. Both users
// must be locked by tx. Rejections leave tx untouched; the first link wins.
func Link(ctx context.Context, tx ledger.Tx, userID, referrerID int64) (LinkResult, error) {
	if userID == referrerID {
		return RejectedSelfReference, nil
	}

	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return RejectedUnknownReferrer, errors.Wrapf(err, "get user %d", userID)
	}
	if user.HasReferrer() {
		return RejectedAlreadyLinked, nil
	}

	if _, err := tx.GetUser(ctx, referrerID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return RejectedUnknownReferrer, nil
		}
		return RejectedUnknownReferrer, errors.Wrapf(err, "get referrer %d", referrerID)
	}

	chain, err := tx.ReferrerChain(ctx, referrerID, maxChainDepth)
	if err != nil {
		return RejectedCycle, errors.Wrapf(err, "referrer chain of %d", referrerID)
	}
	if slices.Contains(chain, userID) {
		return RejectedCycle, nil
	}

	res, err := tx.SetReferrerOnce(ctx, userID, referrerID)
	if err != nil {
		return RejectedAlreadyLinked, errors.Wrapf(err, "set referrer of %d", userID)
	}

	switch res {
	case ledger.ReferrerSet:
		return Linked, nil
	case ledger.ReferrerAlreadySet:
		return RejectedAlreadyLinked, nil
	default:
		return RejectedUnknownReferrer, nil
	}
}

// Graph answers referral questions against committed state.
type Graph struct {
	store ledger.Store
}

func NewGraph(store ledger.Store) *Graph {
	return &Graph{store: store}
}

// Link runs Link as its own atomic unit.
func (g *Graph) Link(ctx context.Context, userID, referrerID int64) (LinkResult, error) {
	result := RejectedUnknownReferrer
	err := g.store.Update(ctx, []int64{userID, referrerID}, func(tx ledger.Tx) error {
		var err error
		result, err = Link(ctx, tx, userID, referrerID)
		return err
	})
	return result, err
}

func (g *Graph) CountReferralsOf(ctx context.Context, referrerID int64) (int, error) {
	return g.store.CountReferralsOf(ctx, referrerID)
}

func (g *Graph) ReferralsOf(ctx context.Context, referrerID int64) ([]ledger.User, error) {
	return g.store.ReferralsOf(ctx, referrerID)
}

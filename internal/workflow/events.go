package workflow

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"referral-bot/internal/ledger"
	"referral-bot/internal/tier"
)

// EventKind is the closed set of inbound events.
type EventKind int

const (
	EventStart EventKind = iota + 1
	EventQueryBalance
	EventQueryReferrals
	EventQueryLink
	EventQueryTier
	EventAdminCredit
	EventAdminDebit
	EventAdminBroadcast
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventQueryBalance:
		return "query_balance"
	case EventQueryReferrals:
		return "query_referrals"
	case EventQueryLink:
		return "query_link"
	case EventQueryTier:
		return "query_tier"
	case EventAdminCredit:
		return "admin_credit"
	case EventAdminDebit:
		return "admin_debit"
	case EventAdminBroadcast:
		return "admin_broadcast"
	default:
		return "unknown"
	}
}

// Admin reports whether the event needs the administrator capability.
func (k EventKind) Admin() bool {
	return k == EventAdminCredit || k == EventAdminDebit || k == EventAdminBroadcast
}

// Event is one inbound request from the transport. IsAdmin is resolved by
// the transport and trusted as is.
type Event struct {
	Kind         EventKind
	UserID       int64
	DisplayName  string
	ReferralArg  string
	AdminPayload string
	IsAdmin      bool
}

// Rejection is a recoverable outcome reported back to the user.
type Rejection int

const (
	RejectionNone Rejection = iota
	RejectionNotFound
	RejectionSelfReferral
	RejectionAlreadyLinked
	RejectionUnknownReferrer
	RejectionCycle
	RejectionInvalidArgument
	RejectionUnauthorized
	RejectionInsufficientFunds
)

func (r Rejection) String() string {
	switch r {
	case RejectionNone:
		return "none"
	case RejectionNotFound:
		return "not_found"
	case RejectionSelfReferral:
		return "self_referral"
	case RejectionAlreadyLinked:
		return "already_linked"
	case RejectionUnknownReferrer:
		return "unknown_referrer"
	case RejectionCycle:
		return "cycle"
	case RejectionInvalidArgument:
		return "invalid_argument"
	case RejectionUnauthorized:
		return "unauthorized"
	case RejectionInsufficientFunds:
		return "insufficient_funds"
	default:
		return "unknown"
	}
}

// rejectionFor maps ledger errors to rejections. ok is false for errors that
// must propagate, storage failures included.
func rejectionFor(err error) (Rejection, bool) {
	switch {
	case err == nil:
		return RejectionNone, true
	case ledger.IsStorage(err):
		return RejectionNone, false
	case errors.Is(err, ledger.ErrNotFound):
		return RejectionNotFound, true
	case errors.Is(err, ledger.ErrSelfReferral):
		return RejectionSelfReferral, true
	case errors.Is(err, ledger.ErrAlreadyLinked):
		return RejectionAlreadyLinked, true
	case errors.Is(err, ledger.ErrUnknownReferrer):
		return RejectionUnknownReferrer, true
	case errors.Is(err, ledger.ErrCycle):
		return RejectionCycle, true
	case errors.Is(err, ledger.ErrInvalidArgument):
		return RejectionInvalidArgument, true
	case errors.Is(err, ledger.ErrUnauthorized):
		return RejectionUnauthorized, true
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return RejectionInsufficientFunds, true
	default:
		return RejectionNone, false
	}
}

// Result is what the transport renders. Only the fields matching Kind are set.
type Result struct {
	Kind      EventKind
	User      ledger.User
	IsAdmin   bool
	Rejection Rejection

	Registration *Registration
	Referrals    []ledger.User
	Tier         *TierInfo
	Adjustment   *Adjustment
	Broadcast    *Tally
}

// Rejected reports whether the event ended in a rejection.
func (r Result) Rejected() bool {
	return r.Rejection != RejectionNone
}

// Registration describes the side effects of a Start event.
type Registration struct {
	Linked          bool
	ReferrerID      int64
	Bonus           int64
	ReferrerBalance int64
	ReferrerTier    int
	TierChanged     bool
}

type TierInfo struct {
	Level         tier.Level
	ReferralCount int
	Next          *tier.Level
}

type Adjustment struct {
	TargetID      int64
	Amount        int64
	Balance       int64
	TransactionID uuid.UUID
}

// Tally counts broadcast deliveries.
type Tally struct {
	Sent      int
	Failed    int
	FailedIDs []int64
}

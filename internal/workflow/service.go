// Package workflow turns inbound events into ledger and referral graph
// operations and returns structured results for the transport to render.
package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"referral-bot/internal/ledger"
	"referral-bot/internal/referral"
	"referral-bot/internal/tier"
)

const (
	ReasonAdminCredit = "administrative adjustment"
	ReasonAdminDebit  = "administrative debit"

	defaultRetryAttempts        = 3
	defaultBroadcastConcurrency = 4
)

// Deliverer sends one message to one user.
type Deliverer interface {
	Deliver(ctx context.Context, userID int64, text string) error
}

// Options are the policy knobs of the workflow.
type Options struct {
	// AllowNegativeBalance lets admin debits take a balance below zero.
	AllowNegativeBalance bool
	RetryAttempts        int
	BroadcastConcurrency int
	// BroadcastRate is deliveries per second; zero or less means unlimited.
	BroadcastRate float64
}

type Service struct {
	store ledger.Store
	graph *referral.Graph
	tiers *tier.Table
	opts  Options
	log   *slog.Logger

	deliveryMu sync.RWMutex
	delivery   Deliverer
}

func NewService(store ledger.Store, tiers *tier.Table, opts Options, logger *slog.Logger) *Service {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.BroadcastConcurrency < 1 {
		opts.BroadcastConcurrency = defaultBroadcastConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store: store,
		graph: referral.NewGraph(store),
		tiers: tiers,
		opts:  opts,
		log:   logger.With("component", "workflow"),
	}
}

// SetDeliverer installs the broadcast delivery capability. The transport is
// built after the service, so it is injected late.
func (s *Service) SetDeliverer(d Deliverer) {
	s.deliveryMu.Lock()
	s.delivery = d
	s.deliveryMu.Unlock()
}

func (s *Service) deliverer() Deliverer {
	s.deliveryMu.RLock()
	defer s.deliveryMu.RUnlock()
	return s.delivery
}

func (s *Service) broadcastLimit() rate.Limit {
	if s.opts.BroadcastRate <= 0 {
		return rate.Inf
	}
	return rate.Limit(s.opts.BroadcastRate)
}

// Handle dispatches an event. Recoverable failures come back as a Result
// with Rejection set; the error is reserved for storage failures and a
// missing delivery capability.
func (s *Service) Handle(ctx context.Context, ev Event) (Result, error) {
	if ev.Kind.Admin() && !ev.IsAdmin {
		s.log.Warn("admin event from non-admin", "user_id", ev.UserID, "event", ev.Kind.String())
		return Result{Kind: ev.Kind, Rejection: RejectionUnauthorized}, nil
	}

	switch ev.Kind {
	case EventStart:
		return s.Register(ctx, ev)
	case EventQueryBalance:
		return s.QueryBalance(ctx, ev)
	case EventQueryReferrals:
		return s.QueryReferrals(ctx, ev)
	case EventQueryLink:
		return s.QueryLink(ctx, ev)
	case EventQueryTier:
		return s.QueryTier(ctx, ev)
	case EventAdminCredit:
		return s.AdminAdjust(ctx, ev, 1)
	case EventAdminDebit:
		return s.AdminAdjust(ctx, ev, -1)
	case EventAdminBroadcast:
		return s.Broadcast(ctx, ev)
	default:
		return Result{Kind: ev.Kind}, errors.Errorf("unknown event kind %d", int(ev.Kind))
	}
}

// ensureUser creates the user on first contact.
func (s *Service) ensureUser(ctx context.Context, ev Event) (*ledger.User, error) {
	u, err := ledger.Retry(ctx, s.opts.RetryAttempts, func() (*ledger.User, error) {
		return s.store.CreateUserIfAbsent(ctx, ev.UserID, ev.DisplayName)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "ensure user %d", ev.UserID)
	}
	return u, nil
}

func (s *Service) QueryBalance(ctx context.Context, ev Event) (Result, error) {
	u, err := s.ensureUser(ctx, ev)
	if err != nil {
		return Result{Kind: ev.Kind}, err
	}
	return Result{Kind: ev.Kind, User: *u, IsAdmin: ev.IsAdmin}, nil
}

// QueryLink returns the user; the transport builds the link from the id.
func (s *Service) QueryLink(ctx context.Context, ev Event) (Result, error) {
	return s.QueryBalance(ctx, ev)
}

func (s *Service) QueryReferrals(ctx context.Context, ev Event) (Result, error) {
	u, err := s.ensureUser(ctx, ev)
	if err != nil {
		return Result{Kind: ev.Kind}, err
	}

	refs, err := ledger.Retry(ctx, s.opts.RetryAttempts, func() ([]ledger.User, error) {
		return s.graph.ReferralsOf(ctx, u.ID)
	})
	if err != nil {
		return Result{Kind: ev.Kind}, errors.Wrapf(err, "referrals of %d", u.ID)
	}

	return Result{Kind: ev.Kind, User: *u, IsAdmin: ev.IsAdmin, Referrals: refs}, nil
}

func (s *Service) QueryTier(ctx context.Context, ev Event) (Result, error) {
	u, err := s.ensureUser(ctx, ev)
	if err != nil {
		return Result{Kind: ev.Kind}, err
	}

	count, err := ledger.Retry(ctx, s.opts.RetryAttempts, func() (int, error) {
		return s.graph.CountReferralsOf(ctx, u.ID)
	})
	if err != nil {
		return Result{Kind: ev.Kind}, errors.Wrapf(err, "count referrals of %d", u.ID)
	}

	level, ok := s.tiers.Level(u.Tier)
	if !ok {
		level = s.tiers.For(count)
	}
	info := &TierInfo{Level: level, ReferralCount: count}
	if next, ok := s.tiers.Next(level.Number); ok {
		info.Next = &next
	}

	return Result{Kind: ev.Kind, User: *u, IsAdmin: ev.IsAdmin, Tier: info}, nil
}

package workflow

import (
	"context"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"referral-bot/internal/ledger"
	"referral-bot/internal/metrics"
)

// AdminAdjust credits (sign > 0) or debits (sign < 0) the user named in the
// "<user_id> <amount>" payload. It is not retried: a write that may have
// landed is reported instead of repeated.
func (s *Service) AdminAdjust(ctx context.Context, ev Event, sign int64) (Result, error) {
	kind := "credit"
	reason := ReasonAdminCredit
	if sign < 0 {
		kind = "debit"
		reason = ReasonAdminDebit
	}

	if !ev.IsAdmin {
		metrics.AdminAdjustments.WithLabelValues(kind, RejectionUnauthorized.String()).Inc()
		return Result{Kind: ev.Kind, Rejection: RejectionUnauthorized}, nil
	}

	res := Result{Kind: ev.Kind, IsAdmin: true}

	target, amount, err := ParseAdminPayload(ev.AdminPayload)
	if err != nil {
		res.Rejection = RejectionInvalidArgument
		metrics.AdminAdjustments.WithLabelValues(kind, res.Rejection.String()).Inc()
		return res, nil
	}
	delta := amount * sign

	var adj Adjustment
	err = s.store.Update(ctx, []int64{target}, func(tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, target)
		if err != nil {
			return err
		}
		if overflows(u.Balance, delta) {
			return errors.Wrapf(ledger.ErrInvalidArgument, "balance %d cannot take %d", u.Balance, delta)
		}
		if !s.opts.AllowNegativeBalance && u.Balance+delta < 0 {
			return errors.Wrapf(ledger.ErrInsufficientFunds, "balance %d, debit %d", u.Balance, -delta)
		}

		entry, err := tx.AppendTransaction(ctx, ledger.Transaction{
			TargetUserID: target,
			Amount:       delta,
			Reason:       reason,
		})
		if err != nil {
			return err
		}

		adj = Adjustment{
			TargetID:      target,
			Amount:        delta,
			Balance:       entry.BalanceAfter,
			TransactionID: entry.ID,
		}
		return nil
	})
	if rej, ok := rejectionFor(err); ok && rej != RejectionNone {
		res.Rejection = rej
		metrics.AdminAdjustments.WithLabelValues(kind, rej.String()).Inc()
		return res, nil
	}
	if err != nil {
		metrics.AdminAdjustments.WithLabelValues(kind, "error").Inc()
		s.log.Error("admin adjustment failed", "admin_id", ev.UserID, "target_id", target, "amount", delta, "error", err)
		return Result{Kind: ev.Kind}, errors.Wrapf(err, "%s %d for user %d", kind, amount, target)
	}

	s.log.Info("admin adjustment", "admin_id", ev.UserID, "target_id", target, "amount", delta, "balance", adj.Balance)
	metrics.AdminAdjustments.WithLabelValues(kind, "applied").Inc()

	res.Adjustment = &adj
	return res, nil
}

// Broadcast sends the payload text to every known user. A failing recipient
// is logged and counted and never stops the others. No user lock is held.
func (s *Service) Broadcast(ctx context.Context, ev Event) (Result, error) {
	if !ev.IsAdmin {
		return Result{Kind: ev.Kind, Rejection: RejectionUnauthorized}, nil
	}

	res := Result{Kind: ev.Kind, IsAdmin: true}

	text := strings.TrimSpace(ev.AdminPayload)
	if text == "" {
		res.Rejection = RejectionInvalidArgument
		return res, nil
	}

	d := s.deliverer()
	if d == nil {
		return Result{Kind: ev.Kind}, ledger.ErrDeliveryUnavailable
	}

	ids, err := ledger.Retry(ctx, s.opts.RetryAttempts, func() ([]int64, error) {
		return s.store.ListUserIDs(ctx)
	})
	if err != nil {
		return Result{Kind: ev.Kind}, errors.Wrap(err, "list recipients")
	}

	tally := s.fanOut(ctx, d, ids, ev.AdminPayload)
	s.log.Info("broadcast finished", "admin_id", ev.UserID, "sent", tally.Sent, "failed", tally.Failed)

	res.Broadcast = tally
	return res, nil
}

func (s *Service) fanOut(ctx context.Context, d Deliverer, ids []int64, text string) *Tally {
	limiter := rate.NewLimiter(s.broadcastLimit(), 1)

	var (
		g     errgroup.Group
		mu    sync.Mutex
		tally = &Tally{}
	)
	g.SetLimit(s.opts.BroadcastConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			err := limiter.Wait(ctx)
			if err == nil {
				err = deliverOne(ctx, d, id, text)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				tally.Failed++
				tally.FailedIDs = append(tally.FailedIDs, id)
				s.log.Warn("broadcast delivery failed", "user_id", id, "error", err)
				metrics.BroadcastDeliveries.WithLabelValues("failed").Inc()
				return nil
			}
			tally.Sent++
			metrics.BroadcastDeliveries.WithLabelValues("sent").Inc()
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(tally.FailedIDs)
	return tally
}

// overflows reports whether balance+delta leaves the int64 range.
func overflows(balance, delta int64) bool {
	if delta > 0 {
		return balance > math.MaxInt64-delta
	}
	return balance < math.MinInt64-delta
}

// deliverOne turns a panicking deliverer into an ordinary failure.
func deliverOne(ctx context.Context, d Deliverer, id int64, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("delivery panic: %v", r)
		}
	}()
	return d.Deliver(ctx, id, text)
}

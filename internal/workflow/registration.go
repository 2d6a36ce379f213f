package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"referral-bot/internal/ledger"
	"referral-bot/internal/metrics"
	"referral-bot/internal/referral"
)

// Register handles a Start event: ensure the user exists and, when a referral
// argument is present and the user has no referrer yet, link and pay the
// referrer in one atomic unit.
//
// The bonus uses the referrer's tier before the new referral is counted; the
// tier is then re-evaluated with the new count for future events.
func (s *Service) Register(ctx context.Context, ev Event) (Result, error) {
	u, err := s.ensureUser(ctx, ev)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return Result{Kind: EventStart}, err
	}

	res := Result{Kind: EventStart, User: *u, IsAdmin: ev.IsAdmin}

	arg := strings.TrimSpace(ev.ReferralArg)
	if arg == "" {
		metrics.Registrations.WithLabelValues("no_referral").Inc()
		return res, nil
	}
	if u.HasReferrer() {
		res.Rejection = RejectionAlreadyLinked
		metrics.Registrations.WithLabelValues(res.Rejection.String()).Inc()
		return res, nil
	}

	referrerID, err := ParseReferralArg(arg)
	if err != nil {
		s.log.Info("malformed referral argument", "user_id", u.ID, "arg", arg)
		res.Rejection = RejectionInvalidArgument
		metrics.Registrations.WithLabelValues(res.Rejection.String()).Inc()
		return res, nil
	}

	reg, err := ledger.Retry(ctx, s.opts.RetryAttempts, func() (*Registration, error) {
		return s.linkAndCredit(ctx, u.ID, referrerID)
	})
	if rej, ok := rejectionFor(err); ok && rej != RejectionNone {
		s.log.Info("referral rejected", "user_id", u.ID, "referrer_id", referrerID, "reason", rej.String())
		res.Rejection = rej
		metrics.Registrations.WithLabelValues(rej.String()).Inc()
		return res, nil
	}
	if err != nil {
		s.log.Error("registration aborted", "user_id", u.ID, "referrer_id", referrerID, "error", err)
		metrics.Registrations.WithLabelValues("error").Inc()
		return Result{Kind: EventStart}, errors.Wrapf(err, "register %d via %d", u.ID, referrerID)
	}

	res.Registration = reg
	if linked, err := s.store.GetUser(ctx, u.ID); err == nil {
		res.User = *linked
	}

	s.log.Info("referral linked",
		"user_id", u.ID,
		"referrer_id", referrerID,
		"bonus", reg.Bonus,
		"referrer_tier", reg.ReferrerTier,
		"tier_changed", reg.TierChanged,
	)
	metrics.Registrations.WithLabelValues("linked").Inc()
	metrics.BonusCredited.Add(float64(reg.Bonus))
	if reg.TierChanged {
		metrics.TierPromotions.WithLabelValues(strconv.Itoa(reg.ReferrerTier)).Inc()
	}

	return res, nil
}

// linkAndCredit is one atomic unit: a failed credit rolls the link back.
// Rejections come back as ledger errors so Retry treats them as permanent.
func (s *Service) linkAndCredit(ctx context.Context, userID, referrerID int64) (*Registration, error) {
	var reg *Registration

	err := s.store.Update(ctx, []int64{userID, referrerID}, func(tx ledger.Tx) error {
		before, err := tx.CountReferralsOf(ctx, referrerID)
		if err != nil {
			return errors.Wrap(err, "count referrals before link")
		}

		result, err := referral.Link(ctx, tx, userID, referrerID)
		if err != nil {
			return err
		}
		if result != referral.Linked {
			return result.Err()
		}

		bonus := s.tiers.For(before).Bonus
		entry, err := tx.AppendTransaction(ctx, ledger.Transaction{
			TargetUserID: referrerID,
			Amount:       bonus,
			Reason:       bonusReason(userID),
		})
		if err != nil {
			return errors.Wrap(err, "credit referral bonus")
		}

		referrer, err := tx.GetUser(ctx, referrerID)
		if err != nil {
			return errors.Wrap(err, "reload referrer")
		}
		after, err := tx.CountReferralsOf(ctx, referrerID)
		if err != nil {
			return errors.Wrap(err, "count referrals after link")
		}

		reg = &Registration{
			Linked:          true,
			ReferrerID:      referrerID,
			Bonus:           bonus,
			ReferrerBalance: entry.BalanceAfter,
			ReferrerTier:    referrer.Tier,
		}

		// never demote
		if next := s.tiers.For(after); next.Number > referrer.Tier {
			if err := tx.SetTier(ctx, referrerID, next.Number); err != nil {
				return errors.Wrap(err, "update referrer tier")
			}
			reg.ReferrerTier = next.Number
			reg.TierChanged = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func bonusReason(userID int64) string {
	return fmt.Sprintf("referral bonus for %d", userID)
}

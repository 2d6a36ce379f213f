package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"referral-bot/internal/ledger"
	"referral-bot/internal/metrics"
)

const reconcileLockKey = "reconcile:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Mismatch is a user whose stored balance differs from the sum of their
// transactions.
type Mismatch struct {
	UserID  int64
	Balance int64
	Sum     int64
}

type Report struct {
	Checked    int
	Mismatches []Mismatch
}

// Reconciler periodically checks that every balance equals its transaction
// sum. It only reads. With a Redis client set, one instance runs per cycle.
type Reconciler struct {
	Store    ledger.Store
	Redis    *redis.Client
	Interval time.Duration

	owner string
	log   *slog.Logger
}

func NewReconciler(store ledger.Store, rdb *redis.Client, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		Store:    store,
		Redis:    rdb,
		Interval: interval,
		owner:    uuid.NewString(),
		log:      logger.With("component", "reconciler"),
	}
}

// Start runs a cycle immediately and then every Interval until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	r.log.Info("reconciliation worker started", "interval", r.Interval)

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Reconciler) cycle(ctx context.Context) {
	acquired, err := r.lock(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		r.log.Error("reconcile lock failed", "error", err)
		return
	}
	if !acquired {
		metrics.ReconcileRuns.WithLabelValues("skipped").Inc()
		r.log.Debug("reconciliation already running elsewhere")
		return
	}
	defer r.unlock(ctx)

	report, err := r.RunOnce(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		r.log.Error("reconciliation failed", "error", err)
		return
	}
	metrics.ReconcileRuns.WithLabelValues("ok").Inc()
	r.log.Info("reconciliation finished", "checked", report.Checked, "mismatches", len(report.Mismatches))
}

// RunOnce walks all users once.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	ids, err := r.Store.ListUserIDs(ctx)
	if err != nil {
		return report, errors.Wrap(err, "list users")
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		balance, sum, err := r.snapshot(ctx, id)
		if err != nil {
			return report, err
		}
		report.Checked++

		if balance != sum {
			report.Mismatches = append(report.Mismatches, Mismatch{UserID: id, Balance: balance, Sum: sum})
			metrics.ReconcileMismatches.Inc()
			r.log.Error("balance mismatch", "user_id", id, "balance", balance, "transaction_sum", sum)
		}
	}
	return report, nil
}

// snapshot reads the balance and the transaction sum with the user locked,
// so a concurrent credit lands entirely before or after the read.
func (r *Reconciler) snapshot(ctx context.Context, id int64) (balance, sum int64, err error) {
	err = r.Store.Update(ctx, []int64{id}, func(tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "get user %d", id)
		}
		balance = u.Balance

		sum, err = tx.SumTransactions(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "sum transactions of %d", id)
		}
		return nil
	})
	return balance, sum, err
}

func (r *Reconciler) lock(ctx context.Context) (bool, error) {
	if r.Redis == nil {
		return true, nil
	}
	ok, err := r.Redis.SetNX(ctx, reconcileLockKey, r.owner, r.Interval).Result()
	if err != nil {
		return false, errors.Wrap(err, "acquire reconcile lock")
	}
	return ok, nil
}

func (r *Reconciler) unlock(ctx context.Context) {
	if r.Redis == nil {
		return
	}
	if err := releaseScript.Run(ctx, r.Redis, []string{reconcileLockKey}, r.owner).Err(); err != nil {
		r.log.Warn("release reconcile lock failed", "error", err)
	}
}

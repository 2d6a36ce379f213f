package database

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"referral-bot/internal/ledger"
	"referral-bot/internal/models"
)

const referrerChainQuery = `
WITH RECURSIVE chain(id, referrer_id, depth) AS (
	SELECT id, referrer_id, 1 FROM users WHERE id = ?
	UNION ALL
	SELECT u.id, u.referrer_id, c.depth + 1
	FROM users u JOIN chain c ON u.id = c.referrer_id
	WHERE c.depth < ?
)
SELECT referrer_id FROM chain WHERE referrer_id IS NOT NULL ORDER BY depth`

// Store is the Postgres ledger. Update runs inside one SQL transaction and
// takes row locks with SELECT ... FOR UPDATE in ascending id order.
type Store struct {
	db       *gorm.DB
	attempts int
}

var _ ledger.Store = (*Store)(nil)

// NewStore wraps db. Reads outside Update are retried up to attempts times.
func NewStore(db *gorm.DB, attempts int) *Store {
	return &Store{db: db, attempts: attempts}
}

func (s *Store) GetUser(ctx context.Context, id int64) (*ledger.User, error) {
	return ledger.Retry(ctx, s.attempts, func() (*ledger.User, error) {
		return getUser(s.db.WithContext(ctx), id)
	})
}

func (s *Store) CountReferralsOf(ctx context.Context, id int64) (int, error) {
	return ledger.Retry(ctx, s.attempts, func() (int, error) {
		return countReferrals(s.db.WithContext(ctx), id)
	})
}

func (s *Store) CreateUserIfAbsent(ctx context.Context, id int64, displayName string) (*ledger.User, error) {
	db := s.db.WithContext(ctx)
	m := models.User{ID: id, DisplayName: displayName, Tier: 1}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Omit(clause.Associations).Create(&m).Error; err != nil {
		return nil, ledger.Storage("create user", err)
	}
	return getUser(db, id)
}

func (s *Store) ReferralsOf(ctx context.Context, id int64) ([]ledger.User, error) {
	return ledger.Retry(ctx, s.attempts, func() ([]ledger.User, error) {
		var rows []models.User
		err := s.db.WithContext(ctx).
			Where("referrer_id = ?", id).
			Order("created_at, id").
			Find(&rows).Error
		if err != nil {
			return nil, ledger.Storage("referrals of", err)
		}

		out := make([]ledger.User, 0, len(rows))
		for i := range rows {
			out = append(out, toUser(&rows[i]))
		}
		return out, nil
	})
}

func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	return ledger.Retry(ctx, s.attempts, func() ([]int64, error) {
		var ids []int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).Order("id").Pluck("id", &ids).Error; err != nil {
			return nil, ledger.Storage("list users", err)
		}
		return ids, nil
	})
}

func (s *Store) TransactionsOf(ctx context.Context, id int64) ([]ledger.Transaction, error) {
	return ledger.Retry(ctx, s.attempts, func() ([]ledger.Transaction, error) {
		var rows []models.Transaction
		err := s.db.WithContext(ctx).
			Where("target_user_id = ?", id).
			Order("created_at").
			Find(&rows).Error
		if err != nil {
			return nil, ledger.Storage("transactions of", err)
		}

		out := make([]ledger.Transaction, 0, len(rows))
		for i := range rows {
			out = append(out, toTransaction(&rows[i]))
		}
		return out, nil
	})
}

func (s *Store) SumTransactions(ctx context.Context, id int64) (int64, error) {
	return ledger.Retry(ctx, s.attempts, func() (int64, error) {
		return sumTransactions(s.db.WithContext(ctx), id)
	})
}

func (s *Store) Update(ctx context.Context, ids []int64, fn func(tx ledger.Tx) error) error {
	keys := slices.Clone(ids)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var locked []models.User
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id IN ?", keys).
			Order("id").
			Find(&locked).Error
		if err != nil {
			return ledger.Storage("lock users", err)
		}

		fnErr = fn(&gormTx{db: db, locked: keys})
		return fnErr
	})
	if err != nil && err != fnErr {
		return ledger.Storage("commit", err)
	}
	return err
}

func (s *Store) AdjustBalance(ctx context.Context, id, delta int64, reason string) (int64, error) {
	return ledger.AdjustBalance(ctx, s, id, delta, reason)
}

func (s *Store) SetReferrerOnce(ctx context.Context, id, referrerID int64) (ledger.SetReferrerResult, error) {
	return ledger.SetReferrerOnce(ctx, s, id, referrerID)
}

type gormTx struct {
	db     *gorm.DB
	locked []int64
}

func (t *gormTx) GetUser(ctx context.Context, id int64) (*ledger.User, error) {
	return getUser(t.db, id)
}

func (t *gormTx) CountReferralsOf(ctx context.Context, id int64) (int, error) {
	return countReferrals(t.db, id)
}

func (t *gormTx) ReferrerChain(ctx context.Context, id int64, limit int) ([]int64, error) {
	if limit < 1 {
		return nil, nil
	}
	var chain []int64
	if err := t.db.Raw(referrerChainQuery, id, limit).Scan(&chain).Error; err != nil {
		return nil, ledger.Storage("referrer chain", err)
	}
	return chain, nil
}

func (t *gormTx) SetReferrerOnce(ctx context.Context, id, referrerID int64) (ledger.SetReferrerResult, error) {
	if id == referrerID {
		return ledger.ReferrerUserNotFound, ledger.ErrSelfReferral
	}
	if err := t.writable(id); err != nil {
		return ledger.ReferrerUserNotFound, err
	}

	u, err := getUser(t.db, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.ReferrerUserNotFound, nil
	}
	if err != nil {
		return ledger.ReferrerUserNotFound, err
	}
	if u.HasReferrer() {
		return ledger.ReferrerAlreadySet, nil
	}

	if _, err := getUser(t.db, referrerID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.ReferrerUserNotFound, nil
		}
		return ledger.ReferrerUserNotFound, err
	}

	res := t.db.Model(&models.User{}).
		Where("id = ? AND referrer_id IS NULL", id).
		Update("referrer_id", referrerID)
	if res.Error != nil {
		return ledger.ReferrerUserNotFound, ledger.Storage("set referrer", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ReferrerAlreadySet, nil
	}
	return ledger.ReferrerSet, nil
}

func (t *gormTx) AppendTransaction(ctx context.Context, e ledger.Transaction) (ledger.Transaction, error) {
	if err := t.writable(e.TargetUserID); err != nil {
		return ledger.Transaction{}, err
	}

	res := t.db.Model(&models.User{}).
		Where("id = ?", e.TargetUserID).
		UpdateColumn("balance", gorm.Expr("balance + ?", e.Amount))
	if res.Error != nil {
		return ledger.Transaction{}, ledger.Storage("apply amount", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.Transaction{}, ledger.ErrNotFound
	}

	var balance int64
	if err := t.db.Model(&models.User{}).Where("id = ?", e.TargetUserID).Pluck("balance", &balance).Error; err != nil {
		return ledger.Transaction{}, ledger.Storage("read balance", err)
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	row := models.Transaction{
		ID:           e.ID,
		TargetUserID: e.TargetUserID,
		Amount:       e.Amount,
		Reason:       e.Reason,
		BalanceAfter: balance,
		CreatedAt:    e.CreatedAt,
	}
	if err := t.db.Omit(clause.Associations).Create(&row).Error; err != nil {
		return ledger.Transaction{}, ledger.Storage("record transaction", err)
	}
	return toTransaction(&row), nil
}

func (t *gormTx) AdjustBalance(ctx context.Context, id, delta int64, reason string) (int64, error) {
	e, err := t.AppendTransaction(ctx, ledger.Transaction{
		TargetUserID: id,
		Amount:       delta,
		Reason:       reason,
	})
	if err != nil {
		return 0, err
	}
	return e.BalanceAfter, nil
}

func (t *gormTx) SumTransactions(ctx context.Context, id int64) (int64, error) {
	return sumTransactions(t.db, id)
}

func (t *gormTx) SetTier(ctx context.Context, id int64, tier int) error {
	if err := t.writable(id); err != nil {
		return err
	}

	res := t.db.Model(&models.User{}).Where("id = ?", id).Update("tier", tier)
	if res.Error != nil {
		return ledger.Storage("set tier", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *gormTx) writable(id int64) error {
	if !slices.Contains(t.locked, id) {
		return errors.Errorf("user %d is not locked by this update", id)
	}
	return nil
}

func getUser(db *gorm.DB, id int64) (*ledger.User, error) {
	var m models.User
	err := db.Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, ledger.Storage("get user", err)
	}
	u := toUser(&m)
	return &u, nil
}

func countReferrals(db *gorm.DB, id int64) (int, error) {
	var n int64
	if err := db.Model(&models.User{}).Where("referrer_id = ?", id).Count(&n).Error; err != nil {
		return 0, ledger.Storage("count referrals", err)
	}
	return int(n), nil
}

func sumTransactions(db *gorm.DB, id int64) (int64, error) {
	var sum int64
	err := db.Model(&models.Transaction{}).
		Where("target_user_id = ?", id).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, ledger.Storage("sum transactions", err)
	}
	return sum, nil
}

func toUser(m *models.User) ledger.User {
	return ledger.User{
		ID:          m.ID,
		DisplayName: m.DisplayName,
		Balance:     m.Balance,
		ReferrerID:  m.ReferrerID,
		Tier:        m.Tier,
		CreatedAt:   m.CreatedAt,
	}
}

func toTransaction(m *models.Transaction) ledger.Transaction {
	return ledger.Transaction{
		ID:           m.ID,
		TargetUserID: m.TargetUserID,
		Amount:       m.Amount,
		Reason:       m.Reason,
		BalanceAfter: m.BalanceAfter,
		CreatedAt:    m.CreatedAt,
	}
}

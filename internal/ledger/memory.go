package ledger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MemoryStore keeps the ledger in process memory. Per-user mutexes serialize
// updates on the same user; the map mutex is only held to read or publish
// committed state, never across an update function.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]*User
	order    []int64
	children map[int64][]int64
	entries  map[int64][]Transaction

	locks keyedLocker
	now   func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		users:    make(map[int64]*User),
		children: make(map[int64][]int64),
		entries:  make(map[int64][]Transaction),
		locks:    keyedLocker{locks: make(map[int64]*sync.Mutex)},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateUserIfAbsent(ctx context.Context, id int64, displayName string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}

	u := &User{
		ID:          id,
		DisplayName: displayName,
		Tier:        1,
		CreatedAt:   s.now(),
	}
	s.users[id] = u
	s.order = append(s.order, id)

	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CountReferralsOf(ctx context.Context, id int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.children[id]), nil
}

func (s *MemoryStore) ReferralsOf(ctx context.Context, id int64) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.children[id]))
	for _, childID := range s.children[id] {
		out = append(out, *s.users[childID])
	}
	return out, nil
}

func (s *MemoryStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

func (s *MemoryStore) TransactionsOf(ctx context.Context, id int64) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries[id]), nil
}

func (s *MemoryStore) SumTransactions(ctx context.Context, id int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, e := range s.entries[id] {
		sum += e.Amount
	}
	return sum, nil
}

func (s *MemoryStore) Update(ctx context.Context, ids []int64, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keys := slices.Clone(ids)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	for _, id := range keys {
		s.locks.get(id).Lock()
	}
	defer func() {
		for i := len(keys) - 1; i >= 0; i-- {
			s.locks.get(keys[i]).Unlock()
		}
	}()

	tx := &memoryTx{
		store:  s,
		locked: keys,
		staged: make(map[int64]*User),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *MemoryStore) AdjustBalance(ctx context.Context, id, delta int64, reason string) (int64, error) {
	return AdjustBalance(ctx, s, id, delta, reason)
}

func (s *MemoryStore) SetReferrerOnce(ctx context.Context, id, referrerID int64) (SetReferrerResult, error) {
	return SetReferrerOnce(ctx, s, id, referrerID)
}

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range tx.staged {
		s.users[id] = u
	}
	for _, l := range tx.links {
		s.children[l.referrer] = append(s.children[l.referrer], l.user)
	}
	for _, e := range tx.entries {
		s.entries[e.TargetUserID] = append(s.entries[e.TargetUserID], e)
	}
}

type link struct {
	user     int64
	referrer int64
}

type memoryTx struct {
	store   *MemoryStore
	locked  []int64
	staged  map[int64]*User
	links   []link
	entries []Transaction
}

func (t *memoryTx) GetUser(ctx context.Context, id int64) (*User, error) {
	if u, ok := t.staged[id]; ok {
		cp := *u
		return &cp, nil
	}
	return t.store.GetUser(ctx, id)
}

func (t *memoryTx) CountReferralsOf(ctx context.Context, id int64) (int, error) {
	n, err := t.store.CountReferralsOf(ctx, id)
	if err != nil {
		return 0, err
	}
	for _, l := range t.links {
		if l.referrer == id {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) ReferrerChain(ctx context.Context, id int64, limit int) ([]int64, error) {
	var chain []int64
	cur := id
	for len(chain) < limit {
		u, err := t.GetUser(ctx, cur)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if u.ReferrerID == nil {
			break
		}
		chain = append(chain, *u.ReferrerID)
		cur = *u.ReferrerID
	}
	return chain, nil
}

func (t *memoryTx) SetReferrerOnce(ctx context.Context, id, referrerID int64) (SetReferrerResult, error) {
	if id == referrerID {
		return ReferrerUserNotFound, ErrSelfReferral
	}

	u, err := t.writable(id)
	if errors.Is(err, ErrNotFound) {
		return ReferrerUserNotFound, nil
	}
	if err != nil {
		return ReferrerUserNotFound, err
	}
	if u.HasReferrer() {
		return ReferrerAlreadySet, nil
	}

	if _, err := t.GetUser(ctx, referrerID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ReferrerUserNotFound, nil
		}
		return ReferrerUserNotFound, err
	}

	ref := referrerID
	u.ReferrerID = &ref
	t.links = append(t.links, link{user: id, referrer: referrerID})
	return ReferrerSet, nil
}

func (t *memoryTx) AppendTransaction(ctx context.Context, e Transaction) (Transaction, error) {
	u, err := t.writable(e.TargetUserID)
	if err != nil {
		return Transaction{}, err
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.store.now()
	}

	u.Balance += e.Amount
	e.BalanceAfter = u.Balance
	t.entries = append(t.entries, e)
	return e, nil
}

func (t *memoryTx) AdjustBalance(ctx context.Context, id, delta int64, reason string) (int64, error) {
	e, err := t.AppendTransaction(ctx, Transaction{
		TargetUserID: id,
		Amount:       delta,
		Reason:       reason,
	})
	if err != nil {
		return 0, err
	}
	return e.BalanceAfter, nil
}

func (t *memoryTx) SumTransactions(ctx context.Context, id int64) (int64, error) {
	sum, err := t.store.SumTransactions(ctx, id)
	if err != nil {
		return 0, err
	}
	for _, e := range t.entries {
		if e.TargetUserID == id {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (t *memoryTx) SetTier(ctx context.Context, id int64, tier int) error {
	u, err := t.writable(id)
	if err != nil {
		return err
	}
	u.Tier = tier
	return nil
}

// writable returns the staged copy of a locked user.
func (t *memoryTx) writable(id int64) (*User, error) {
	if !slices.Contains(t.locked, id) {
		return nil, errors.Errorf("user %d is not locked by this update", id)
	}
	if u, ok := t.staged[id]; ok {
		return u, nil
	}

	t.store.mu.RLock()
	committed, ok := t.store.users[id]
	t.store.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	cp := *committed
	t.staged[id] = &cp
	return &cp, nil
}

type keyedLocker struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (k *keyedLocker) get(id int64) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[id]
	if !ok {
		m = new(sync.Mutex)
		k.locks[id] = m
	}
	return m
}

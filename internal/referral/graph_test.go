package referral

import (
	"context"
	"errors"
	"sync"
	"testing"

	"referral-bot/internal/ledger"
)

func newGraph(t *testing.T, ids ...int64) (*Graph, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	for _, id := range ids {
		if _, err := store.CreateUserIfAbsent(context.Background(), id, ""); err != nil {
			t.Fatalf("create user %d: %v", id, err)
		}
	}
	return NewGraph(store), store
}

func TestGraph_Link(t *testing.T) {
	ctx := context.Background()
	graph, store := newGraph(t, 1, 2)

	res, err := graph.Link(ctx, 2, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res != Linked {
		t.Fatalf("expected Linked, got %s", res)
	}

	user, _ := store.GetUser(ctx, 2)
	if user.ReferrerID == nil || *user.ReferrerID != 1 {
		t.Fatalf("expected referrer 1, got %v", user.ReferrerID)
	}

	count, err := graph.CountReferralsOf(ctx, 1)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 referral, got %d (%v)", count, err)
	}

	refs, err := graph.ReferralsOf(ctx, 1)
	if err != nil || len(refs) != 1 || refs[0].ID != 2 {
		t.Fatalf("unexpected referrals %+v (%v)", refs, err)
	}
}

func TestGraph_LinkRejectsSelfReference(t *testing.T) {
	ctx := context.Background()
	graph, store := newGraph(t, 7)

	res, err := graph.Link(ctx, 7, 7)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res != RejectedSelfReference {
		t.Fatalf("expected RejectedSelfReference, got %s", res)
	}
	if !errors.Is(res.Err(), ledger.ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", res.Err())
	}

	user, _ := store.GetUser(ctx, 7)
	if user.HasReferrer() {
		t.Fatalf("self link must not set a referrer")
	}
}

func TestGraph_LinkRejectsUnknownReferrer(t *testing.T) {
	ctx := context.Background()
	graph, store := newGraph(t, 1)

	res, err := graph.Link(ctx, 1, 404)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res != RejectedUnknownReferrer {
		t.Fatalf("expected RejectedUnknownReferrer, got %s", res)
	}

	user, _ := store.GetUser(ctx, 1)
	if user.HasReferrer() || user.Balance != 0 {
		t.Fatalf("unexpected state change %+v", user)
	}
	if ids, _ := store.ListUserIDs(ctx); len(ids) != 1 {
		t.Fatalf("unknown referrer must not be created, got users %v", ids)
	}
}

func TestGraph_FirstLinkWins(t *testing.T) {
	ctx := context.Background()
	graph, store := newGraph(t, 1, 2, 3)

	if res, _ := graph.Link(ctx, 3, 1); res != Linked {
		t.Fatalf("expected first link to succeed, got %s", res)
	}
	res, err := graph.Link(ctx, 3, 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res != RejectedAlreadyLinked {
		t.Fatalf("expected RejectedAlreadyLinked, got %s", res)
	}

	user, _ := store.GetUser(ctx, 3)
	if *user.ReferrerID != 1 {
		t.Fatalf("referrer was overwritten: %d", *user.ReferrerID)
	}
	if n, _ := graph.CountReferralsOf(ctx, 2); n != 0 {
		t.Fatalf("expected no referrals for 2, got %d", n)
	}
}

func TestGraph_LinkRejectsCycle(t *testing.T) {
	ctx := context.Background()
	graph, store := newGraph(t, 1, 2, 3)

	// 3 -> 2 -> 1
	if res, _ := graph.Link(ctx, 2, 1); res != Linked {
		t.Fatalf("expected Linked, got %s", res)
	}
	if res, _ := graph.Link(ctx, 3, 2); res != Linked {
		t.Fatalf("expected Linked, got %s", res)
	}

	res, err := graph.Link(ctx, 1, 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res != RejectedCycle {
		t.Fatalf("expected RejectedCycle, got %s", res)
	}

	user, _ := store.GetUser(ctx, 1)
	if user.HasReferrer() {
		t.Fatalf("cycle link must not be recorded")
	}
}

func TestGraph_ConcurrentLinksSameUser(t *testing.T) {
	ctx := context.Background()
	referrers := []int64{10, 11, 12, 13, 14, 15, 16, 17}
	graph, store := newGraph(t, append([]int64{1}, referrers...)...)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		linked int
	)
	for _, ref := range referrers {
		wg.Add(1)
		go func(ref int64) {
			defer wg.Done()
			res, err := graph.Link(ctx, 1, ref)
			if err != nil {
				t.Errorf("link via %d: %v", ref, err)
				return
			}
			if res == Linked {
				mu.Lock()
				linked++
				mu.Unlock()
			}
		}(ref)
	}
	wg.Wait()

	if linked != 1 {
		t.Fatalf("expected exactly one link, got %d", linked)
	}

	user, _ := store.GetUser(ctx, 1)
	total := 0
	for _, ref := range referrers {
		n, _ := graph.CountReferralsOf(ctx, ref)
		total += n
	}
	if total != 1 || user.ReferrerID == nil {
		t.Fatalf("expected one committed link, got %d (referrer %v)", total, user.ReferrerID)
	}
}

func TestGraph_MirroredLinksDoNotFormCycle(t *testing.T) {
	ctx := context.Background()
	graph, _ := newGraph(t, 1, 2)

	var wg sync.WaitGroup
	results := make([]LinkResult, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0], _ = graph.Link(ctx, 1, 2) }()
	go func() { defer wg.Done(); results[1], _ = graph.Link(ctx, 2, 1) }()
	wg.Wait()

	linked := 0
	for _, r := range results {
		if r == Linked {
			linked++
		} else if r != RejectedCycle {
			t.Fatalf("unexpected result %s", r)
		}
	}
	if linked != 1 {
		t.Fatalf("expected exactly one of the mirrored links, got %v", results)
	}
}

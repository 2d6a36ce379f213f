package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"referral-bot/internal/ledger"
	"referral-bot/internal/models"
)

func TestToUser(t *testing.T) {
	ref := int64(7)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	u := toUser(&models.User{ID: 9, DisplayName: "anna", Balance: 300, ReferrerID: &ref, Tier: 2, CreatedAt: created})

	if u.ID != 9 || u.DisplayName != "anna" || u.Balance != 300 || u.Tier != 2 || !u.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user %+v", u)
	}
	if !u.HasReferrer() || *u.ReferrerID != 7 {
		t.Fatalf("referrer lost: %+v", u)
	}
}

func TestToTransaction(t *testing.T) {
	id := uuid.New()
	tx := toTransaction(&models.Transaction{ID: id, TargetUserID: 3, Amount: -50, Reason: "administrative debit", BalanceAfter: 25})

	if tx.ID != id || tx.TargetUserID != 3 || tx.Amount != -50 || tx.BalanceAfter != 25 || tx.Reason != "administrative debit" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
}

func TestGormTx_RejectsBeforeTouchingTheDatabase(t *testing.T) {
	ctx := context.Background()
	tx := &gormTx{locked: []int64{1, 2}}

	if _, err := tx.SetReferrerOnce(ctx, 1, 1); !errors.Is(err, ledger.ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
	if _, err := tx.SetReferrerOnce(ctx, 3, 1); err == nil {
		t.Fatalf("expected unlocked user to be refused")
	}
	if _, err := tx.AppendTransaction(ctx, ledger.Transaction{TargetUserID: 5, Amount: 10}); err == nil {
		t.Fatalf("expected unlocked user to be refused")
	}
	if err := tx.SetTier(ctx, 4, 2); err == nil {
		t.Fatalf("expected unlocked user to be refused")
	}
	if chain, err := tx.ReferrerChain(ctx, 1, 0); err != nil || chain != nil {
		t.Fatalf("zero limit must return an empty chain, got %v %v", chain, err)
	}
}

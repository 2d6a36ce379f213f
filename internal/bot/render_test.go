package bot

import (
	"strings"
	"testing"

	"github.com/mymmrac/telego"

	"referral-bot/internal/ledger"
	"referral-bot/internal/session"
	"referral-bot/internal/tier"
	"referral-bot/internal/workflow"
)

func TestCommandArg(t *testing.T) {
	cases := map[string]string{
		"/start":            "",
		"/start 42":         "42",
		"/start   ref_7  ":  "ref_7",
		"/start 1 2":        "1",
		"/start@my_bot 100": "100",
	}
	for in, want := range cases {
		if got := commandArg(in); got != want {
			t.Fatalf("commandArg(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := displayName(&telego.User{ID: 1, Username: "nick", FirstName: "Ann"}); got != "nick" {
		t.Fatalf("expected username, got %q", got)
	}
	if got := displayName(&telego.User{ID: 1, FirstName: "Ann", LastName: "Lee"}); got != "Ann Lee" {
		t.Fatalf("expected full name, got %q", got)
	}
	if got := displayName(&telego.User{ID: 55}); got != "55" {
		t.Fatalf("expected id fallback, got %q", got)
	}
}

func TestMainMenu_AdminRow(t *testing.T) {
	if rows := mainMenu(false).Keyboard; len(rows) != 2 {
		t.Fatalf("regular menu must have 2 rows, got %d", len(rows))
	}
	rows := mainMenu(true).Keyboard
	if len(rows) != 3 || rows[2][0].Text != btnAdmin {
		t.Fatalf("admin menu must end with the admin panel button, got %+v", rows)
	}
}

func TestStartMessages(t *testing.T) {
	linked := workflow.Result{
		Kind:         workflow.EventStart,
		User:         ledger.User{ID: 5},
		Registration: &workflow.Registration{Linked: true, ReferrerID: 3},
	}
	got := startMessages(linked, "refbot")
	if len(got) != 2 || !strings.Contains(got[0], "3") || !strings.HasSuffix(got[1], "https://t.me/refbot?start=5") {
		t.Fatalf("unexpected messages %q", got)
	}

	self := workflow.Result{Kind: workflow.EventStart, User: ledger.User{ID: 5}, Rejection: workflow.RejectionSelfReferral}
	got = startMessages(self, "refbot")
	if len(got) != 2 || got[0] != rejectionText(workflow.RejectionSelfReferral) {
		t.Fatalf("unexpected messages %q", got)
	}

	plain := workflow.Result{Kind: workflow.EventStart, User: ledger.User{ID: 5}}
	if got = startMessages(plain, "refbot"); len(got) != 1 {
		t.Fatalf("plain start must only greet, got %q", got)
	}
}

func TestRenderResult(t *testing.T) {
	next := tier.Level{Number: 3, Bonus: 300, Required: 10}
	cases := []struct {
		name string
		res  workflow.Result
		want string
	}{
		{
			name: "balance",
			res:  workflow.Result{Kind: workflow.EventQueryBalance, User: ledger.User{Balance: 700}},
			want: "Ваш баланс: 700 рублей.",
		},
		{
			name: "no referrals",
			res:  workflow.Result{Kind: workflow.EventQueryReferrals},
			want: "У вас пока нет рефералов.",
		},
		{
			name: "referrals",
			res: workflow.Result{Kind: workflow.EventQueryReferrals, Referrals: []ledger.User{
				{ID: 1, DisplayName: "ann"}, {ID: 2},
			}},
			want: "Ваши рефералы:\nann\n2",
		},
		{
			name: "link",
			res:  workflow.Result{Kind: workflow.EventQueryLink, User: ledger.User{ID: 9}},
			want: "Ваша реферальная ссылка: https://t.me/refbot?start=9",
		},
		{
			name: "tier",
			res: workflow.Result{Kind: workflow.EventQueryTier, Tier: &workflow.TierInfo{
				Level: tier.Level{Number: 2, Bonus: 200, Required: 5}, ReferralCount: 6, Next: &next,
			}},
			want: "Ваш уровень: 2. Бонус за реферала: 200 рублей.\nДо уровня 3 осталось пригласить: 4.",
		},
		{
			name: "credit",
			res: workflow.Result{Kind: workflow.EventAdminCredit, Adjustment: &workflow.Adjustment{
				TargetID: 4, Amount: 100, Balance: 150,
			}},
			want: "Баланс пользователя 4 увеличен на 100 рублей. Текущий баланс: 150.",
		},
		{
			name: "debit",
			res: workflow.Result{Kind: workflow.EventAdminDebit, Adjustment: &workflow.Adjustment{
				TargetID: 4, Amount: -100, Balance: 50,
			}},
			want: "С баланса пользователя 4 списано 100 рублей. Текущий баланс: 50.",
		},
		{
			name: "broadcast",
			res:  workflow.Result{Kind: workflow.EventAdminBroadcast, Broadcast: &workflow.Tally{Sent: 9, Failed: 1}},
			want: "Рассылка завершена. Доставлено: 9, ошибок: 1.",
		},
		{
			name: "rejection",
			res:  workflow.Result{Kind: workflow.EventAdminDebit, Rejection: workflow.RejectionInsufficientFunds},
			want: "Недостаточно средств для списания.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := renderResult(tc.res, "refbot"); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRenderRejection_InvalidArgumentDependsOnEvent(t *testing.T) {
	start := renderRejection(workflow.EventStart, workflow.RejectionInvalidArgument)
	credit := renderRejection(workflow.EventAdminCredit, workflow.RejectionInvalidArgument)
	broadcast := renderRejection(workflow.EventAdminBroadcast, workflow.RejectionInvalidArgument)
	if start == credit || credit == broadcast || start == broadcast {
		t.Fatalf("expected distinct messages, got %q %q %q", start, credit, broadcast)
	}
}

func TestPromptFor(t *testing.T) {
	for _, st := range []session.State{session.AwaitingCredit, session.AwaitingDebit, session.AwaitingBroadcast} {
		if promptFor(st) == textChooseAction {
			t.Fatalf("state %q has no prompt", st)
		}
	}
}

func TestStateEventsCoverAdminButtons(t *testing.T) {
	for text, st := range adminButtons {
		kind, ok := stateEvents[st]
		if !ok || !kind.Admin() {
			t.Fatalf("button %q leads to state %q without an admin event", text, st)
		}
	}
}

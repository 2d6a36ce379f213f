package workflow

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"referral-bot/internal/ledger"
)

// referralPrefix is the legacy code form "ref_<id>".
const referralPrefix = "ref_"

// ParseReferralArg reads the /start argument: a plain positive user id,
// optionally written as ref_<id>.
func ParseReferralArg(arg string) (int64, error) {
	arg = strings.TrimPrefix(strings.TrimSpace(arg), referralPrefix)
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrapf(ledger.ErrInvalidArgument, "referral id %q", arg)
	}
	return id, nil
}

// ParseAdminPayload reads "<user_id> <amount>" with both values positive.
func ParseAdminPayload(payload string) (int64, int64, error) {
	fields := strings.Fields(payload)
	if len(fields) != 2 {
		return 0, 0, errors.Wrapf(ledger.ErrInvalidArgument, "payload %q: want \"<user_id> <amount>\"", payload)
	}

	target, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || target <= 0 {
		return 0, 0, errors.Wrapf(ledger.ErrInvalidArgument, "user id %q", fields[0])
	}
	amount, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || amount <= 0 {
		return 0, 0, errors.Wrapf(ledger.ErrInvalidArgument, "amount %q", fields[1])
	}

	return target, amount, nil
}

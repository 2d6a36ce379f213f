package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"referral-bot/internal/session"
	"referral-bot/internal/workflow"
)

const (
	textChooseAction = "Выберите действие:"
	textAdminPanel   = "Админ-панель:"
	textUnavailable  = "Сервис временно недоступен, попробуйте позже."
)

func mainMenu(admin bool) *telego.ReplyKeyboardMarkup {
	rows := [][]telego.KeyboardButton{
		tu.KeyboardRow(tu.KeyboardButton(btnBalance), tu.KeyboardButton(btnReferrals)),
		tu.KeyboardRow(tu.KeyboardButton(btnLink), tu.KeyboardButton(btnTier)),
	}
	if admin {
		rows = append(rows, tu.KeyboardRow(tu.KeyboardButton(btnAdmin)))
	}
	return tu.Keyboard(rows...).WithResizeKeyboard()
}

func adminMenu() *telego.ReplyKeyboardMarkup {
	return tu.Keyboard(
		tu.KeyboardRow(tu.KeyboardButton(btnCredit), tu.KeyboardButton(btnDebit)),
		tu.KeyboardRow(tu.KeyboardButton(btnBroadcast), tu.KeyboardButton(btnMainMenu)),
	).WithResizeKeyboard()
}

func referralLink(botUsername string, userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", botUsername, userID)
}

// commandArg returns the first argument of a command message ("/start 42").
func commandArg(text string) string {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func displayName(u *telego.User) string {
	if u.Username != "" {
		return u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return strconv.FormatInt(u.ID, 10)
	}
	return name
}

func promptFor(state session.State) string {
	switch state {
	case session.AwaitingCredit:
		return "Введите ID пользователя и сумму для начисления (например, 123456 100):"
	case session.AwaitingDebit:
		return "Введите ID пользователя и сумму для списания (например, 123456 100):"
	case session.AwaitingBroadcast:
		return "Введите сообщение для рассылки:"
	default:
		return textChooseAction
	}
}

// startMessages are the replies to /start before the menu.
func startMessages(res workflow.Result, botUsername string) []string {
	var out []string
	switch {
	case res.Registration != nil && res.Registration.Linked:
		out = append(out, fmt.Sprintf("Вы присоединились по реферальной ссылке пользователя %d.", res.Registration.ReferrerID))
	case res.Rejected():
		out = append(out, renderRejection(res.Kind, res.Rejection))
	}
	return append(out, fmt.Sprintf("Добро пожаловать! Ваша реферальная ссылка: %s", referralLink(botUsername, res.User.ID)))
}

func referrerNotice(reg *workflow.Registration) string {
	msg := fmt.Sprintf("У вас новый реферал! Начислено %d рублей. Ваш баланс: %d рублей.", reg.Bonus, reg.ReferrerBalance)
	if reg.TierChanged {
		msg += fmt.Sprintf("\nПоздравляем, ваш уровень повышен до %d!", reg.ReferrerTier)
	}
	return msg
}

func renderResult(res workflow.Result, botUsername string) string {
	if res.Rejected() {
		return renderRejection(res.Kind, res.Rejection)
	}

	switch res.Kind {
	case workflow.EventQueryBalance:
		return fmt.Sprintf("Ваш баланс: %d рублей.", res.User.Balance)
	case workflow.EventQueryReferrals:
		return renderReferrals(res)
	case workflow.EventQueryLink:
		return fmt.Sprintf("Ваша реферальная ссылка: %s", referralLink(botUsername, res.User.ID))
	case workflow.EventQueryTier:
		return renderTier(res.Tier)
	case workflow.EventAdminCredit:
		a := res.Adjustment
		return fmt.Sprintf("Баланс пользователя %d увеличен на %d рублей. Текущий баланс: %d.", a.TargetID, a.Amount, a.Balance)
	case workflow.EventAdminDebit:
		a := res.Adjustment
		return fmt.Sprintf("С баланса пользователя %d списано %d рублей. Текущий баланс: %d.", a.TargetID, -a.Amount, a.Balance)
	case workflow.EventAdminBroadcast:
		return fmt.Sprintf("Рассылка завершена. Доставлено: %d, ошибок: %d.", res.Broadcast.Sent, res.Broadcast.Failed)
	default:
		return textChooseAction
	}
}

func renderReferrals(res workflow.Result) string {
	if len(res.Referrals) == 0 {
		return "У вас пока нет рефералов."
	}

	var sb strings.Builder
	sb.WriteString("Ваши рефералы:")
	for _, u := range res.Referrals {
		name := u.DisplayName
		if name == "" {
			name = strconv.FormatInt(u.ID, 10)
		}
		sb.WriteString("\n")
		sb.WriteString(name)
	}
	return sb.String()
}

func renderTier(info *workflow.TierInfo) string {
	msg := fmt.Sprintf("Ваш уровень: %d. Бонус за реферала: %d рублей.", info.Level.Number, info.Level.Bonus)
	if info.Next != nil {
		left := info.Next.Required - info.ReferralCount
		if left < 0 {
			left = 0
		}
		msg += fmt.Sprintf("\nДо уровня %d осталось пригласить: %d.", info.Next.Number, left)
	}
	return msg
}

func renderRejection(kind workflow.EventKind, r workflow.Rejection) string {
	if r == workflow.RejectionInvalidArgument {
		switch kind {
		case workflow.EventStart:
			return "Некорректная реферальная ссылка."
		case workflow.EventAdminBroadcast:
			return "Сообщение для рассылки не может быть пустым."
		default:
			return "Неверный формат. Введите ID пользователя и положительную сумму (например, 123456 100)."
		}
	}
	return rejectionText(r)
}

func rejectionText(r workflow.Rejection) string {
	switch r {
	case workflow.RejectionNotFound:
		return "Пользователь не найден."
	case workflow.RejectionSelfReferral:
		return "Вы не можете использовать свою собственную реферальную ссылку."
	case workflow.RejectionAlreadyLinked:
		return "Вы уже присоединились по реферальной ссылке."
	case workflow.RejectionUnknownReferrer:
		return "Пользователь, пригласивший вас, не найден."
	case workflow.RejectionCycle:
		return "Нельзя присоединиться по ссылке собственного реферала."
	case workflow.RejectionInvalidArgument:
		return "Некорректные данные."
	case workflow.RejectionUnauthorized:
		return "Эта команда доступна только администраторам."
	case workflow.RejectionInsufficientFunds:
		return "Недостаточно средств для списания."
	default:
		return textChooseAction
	}
}

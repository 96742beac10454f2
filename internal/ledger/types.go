package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Caller is the chat identity of the user on whose behalf a request is made.
// It travels as the telegram_id query parameter.
type Caller string

type Member struct {
	ID         MemberID     `json:"id"`
	Name       string       `json:"name"`
	FamilyID   ID           `json:"family_id"`
	TelegramID ChatIdentity `json:"telegram_id"`
}

type Family struct {
	ID      ID       `json:"id"`
	Name    string   `json:"name"`
	Members []Member `json:"members"`
}

type Expense struct {
	ID          ID              `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	PaidBy      MemberID        `json:"paid_by"`
	FamilyID    ID              `json:"family_id"`
	SplitAmong  []MemberID      `json:"split_among"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Wire values of Payment.Status.
const (
	StatusPending = "PENDING"
	StatusConfirm = "CONFIRM"
	StatusReject  = "REJECT"
)

// Wire values of Payment.Kind.
const (
	KindPayment        = "payment"
	KindDebtAdjustment = "debt_adjustment"
)

type Payment struct {
	ID        ID              `json:"id"`
	From      MemberID        `json:"from_member"`
	To        MemberID        `json:"to_member"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Kind      string          `json:"kind,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// BalanceEntry is one line of a member's debts or credits. The counterpart is
// identified by id when the ledger sends one and by display name otherwise.
type BalanceEntry struct {
	To     string          `json:"to,omitempty"`
	ToID   MemberID        `json:"to_id,omitempty"`
	From   string          `json:"from,omitempty"`
	FromID MemberID        `json:"from_id,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

// BalanceRecord is one element of GET /families/{id}/balances.
type BalanceRecord struct {
	MemberID   MemberID        `json:"member_id"`
	Name       string          `json:"name"`
	NetBalance decimal.Decimal `json:"net_balance"`
	TotalOwed  decimal.Decimal `json:"total_owed"`
	TotalDebt  decimal.Decimal `json:"total_debt"`
	Debts      []BalanceEntry  `json:"debts"`
	Credits    []BalanceEntry  `json:"credits"`
}

type NewMember struct {
	Name       string `json:"name"`
	TelegramID string `json:"telegram_id"`
}

type NewFamily struct {
	Name    string      `json:"name"`
	Members []NewMember `json:"members"`
}

// NewExpense is the POST /expenses body. A nil SplitAmong is sent as null,
// which the ledger resolves to every member at settlement time.
type NewExpense struct {
	Description string     `json:"description"`
	Amount      float64    `json:"amount"`
	PaidBy      MemberID   `json:"paid_by"`
	FamilyID    ID         `json:"family_id"`
	SplitAmong  []MemberID `json:"split_among"`
}

type ExpenseUpdate struct {
	Amount float64 `json:"amount"`
}

type NewPayment struct {
	From   MemberID `json:"from_member"`
	To     MemberID `json:"to_member"`
	Amount float64  `json:"amount"`
}

type StatusUpdate struct {
	Status string `json:"status"`
}

package flow

import (
	"sync"
	"time"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/metrics"
	"github.com/alexmontesino96/familybot/internal/split"
	"github.com/shopspring/decimal"
)

// Session is the private state of one chat user. Its mutex serializes the
// user's steps; different sessions never share state.
type Session struct {
	mu sync.Mutex

	user   User
	member *ledger.Member
	names  map[ledger.MemberID]string
	state  flowState

	lastSeen time.Time
}

func (s *Session) caller() ledger.Caller { return ledger.Caller(s.user.Identity) }

func (s *Session) me() ledger.MemberID {
	if s.member == nil {
		return ""
	}
	return s.member.ID
}

func (s *Session) rememberNames(members []ledger.Member) {
	if s.names == nil {
		s.names = make(map[ledger.MemberID]string, len(members))
	}
	for _, m := range members {
		s.names[m.ID] = m.Name
	}
}

func (s *Session) nameOf(id ledger.MemberID) string {
	if n, ok := s.names[id]; ok && n != "" {
		return n
	}
	return "Usuario " + id.String()
}

// flowState is implemented by one struct per flow. It exists from flow entry
// to flow exit only.
type flowState interface {
	flowName() string
}

type expenseStep int

const (
	expenseDescription expenseStep = iota
	expenseAmount
	expenseSplit
	expenseConfirm
)

type ExpenseFlowState struct {
	step        expenseStep
	Description string
	Amount      decimal.Decimal
	Selection   split.Selection
	Members     []ledger.Member
}

func (*ExpenseFlowState) flowName() string { return "expense" }

type paymentStep int

const (
	paymentRecipient paymentStep = iota
	paymentAmount
	paymentConfirm
)

type PaymentFlowState struct {
	step   paymentStep
	To     ledger.MemberID
	ToName string
	// KnownDebt is the debt read when the recipient was picked. It drives
	// the prompt only.
	KnownDebt decimal.Decimal
	Amount    decimal.Decimal
}

func (*PaymentFlowState) flowName() string { return "payment" }

type adjustmentStep int

const (
	adjustmentDebtor adjustmentStep = iota
	adjustmentAmount
	adjustmentConfirm
)

type AdjustmentFlowState struct {
	step        adjustmentStep
	Debtor      ledger.MemberID
	DebtorName  string
	Outstanding decimal.Decimal
	Amount      decimal.Decimal
}

func (*AdjustmentFlowState) flowName() string { return "adjustment" }

type editStep int

const (
	editAmount editStep = iota
	editConfirm
)

type EditExpenseFlowState struct {
	step    editStep
	Expense ledger.Expense
	Amount  decimal.Decimal
}

func (*EditExpenseFlowState) flowName() string { return "edit_expense" }

type familyStep int

const (
	familyName familyStep = iota
	familyCode
	familyConfirm
)

type FamilyFlowState struct {
	step     familyStep
	Join     bool
	Name     string
	FamilyID ledger.ID
}

func (f *FamilyFlowState) flowName() string {
	if f.Join {
		return "join_family"
	}
	return "create_family"
}

// sessions owns every Session, keyed by chat identity.
type sessions struct {
	mu    sync.Mutex
	byKey map[string]*Session
	now   func() time.Time
}

func newSessions() *sessions {
	return &sessions{byKey: make(map[string]*Session), now: time.Now}
}

func (ss *sessions) get(u User) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.byKey[u.Identity]
	if !ok {
		s = &Session{user: u}
		ss.byKey[u.Identity] = s
		metrics.ActiveSessions.Set(float64(len(ss.byKey)))
	}
	s.lastSeen = ss.now()
	return s
}

// reap drops sessions idle for longer than idle, abandoning any flow they
// hold, and returns how many were dropped. Busy sessions are skipped.
func (ss *sessions) reap(idle time.Duration) int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	cutoff := ss.now().Add(-idle)
	n := 0
	for k, s := range ss.byKey {
		if !s.mu.TryLock() {
			continue
		}
		if s.lastSeen.Before(cutoff) {
			if s.state != nil {
				metrics.FlowsEnded.WithLabelValues(s.state.flowName(), "expired").Inc()
			}
			delete(ss.byKey, k)
			n++
		}
		s.mu.Unlock()
	}
	metrics.ActiveSessions.Set(float64(len(ss.byKey)))
	return n
}

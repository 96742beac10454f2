// Package balance turns the ledger's per-member balance report into a netted
// lookup structure keyed by member and by directed pair.
package balance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/shopspring/decimal"
)

// Entry is one side of a debt: who the counterpart is and how much.
type Entry struct {
	Counterpart ledger.MemberID `json:"member_id"`
	Name        string          `json:"name"`
	Amount      decimal.Decimal `json:"amount"`
}

// Balance is the derived view of one member. Net = TotalOwed - TotalDebt.
type Balance struct {
	Member    ledger.MemberID `json:"member_id"`
	Name      string          `json:"name"`
	Net       decimal.Decimal `json:"net_balance"`
	TotalOwed decimal.Decimal `json:"total_owed"`
	TotalDebt decimal.Decimal `json:"total_debt"`
	Debts     []Entry         `json:"debts"`   // what Member owes, largest first
	Credits   []Entry         `json:"credits"` // what others owe Member, largest first
}

// Malformed describes a record or entry that Build dropped.
type Malformed struct {
	Record int             `json:"record"`
	Member ledger.MemberID `json:"member_id,omitempty"`
	Reason string          `json:"reason"`
}

func (m Malformed) String() string {
	if m.Member.IsZero() {
		return fmt.Sprintf("record %d: %s", m.Record, m.Reason)
	}
	return fmt.Sprintf("record %d (member %s): %s", m.Record, m.Member, m.Reason)
}

type pair struct{ from, to ledger.MemberID }

// Model is immutable once built.
type Model struct {
	members []ledger.MemberID
	names   map[ledger.MemberID]string
	owes    map[pair]decimal.Decimal // netted, only positive amounts
}

// Build derives the model from a GET /families/{id}/balances answer. Records
// without member_id and entries with amount <= 0 or an unknown counterpart are
// dropped and reported; Build never fails.
//
// A directed amount "a owes b" is read from a's debts and falls back to b's
// credits when a's record does not list it. Opposite directions are netted.
func Build(records []ledger.BalanceRecord) (*Model, []Malformed) {
	var bad []Malformed
	m := &Model{
		names: make(map[ledger.MemberID]string),
		owes:  make(map[pair]decimal.Decimal),
	}

	byName := make(map[string]ledger.MemberID)
	ambiguous := make(map[string]bool)
	valid := make([]int, 0, len(records))
	for i, rec := range records {
		if rec.MemberID.IsZero() {
			bad = append(bad, Malformed{Record: i, Reason: "missing member_id"})
			continue
		}
		if _, dup := m.names[rec.MemberID]; dup {
			bad = append(bad, Malformed{Record: i, Member: rec.MemberID, Reason: "duplicate member_id"})
			continue
		}
		valid = append(valid, i)
		m.names[rec.MemberID] = rec.Name
		m.members = append(m.members, rec.MemberID)
		key := nameKey(rec.Name)
		if key == "" {
			continue
		}
		if prev, ok := byName[key]; ok && prev != rec.MemberID {
			ambiguous[key] = true
		}
		byName[key] = rec.MemberID
	}
	sort.Slice(m.members, func(i, j int) bool { return m.members[i].Less(m.members[j]) })

	resolve := func(id ledger.MemberID, name string) (ledger.MemberID, bool) {
		if !id.IsZero() {
			return id, true
		}
		key := nameKey(name)
		if key == "" || ambiguous[key] {
			return "", false
		}
		if found, ok := byName[key]; ok {
			return found, true
		}
		// Some ledgers put the id in the name slot.
		if parsed, err := ledger.ParseMemberID(name); err == nil {
			if _, known := m.names[parsed]; known {
				return parsed, true
			}
		}
		return "", false
	}

	debtorSide := make(map[pair]decimal.Decimal)
	creditorSide := make(map[pair]decimal.Decimal)
	for _, i := range valid {
		rec := records[i]
		for _, e := range rec.Debts {
			cp, ok := resolve(e.ToID, e.To)
			if reason := entryProblem(rec.MemberID, cp, ok, e.Amount); reason != "" {
				bad = append(bad, Malformed{Record: i, Member: rec.MemberID, Reason: "debt " + reason})
				continue
			}
			k := pair{rec.MemberID, cp}
			debtorSide[k] = debtorSide[k].Add(e.Amount)
		}
		for _, e := range rec.Credits {
			cp, ok := resolve(e.FromID, e.From)
			if reason := entryProblem(rec.MemberID, cp, ok, e.Amount); reason != "" {
				bad = append(bad, Malformed{Record: i, Member: rec.MemberID, Reason: "credit " + reason})
				continue
			}
			k := pair{cp, rec.MemberID}
			creditorSide[k] = creditorSide[k].Add(e.Amount)
		}
	}

	directed := make(map[pair]decimal.Decimal, len(debtorSide)+len(creditorSide))
	for k, v := range creditorSide {
		directed[k] = v
	}
	for k, v := range debtorSide {
		directed[k] = v
	}

	for k, v := range directed {
		back := pair{k.to, k.from}
		d := v.Sub(directed[back])
		switch {
		case d.IsPositive():
			m.owes[k] = d
		case d.IsNegative():
			m.owes[back] = d.Neg()
		}
	}

	return m, bad
}

func entryProblem(self, cp ledger.MemberID, resolved bool, amount decimal.Decimal) string {
	switch {
	case !resolved:
		return "with unknown counterpart"
	case cp == self:
		return "with itself"
	case !amount.IsPositive():
		return "with non-positive amount"
	}
	return ""
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Members lists every member with a record, ordered by id.
func (m *Model) Members() []ledger.MemberID {
	return append([]ledger.MemberID(nil), m.members...)
}

// Name returns the display name the ledger reported for id.
func (m *Model) Name(id ledger.MemberID) string {
	if n := m.names[id]; n != "" {
		return n
	}
	return id.String()
}

// Owes reports how much a owes b after netting; zero when b owes a.
func (m *Model) Owes(a, b ledger.MemberID) decimal.Decimal {
	if v, ok := m.owes[pair{a, b}]; ok {
		return v
	}
	return decimal.Zero
}

func (m *Model) DebtsOf(id ledger.MemberID) []Entry {
	var out []Entry
	for k, v := range m.owes {
		if k.from == id {
			out = append(out, Entry{Counterpart: k.to, Name: m.Name(k.to), Amount: v})
		}
	}
	sortEntries(out)
	return out
}

// CreditsOf lists what others owe id, largest first, ties by counterpart id.
func (m *Model) CreditsOf(id ledger.MemberID) []Entry {
	var out []Entry
	for k, v := range m.owes {
		if k.to == id {
			out = append(out, Entry{Counterpart: k.from, Name: m.Name(k.from), Amount: v})
		}
	}
	sortEntries(out)
	return out
}

func (m *Model) LargestCredit(id ledger.MemberID) (Entry, bool) {
	credits := m.CreditsOf(id)
	if len(credits) == 0 {
		return Entry{}, false
	}
	return credits[0], true
}

// Balance returns the derived balance of id; ok is false for unknown members.
func (m *Model) Balance(id ledger.MemberID) (Balance, bool) {
	if _, ok := m.names[id]; !ok {
		return Balance{}, false
	}
	b := Balance{
		Member:    id,
		Name:      m.Name(id),
		Debts:     m.DebtsOf(id),
		Credits:   m.CreditsOf(id),
		TotalOwed: decimal.Zero,
		TotalDebt: decimal.Zero,
	}
	for _, e := range b.Credits {
		b.TotalOwed = b.TotalOwed.Add(e.Amount)
	}
	for _, e := range b.Debts {
		b.TotalDebt = b.TotalDebt.Add(e.Amount)
	}
	b.Net = b.TotalOwed.Sub(b.TotalDebt)
	return b, true
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if c := es[i].Amount.Cmp(es[j].Amount); c != 0 {
			return c > 0
		}
		return es[i].Counterpart.Less(es[j].Counterpart)
	})
}

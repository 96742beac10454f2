// Package split decides who takes part in a new expense.
//
// This is a set-membership split: every participant carries an equal share
// and the ledger divides the amount. Weighted or percentage splits are not
// supported.
package split

import (
	"sort"

	"github.com/alexmontesino96/familybot/internal/ledger"
)

// Selection is what the user picked on the split prompt.
type Selection struct {
	All     bool
	Members map[ledger.MemberID]bool
}

// Everyone selects "split among all".
func Everyone() Selection {
	return Selection{All: true}
}

// Only selects an explicit set of members.
func Only(ids ...ledger.MemberID) Selection {
	s := Selection{Members: make(map[ledger.MemberID]bool, len(ids))}
	for _, id := range ids {
		s.Members[id] = true
	}
	return s
}

// Toggle flips one member in an explicit selection and leaves "all" mode.
func (s *Selection) Toggle(id ledger.MemberID) {
	if s.Members == nil {
		s.Members = make(map[ledger.MemberID]bool)
	}
	s.All = false
	if s.Members[id] {
		delete(s.Members, id)
		return
	}
	s.Members[id] = true
}

func (s Selection) Has(id ledger.MemberID) bool {
	return s.All || s.Members[id]
}

// Resolve produces the split_among value to submit. "All" yields nil, which
// the ledger resolves against the family's members when balances are
// computed. An explicit selection always contains the payer, even when the
// user deselected everyone.
func Resolve(payer ledger.MemberID, sel Selection) []ledger.MemberID {
	if sel.All {
		return nil
	}
	out := make([]ledger.MemberID, 0, len(sel.Members)+1)
	out = append(out, payer)
	for id, on := range sel.Members {
		if on && id != payer && !id.IsZero() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

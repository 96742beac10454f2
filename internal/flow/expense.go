package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/money"
	"github.com/alexmontesino96/familybot/internal/split"
)

const maxDescription = 200

func (e *Engine) startExpense(_ context.Context, s *Session) []Reply {
	e.begin(s, &ExpenseFlowState{step: expenseDescription, Selection: split.Everyone()})
	return []Reply{prompt(msgAskDescription)}
}

func (e *Engine) expenseStep(ctx context.Context, s *Session, st *ExpenseFlowState, txt string, act Action, hasAction bool) []Reply {
	switch st.step {
	case expenseDescription:
		if hasAction {
			return unexpected(true)
		}
		desc := strings.TrimSpace(txt)
		if desc == "" || utf8.RuneCountInString(desc) > maxDescription {
			return []Reply{prompt(msgBadDescription)}
		}
		st.Description = desc
		st.step = expenseAmount
		return []Reply{prompt("💰 ¿Cuánto costó «" + desc + "»?")}

	case expenseAmount:
		if hasAction {
			return unexpected(true)
		}
		amount, err := money.Parse(txt)
		if err != nil {
			return []Reply{prompt(amountHint(err))}
		}
		st.Amount = amount

		f, err := e.family(ctx, s)
		if err != nil {
			return e.failed(s, err)
		}
		st.Members = sortedMembers(f.Members)
		st.step = expenseSplit
		return []Reply{{Text: msgAskExpenseSplit, Keyboard: splitKeyboard(st.Members, st.Selection)}}

	case expenseSplit:
		if !hasAction {
			return unexpected(false)
		}
		switch act.Code {
		case CodeSplitAll:
			st.Selection = split.Everyone()
		case CodeSplitToggle:
			id, err := ledger.ParseMemberID(act.Arg)
			if err != nil || !hasMember(st.Members, id) {
				return []Reply{{Text: msgUnknownAction}}
			}
			if st.Selection.All {
				// leaving "all" starts from everyone checked
				st.Selection = split.Only(memberIDs(st.Members)...)
			}
			st.Selection.Toggle(id)
		case CodeSplitDone:
			st.step = expenseConfirm
			return []Reply{{Text: expenseSummary(st, s.nameOf(s.me()), e.participantNames(s, st)), Keyboard: confirmKeyboard()}}
		default:
			return unexpected(true)
		}
		return []Reply{{Text: msgAskExpenseSplit, Keyboard: splitKeyboard(st.Members, st.Selection)}}

	case expenseConfirm:
		if !hasAction || act.Code != CodeConfirm {
			return unexpected(hasAction)
		}
		return e.submitExpense(ctx, s, st)
	}
	return unexpected(hasAction)
}

func (e *Engine) participantNames(s *Session, st *ExpenseFlowState) []string {
	ids := split.Resolve(s.me(), st.Selection)
	if ids == nil {
		return nil
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, s.nameOf(id))
	}
	return names
}

func (e *Engine) submitExpense(ctx context.Context, s *Session, st *ExpenseFlowState) []Reply {
	resp, err := e.ledger.CreateExpense(ctx, s.caller(), ledger.NewExpense{
		Description: st.Description,
		Amount:      st.Amount.InexactFloat64(),
		PaidBy:      s.me(),
		FamilyID:    s.member.FamilyID,
		SplitAmong:  split.Resolve(s.me(), st.Selection),
	})
	if err != nil {
		return e.failed(s, err)
	}
	if !resp.OK() {
		return e.failed(s, resp.Err())
	}
	e.end(s, "done")
	return []Reply{{Text: msgExpenseCreated}, mainMenu()}
}

// ─── Listing, editing, deleting ─────────────────────────────────────────────

const listedExpenses = 10

func (e *Engine) listExpenses(ctx context.Context, s *Session) []Reply {
	resp, err := e.ledger.GetFamilyExpenses(ctx, s.caller(), s.member.FamilyID)
	if err != nil {
		return e.failed(s, err)
	}
	if !resp.OK() {
		return e.failed(s, resp.Err())
	}
	var expenses []ledger.Expense
	if err := resp.Decode(&expenses); err != nil {
		return e.failed(s, err)
	}
	if len(expenses) == 0 {
		return []Reply{{Text: msgNoExpenses}, mainMenu()}
	}
	if _, err := e.family(ctx, s); err != nil {
		return e.failed(s, err)
	}

	// newest first
	sort.SliceStable(expenses, func(i, j int) bool { return expenses[i].CreatedAt.After(expenses[j].CreatedAt) })
	if len(expenses) > listedExpenses {
		expenses = expenses[:listedExpenses]
	}

	var b strings.Builder
	b.WriteString("🧾 Últimos gastos:\n")
	rows := make([][]Button, 0, len(expenses)+1)
	for _, x := range expenses {
		fmt.Fprintf(&b, "• %s: %s (pagó %s)\n", x.Description, money.Format(x.Amount), s.nameOf(x.PaidBy))
		rows = append(rows, []Button{{Label: x.Description + " " + money.Format(x.Amount), Action: DoWith(CodeExpensePick, x.ID.String())}})
	}
	rows = append(rows, []Button{{Label: "⬅️ Menú", Action: Do(CodeMenu)}})
	return []Reply{{Text: strings.TrimRight(b.String(), "\n"), Keyboard: rows}}
}

// findExpense reads the family's expenses and returns the one with id.
func (e *Engine) findExpense(ctx context.Context, s *Session, id ledger.ID) (*ledger.Expense, []Reply) {
	resp, err := e.ledger.GetFamilyExpenses(ctx, s.caller(), s.member.FamilyID)
	if err != nil {
		return nil, e.failed(s, err)
	}
	if !resp.OK() {
		return nil, e.failed(s, resp.Err())
	}
	var expenses []ledger.Expense
	if err := resp.Decode(&expenses); err != nil {
		return nil, e.failed(s, err)
	}
	for i := range expenses {
		if expenses[i].ID == id {
			return &expenses[i], nil
		}
	}
	return nil, []Reply{{Text: "⚠️ Ese gasto ya no existe."}, mainMenu()}
}

func (e *Engine) showExpense(ctx context.Context, s *Session, id ledger.ID) []Reply {
	x, r := e.findExpense(ctx, s, id)
	if x == nil {
		return r
	}
	if _, err := e.family(ctx, s); err != nil {
		return e.failed(s, err)
	}
	among := "todos los miembros"
	if x.SplitAmong != nil {
		names := make([]string, 0, len(x.SplitAmong))
		for _, m := range x.SplitAmong {
			names = append(names, s.nameOf(m))
		}
		among = strings.Join(names, ", ")
	}
	txt := fmt.Sprintf("🧾 %s\n• Monto: %s\n• Pagado por: %s\n• Dividido entre: %s",
		x.Description, money.Format(x.Amount), s.nameOf(x.PaidBy), among)
	return []Reply{{Text: txt, Keyboard: [][]Button{
		{{Label: "✏️ Editar monto", Action: DoWith(CodeExpenseEdit, x.ID.String())}, {Label: "🗑️ Eliminar", Action: DoWith(CodeExpenseDelete, x.ID.String())}},
		{{Label: "⬅️ Menú", Action: Do(CodeMenu)}},
	}}}
}

func (e *Engine) startEdit(ctx context.Context, s *Session, id ledger.ID) []Reply {
	x, r := e.findExpense(ctx, s, id)
	if x == nil {
		return r
	}
	e.begin(s, &EditExpenseFlowState{step: editAmount, Expense: *x})
	return []Reply{prompt(fmt.Sprintf("✏️ Monto actual de «%s»: %s. Escribe el nuevo monto:", x.Description, money.Format(x.Amount)))}
}

func (e *Engine) editStep(ctx context.Context, s *Session, st *EditExpenseFlowState, txt string, act Action, hasAction bool) []Reply {
	switch st.step {
	case editAmount:
		if hasAction {
			return unexpected(true)
		}
		amount, err := money.Parse(txt)
		if err != nil {
			return []Reply{prompt(amountHint(err))}
		}
		st.Amount = amount
		st.step = editConfirm
		return []Reply{{
			Text:     fmt.Sprintf("¿Cambiar «%s» de %s a %s?", st.Expense.Description, money.Format(st.Expense.Amount), money.Format(amount)),
			Keyboard: confirmKeyboard(),
		}}
	case editConfirm:
		if !hasAction || act.Code != CodeConfirm {
			return unexpected(hasAction)
		}
		resp, err := e.ledger.UpdateExpense(ctx, s.caller(), st.Expense.ID, ledger.ExpenseUpdate{Amount: st.Amount.InexactFloat64()})
		if err != nil {
			return e.failed(s, err)
		}
		if !resp.OK() {
			return e.failed(s, resp.Err())
		}
		amount := st.Amount
		e.end(s, "done")
		return []Reply{text(msgExpenseEdited, money.Format(amount)), mainMenu()}
	}
	return unexpected(hasAction)
}

func (e *Engine) askDelete(ctx context.Context, s *Session, id ledger.ID) []Reply {
	x, r := e.findExpense(ctx, s, id)
	if x == nil {
		return r
	}
	return []Reply{{
		Text: fmt.Sprintf("¿Eliminar «%s» (%s)? Esta acción no se puede deshacer.", x.Description, money.Format(x.Amount)),
		Keyboard: [][]Button{{
			{Label: "🗑️ Eliminar", Action: DoWith(CodeExpenseDeleteConfirm, x.ID.String())},
			{Label: "⬅️ Menú", Action: Do(CodeMenu)},
		}},
	}}
}

func (e *Engine) deleteExpense(ctx context.Context, s *Session, id ledger.ID) []Reply {
	resp, err := e.ledger.DeleteExpense(ctx, s.caller(), id)
	if err != nil {
		return e.failed(s, err)
	}
	if !resp.OK() {
		var apiErr *ledger.APIError
		if errors.As(resp.Err(), &apiErr) && apiErr.NotFound() {
			return []Reply{{Text: "⚠️ Ese gasto ya no existe."}, mainMenu()}
		}
		return e.failed(s, resp.Err())
	}
	return []Reply{{Text: msgExpenseGone}, mainMenu()}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func amountHint(err error) string {
	if errors.Is(err, money.ErrNotPositive) {
		return "El monto debe ser mayor que cero. Inténtalo de nuevo:"
	}
	return "No entendí ese monto. Escribe solo el número, por ejemplo 25.50 o 25,50:"
}

func sortedMembers(ms []ledger.Member) []ledger.Member {
	out := append([]ledger.Member(nil), ms...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

func memberIDs(ms []ledger.Member) []ledger.MemberID {
	ids := make([]ledger.MemberID, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}

func hasMember(ms []ledger.Member, id ledger.MemberID) bool {
	for _, m := range ms {
		if m.ID == id {
			return true
		}
	}
	return false
}

package flow

import (
	"fmt"
	"strings"

	"github.com/alexmontesino96/familybot/internal/balance"
	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/money"
	"github.com/alexmontesino96/familybot/internal/split"
	"github.com/shopspring/decimal"
)

const (
	msgWelcome        = "👋 ¡Hola! ¿Qué quieres hacer?"
	msgNoFamily       = "👋 ¡Hola! Aún no perteneces a ninguna familia. Crea una o únete con el código que te compartan."
	msgUnavailable    = "⚠️ El servicio no está disponible en este momento. Inténtalo más tarde."
	msgApology        = "😕 Algo salió mal. Cancelé la operación en curso."
	msgCancelled      = "❌ Operación cancelada."
	msgNothingToDo    = "No hay ninguna operación en curso."
	msgUnknownAction  = "No reconozco esa opción."
	msgFinishFirst    = "Tienes una operación en curso. Termínala o cancélala primero."
	msgUnexpectedText = "Usa los botones para continuar, o escribe /cancelar."
	msgUseMenu        = "Usa el menú para elegir una opción."
	msgAlreadyFamily  = "Ya perteneces a una familia."

	msgAskDescription  = "📝 Describe el gasto:"
	msgBadDescription  = "La descripción no puede estar vacía ni superar 200 caracteres. Inténtalo de nuevo:"
	msgAskExpenseSplit = "👥 ¿Entre quiénes se divide? Toca para marcar o desmarcar y luego Continuar."
	msgExpenseCreated  = "✅ Gasto registrado."

	msgNoOtherMembers = "No hay otros miembros en tu familia."
	msgAskPayee       = "💸 ¿A quién le pagas?"
	msgPaymentCreated = "✅ Pago registrado. Queda pendiente hasta que %s lo confirme."

	msgNoCredits       = "Nadie te debe dinero en este momento."
	msgAskDebtor       = "✂️ ¿A quién le quieres ajustar la deuda?"
	msgAdjustmentDone  = "✅ Deuda ajustada. %s ahora te debe %s."
	msgAdjustmentClear = "✅ Deuda ajustada. %s ya no te debe nada."

	msgNoPending      = "No tienes pagos pendientes por confirmar."
	msgPaymentOK      = "✅ Pago de %s confirmado."
	msgPaymentRejectd = "❌ Pago de %s rechazado."

	msgNoExpenses    = "Tu familia aún no tiene gastos."
	msgExpenseEdited = "✅ Monto actualizado a %s."
	msgExpenseGone   = "🗑️ Gasto eliminado."

	msgAskFamilyName = "🏠 ¿Cómo se llamará la familia?"
	msgBadFamilyName = "El nombre no puede estar vacío ni superar 100 caracteres. Inténtalo de nuevo:"
	msgAskFamilyCode = "🔑 Escribe el código de la familia a la que quieres unirte:"
	msgFamilyUnknown = "No encontré una familia con ese código. Revísalo e inténtalo de nuevo:"
	msgFamilyCreated = "🏠 Familia «%s» creada. Comparte este código para que se unan: %s"
	msgFamilyJoined  = "🏠 Te uniste a «%s»."

	msgWarnNotify = "⚠️ No pude avisarle a %s; puedes avisarle tú directamente."
)

var cancelRow = []Button{{Label: "❌ Cancelar", Action: Do(CodeCancel)}}

func confirmKeyboard() [][]Button {
	return [][]Button{{
		{Label: "✅ Confirmar", Action: Do(CodeConfirm)},
		{Label: "❌ Cancelar", Action: Do(CodeCancel)},
	}}
}

func mainMenu() Reply {
	return Reply{Text: msgWelcome, Keyboard: mainKeyboard()}
}

func mainKeyboard() [][]Button {
	return [][]Button{
		{{Label: "➕ Gasto", Action: Do(CodeExpense)}, {Label: "💸 Pago", Action: Do(CodePayment)}},
		{{Label: "📊 Balance", Action: Do(CodeBalance)}, {Label: "🧾 Gastos", Action: Do(CodeExpenses)}},
		{{Label: "⏳ Pendientes", Action: Do(CodePending)}, {Label: "✂️ Ajustar deuda", Action: Do(CodeAdjust)}},
	}
}

func familyMenu() Reply {
	return Reply{Text: msgNoFamily, Keyboard: [][]Button{
		{{Label: "🏠 Crear familia", Action: Do(CodeFamilyCreate)}},
		{{Label: "🔑 Unirme a una familia", Action: Do(CodeFamilyJoin)}},
	}}
}

func prompt(text string) Reply {
	return Reply{Text: text, Keyboard: [][]Button{cancelRow}}
}

func text(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

func splitKeyboard(members []ledger.Member, sel split.Selection) [][]Button {
	rows := make([][]Button, 0, len(members)+2)
	all := "⬜ Todos"
	if sel.All {
		all = "✅ Todos"
	}
	rows = append(rows, []Button{{Label: all, Action: Do(CodeSplitAll)}})
	for _, m := range members {
		mark := "⬜ "
		if sel.Has(m.ID) {
			mark = "✅ "
		}
		rows = append(rows, []Button{{Label: mark + m.Name, Action: DoWith(CodeSplitToggle, m.ID.String())}})
	}
	rows = append(rows, []Button{
		{Label: "➡️ Continuar", Action: Do(CodeSplitDone)},
		{Label: "❌ Cancelar", Action: Do(CodeCancel)},
	})
	return rows
}

func expenseSummary(st *ExpenseFlowState, payer string, participants []string) string {
	var b strings.Builder
	b.WriteString("🧾 Confirma el gasto:\n")
	fmt.Fprintf(&b, "• Descripción: %s\n", st.Description)
	fmt.Fprintf(&b, "• Monto: %s\n", money.Format(st.Amount))
	fmt.Fprintf(&b, "• Pagado por: %s\n", payer)
	if participants == nil {
		b.WriteString("• Dividido entre: todos los miembros")
	} else {
		fmt.Fprintf(&b, "• Dividido entre: %s", strings.Join(participants, ", "))
	}
	return b.String()
}

func balanceText(b balance.Balance, largest *balance.Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Balance de %s\n", b.Name)
	fmt.Fprintf(&sb, "Neto: %s\n", signed(b.Net))
	fmt.Fprintf(&sb, "Te deben: %s · Debes: %s\n", money.Format(b.TotalOwed), money.Format(b.TotalDebt))

	if len(b.Debts) > 0 {
		sb.WriteString("\nDebes a:\n")
		for _, e := range b.Debts {
			fmt.Fprintf(&sb, "• %s: %s\n", e.Name, money.Format(e.Amount))
		}
	}
	if len(b.Credits) > 0 {
		sb.WriteString("\nTe deben:\n")
		for _, e := range b.Credits {
			star := ""
			if largest != nil && e.Counterpart == largest.Counterpart {
				star = " ⭐"
			}
			fmt.Fprintf(&sb, "• %s: %s%s\n", e.Name, money.Format(e.Amount), star)
		}
	}
	if len(b.Debts) == 0 && len(b.Credits) == 0 {
		sb.WriteString("\nEstás al día con todos. 🎉")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + money.Format(d.Neg())
	}
	return money.Format(d)
}

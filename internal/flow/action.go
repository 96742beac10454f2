package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies what an interactive control does. Controls carry a Code
// and an optional argument; display labels are never inspected.
type Code string

const (
	CodeMenu     Code = "menu"
	CodeCancel   Code = "cancel"
	CodeConfirm  Code = "ok"
	CodeExpense  Code = "exp"
	CodePayment  Code = "pay"
	CodeAdjust   Code = "adj"
	CodeBalance  Code = "bal"
	CodeExpenses Code = "exps"
	CodePending  Code = "pend"

	CodeFamilyCreate Code = "fnew"
	CodeFamilyJoin   Code = "fjoin"

	CodeSplitAll    Code = "sall"
	CodeSplitToggle Code = "stog"
	CodeSplitDone   Code = "sok"

	CodePickMember Code = "mem"
	CodePayFull    Code = "full"
	CodePayExact   Code = "exact"

	CodePaymentConfirm Code = "pok"
	CodePaymentReject  Code = "prej"

	CodeExpensePick          Code = "epick"
	CodeExpenseEdit          Code = "eedit"
	CodeExpenseDelete        Code = "edel"
	CodeExpenseDeleteConfirm Code = "edelok"
)

// needsArg lists the codes that are meaningless without an argument.
var needsArg = map[Code]bool{
	CodeSplitToggle:          true,
	CodePickMember:           true,
	CodePayExact:             true,
	CodePaymentConfirm:       true,
	CodePaymentReject:        true,
	CodeExpensePick:          true,
	CodeExpenseEdit:          true,
	CodeExpenseDelete:        true,
	CodeExpenseDeleteConfirm: true,
}

type Action struct {
	Code Code
	Arg  string
}

func Do(code Code) Action { return Action{Code: code} }

func DoWith(code Code, arg string) Action { return Action{Code: code, Arg: arg} }

// Encode renders the action as "<code>" or "<code>:<arg>". Telegram limits
// callback data to 64 bytes; every argument here is an id or an amount.
func (a Action) Encode() string {
	if a.Arg == "" {
		return string(a.Code)
	}
	return string(a.Code) + ":" + a.Arg
}

var ErrUnknownAction = errors.New("unknown action")

// ParseAction decodes callback data produced by Encode.
func ParseAction(data string) (Action, error) {
	code, arg, _ := strings.Cut(strings.TrimSpace(data), ":")
	a := Action{Code: Code(code), Arg: arg}

	switch a.Code {
	case CodeMenu, CodeCancel, CodeConfirm,
		CodeExpense, CodePayment, CodeAdjust, CodeBalance, CodeExpenses, CodePending,
		CodeFamilyCreate, CodeFamilyJoin,
		CodeSplitAll, CodeSplitToggle, CodeSplitDone,
		CodePickMember, CodePayFull, CodePayExact,
		CodePaymentConfirm, CodePaymentReject,
		CodeExpensePick, CodeExpenseEdit, CodeExpenseDelete, CodeExpenseDeleteConfirm:
	default:
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, data)
	}
	if needsArg[a.Code] && a.Arg == "" {
		return Action{}, fmt.Errorf("%w: %q needs an argument", ErrUnknownAction, data)
	}
	return a, nil
}

// Button is one interactive control.
type Button struct {
	Label  string
	Action Action
}

// Reply is one outbound message. Keyboard rows are rendered top to bottom.
type Reply struct {
	Text     string
	Keyboard [][]Button
}

// User is the chat identity behind an update.
type User struct {
	// Identity is sent to the ledger as telegram_id. See notify.Route.
	Identity string
	Name     string
}

// Input is one inbound update: either free text or a pressed control.
type Input struct {
	User User
	Text string
	// Data is the raw callback data of a pressed control, empty for text.
	Data string
}

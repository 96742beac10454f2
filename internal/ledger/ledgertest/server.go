// Package ledgertest runs an in-process ledger with the same endpoints and
// equal-split balance semantics as the real one. Tests point a ledger.Client
// at Server.URL.
package ledgertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type Server struct {
	URL string

	srv *httptest.Server

	mu       sync.Mutex
	nextID   int
	members  map[ledger.MemberID]*ledger.Member
	families map[ledger.ID]*ledger.Family
	expenses map[ledger.ID]*ledger.Expense
	payments map[ledger.ID]*ledger.Payment
	order    []ledger.ID // payment creation order
	failures []failure
	requests []string
}

type failure struct {
	prefix string
	status int
	detail string
}

func NewServer() *Server {
	s := &Server{
		members:  make(map[ledger.MemberID]*ledger.Member),
		families: make(map[ledger.ID]*ledger.Family),
		expenses: make(map[ledger.ID]*ledger.Expense),
		payments: make(map[ledger.ID]*ledger.Payment),
	}

	r := mux.NewRouter()
	r.Use(s.record)
	r.HandleFunc("/members", s.handleCreateMember).Methods("POST")
	r.HandleFunc("/members/telegram/{telegram_id}", s.handleMemberByTelegram).Methods("GET")
	r.HandleFunc("/members/{id}", s.handleGetMember).Methods("GET")
	r.HandleFunc("/families", s.handleCreateFamily).Methods("POST")
	r.HandleFunc("/families/{id}", s.handleGetFamily).Methods("GET")
	r.HandleFunc("/families/{id}/members", s.handleJoinFamily).Methods("POST")
	r.HandleFunc("/families/{id}/balances", s.handleBalances).Methods("GET")
	r.HandleFunc("/families/{id}/expenses", s.handleListExpenses).Methods("GET")
	r.HandleFunc("/families/{id}/payments", s.handleListPayments).Methods("GET")
	r.HandleFunc("/expenses", s.handleCreateExpense).Methods("POST")
	r.HandleFunc("/expenses/{id}", s.handleUpdateExpense).Methods("PUT")
	r.HandleFunc("/expenses/{id}", s.handleDeleteExpense).Methods("DELETE")
	r.HandleFunc("/payments", s.handleCreatePayment).Methods("POST")
	r.HandleFunc("/payments/debt-adjustment/", s.handleDebtAdjustment).Methods("POST")
	r.HandleFunc("/payments/{id}", s.handleGetPayment).Methods("GET")
	r.HandleFunc("/payments/{id}/status", s.handleUpdateStatus).Methods("PATCH")

	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL
	return s
}

func (s *Server) Close() { s.srv.Close() }

// Client returns a ledger client bound to this server.
func (s *Server) Client() *ledger.Client {
	return ledger.New(ledger.Options{BaseURL: s.URL, Timeout: 5 * time.Second})
}

// FailNext makes the next request whose "METHOD /path" starts with prefix
// answer with status and detail instead of being served.
func (s *Server) FailNext(prefix string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{prefix: prefix, status: status, detail: detail})
}

// Requests lists "METHOD /path?query" of every request served so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// ─── Seeding ────────────────────────────────────────────────────────────────

// AddFamily creates a family whose members have the given display names.
// Member telegram ids are "tg-<name>".
func (s *Server) AddFamily(name string, memberNames ...string) *ledger.Family {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &ledger.Family{ID: s.newID(), Name: name}
	s.families[f.ID] = f
	for _, n := range memberNames {
		s.addMemberLocked(f, ledger.NewMember{Name: n, TelegramID: "tg-" + n})
	}
	return copyFamily(f)
}

// AddExpense records an expense directly. A nil splitAmong means everyone.
func (s *Server) AddExpense(familyID ledger.ID, paidBy ledger.MemberID, amount string, splitAmong []ledger.MemberID) *ledger.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &ledger.Expense{
		ID:          s.newID(),
		Description: "seed",
		Amount:      decimal.RequireFromString(amount),
		PaidBy:      paidBy,
		FamilyID:    familyID,
		SplitAmong:  splitAmong,
		CreatedAt:   time.Now(),
	}
	s.expenses[e.ID] = e
	out := *e
	return &out
}

// AddPayment records a payment directly with the given status.
func (s *Server) AddPayment(from, to ledger.MemberID, amount, status string) *ledger.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &ledger.Payment{
		ID:        s.newID(),
		From:      from,
		To:        to,
		Amount:    decimal.RequireFromString(amount),
		Status:    status,
		Kind:      ledger.KindPayment,
		CreatedAt: time.Now(),
	}
	s.payments[p.ID] = p
	s.order = append(s.order, p.ID)
	out := *p
	return &out
}

// Payment returns the stored payment.
func (s *Server) Payment(id ledger.ID) (ledger.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return ledger.Payment{}, false
	}
	return *p, true
}

// Payments returns every stored payment in creation order.
func (s *Server) Payments() []ledger.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Payment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.payments[id])
	}
	return out
}

// Expenses returns every stored expense ordered by id.
func (s *Server) Expenses() []ledger.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Expense, 0, len(s.expenses))
	for _, e := range s.expenses {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

// Owes reports the netted amount a owes b in family familyID.
func (s *Server) Owes(familyID ledger.ID, a, b ledger.MemberID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owesLocked(familyID)[pair{a, b}]
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		line := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.requests = append(s.requests, line+"?"+r.URL.RawQuery)
		for i, f := range s.failures {
			if strings.HasPrefix(line, f.prefix) {
				s.failures = append(s.failures[:i], s.failures[i+1:]...)
				s.mu.Unlock()
				writeDetail(w, f.status, f.detail)
				return
			}
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req ledger.NewMember
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "nombre requerido")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.addMemberLocked(nil, req)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseMemberID(mux.Vars(r)["id"])
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "id inválido")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Miembro no encontrado")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMemberByTelegram(w http.ResponseWriter, r *http.Request) {
	tid := mux.Vars(r)["telegram_id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if string(m.TelegramID) == tid {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Miembro no encontrado")
}

func (s *Server) handleCreateFamily(w http.ResponseWriter, r *http.Request) {
	var req ledger.NewFamily
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "nombre de familia requerido")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &ledger.Family{ID: s.newID(), Name: req.Name}
	s.families[f.ID] = f
	for _, m := range req.Members {
		s.addMemberLocked(f, m)
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleGetFamily(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[ledger.ID(mux.Vars(r)["id"])]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Familia no encontrada")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleJoinFamily(w http.ResponseWriter, r *http.Request) {
	var req ledger.NewMember
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "nombre requerido")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[ledger.ID(mux.Vars(r)["id"])]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Familia no encontrada")
		return
	}
	m := s.addMemberLocked(f, req)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[ledger.ID(mux.Vars(r)["id"])]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Familia no encontrada")
		return
	}
	if tid := r.URL.Query().Get("telegram_id"); tid != "" && !isMember(f, tid) {
		writeDetail(w, http.StatusForbidden, "No perteneces a esta familia")
		return
	}
	owes := s.owesLocked(f.ID)

	records := make([]ledger.BalanceRecord, 0, len(f.Members))
	for _, m := range f.Members {
		rec := ledger.BalanceRecord{MemberID: m.ID, Name: m.Name}
		for _, other := range f.Members {
			if amt := owes[pair{m.ID, other.ID}]; amt.IsPositive() {
				rec.Debts = append(rec.Debts, ledger.BalanceEntry{To: other.Name, ToID: other.ID, Amount: amt})
				rec.TotalDebt = rec.TotalDebt.Add(amt)
			}
			if amt := owes[pair{other.ID, m.ID}]; amt.IsPositive() {
				rec.Credits = append(rec.Credits, ledger.BalanceEntry{From: other.Name, FromID: other.ID, Amount: amt})
				rec.TotalOwed = rec.TotalOwed.Add(amt)
			}
		}
		rec.NetBalance = rec.TotalOwed.Sub(rec.TotalDebt)
		records = append(records, rec)
	}
	writeJSON(w, http.StatusOK, records)
}

func isMember(f *ledger.Family, telegramID string) bool {
	for _, m := range f.Members {
		if string(m.TelegramID) == telegramID {
			return true
		}
	}
	return false
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fid := ledger.ID(mux.Vars(r)["id"])
	if _, ok := s.families[fid]; !ok {
		writeDetail(w, http.StatusNotFound, "Familia no encontrada")
		return
	}
	out := []ledger.Expense{}
	for _, e := range s.expenses {
		if e.FamilyID == fid {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[ledger.ID(mux.Vars(r)["id"])]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Familia no encontrada")
		return
	}
	out := []ledger.Payment{}
	for _, id := range s.order {
		p := s.payments[id]
		if memberOf(f, p.From) {
			out = append(out, *p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req ledger.NewExpense
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "cuerpo inválido")
		return
	}
	if req.Amount <= 0 {
		writeDetail(w, http.StatusBadRequest, "El monto debe ser mayor que cero")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[req.FamilyID]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Familia no encontrada")
		return
	}
	if !memberOf(f, req.PaidBy) {
		writeDetail(w, http.StatusBadRequest, "El pagador no pertenece a la familia")
		return
	}
	if req.SplitAmong != nil && !containsMember(req.SplitAmong, req.PaidBy) {
		writeDetail(w, http.StatusBadRequest, "El pagador debe participar en el gasto")
		return
	}
	e := &ledger.Expense{
		ID:          s.newID(),
		Description: req.Description,
		Amount:      decimal.NewFromFloat(req.Amount).Round(2),
		PaidBy:      req.PaidBy,
		FamilyID:    req.FamilyID,
		SplitAmong:  req.SplitAmong,
		CreatedAt:   time.Now(),
	}
	s.expenses[e.ID] = e
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req ledger.ExpenseUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeDetail(w, http.StatusBadRequest, "El monto debe ser mayor que cero")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[ledger.ID(mux.Vars(r)["id"])]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Gasto no encontrado")
		return
	}
	e.Amount = decimal.NewFromFloat(req.Amount).Round(2)
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ledger.ID(mux.Vars(r)["id"])
	if _, ok := s.expenses[id]; !ok {
		writeDetail(w, http.StatusNotFound, "Gasto no encontrado")
		return
	}
	delete(s.expenses, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ledger.ID(mux.Vars(r)["id"])]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Pago no encontrado")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	s.createPayment(w, r, ledger.KindPayment, ledger.StatusPending)
}

func (s *Server) handleDebtAdjustment(w http.ResponseWriter, r *http.Request) {
	s.createPayment(w, r, ledger.KindDebtAdjustment, ledger.StatusConfirm)
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request, kind, status string) {
	var req ledger.NewPayment
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "cuerpo inválido")
		return
	}
	if req.From == req.To {
		writeDetail(w, http.StatusBadRequest, "No puedes registrar un pago a ti mismo")
		return
	}
	amount := decimal.NewFromFloat(req.Amount).Round(2)
	if !amount.IsPositive() {
		writeDetail(w, http.StatusBadRequest, "El monto debe ser mayor que cero")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	from, ok := s.members[req.From]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Miembro no encontrado")
		return
	}
	if _, ok := s.members[req.To]; !ok {
		writeDetail(w, http.StatusNotFound, "Miembro no encontrado")
		return
	}
	debt := s.owesLocked(from.FamilyID)[pair{req.From, req.To}]
	if amount.GreaterThan(debt) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf(
			"El monto del pago ($%s) excede la deuda actual ($%s)", amount.StringFixed(2), debt.StringFixed(2)))
		return
	}

	p := &ledger.Payment{
		ID:        s.newID(),
		From:      req.From,
		To:        req.To,
		Amount:    amount,
		Status:    status,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
	s.payments[p.ID] = p
	s.order = append(s.order, p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req ledger.StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "cuerpo inválido")
		return
	}
	if req.Status != ledger.StatusConfirm && req.Status != ledger.StatusReject {
		writeDetail(w, http.StatusBadRequest, "Estado inválido")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ledger.ID(mux.Vars(r)["id"])]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Pago no encontrado")
		return
	}
	to := s.members[p.To]
	if to == nil || string(to.TelegramID) != r.URL.Query().Get("telegram_id") {
		writeDetail(w, http.StatusForbidden, "Solo el destinatario puede cambiar el estado del pago")
		return
	}
	if p.Status != ledger.StatusPending {
		writeDetail(w, http.StatusConflict, "El pago ya está en estado "+p.Status)
		return
	}
	p.Status = req.Status
	writeJSON(w, http.StatusOK, p)
}

// ─── Ledger semantics ───────────────────────────────────────────────────────

type pair struct{ from, to ledger.MemberID }

// owesLocked nets every expense and non-rejected payment of a family into
// directed debts. Pending payments count provisionally.
func (s *Server) owesLocked(familyID ledger.ID) map[pair]decimal.Decimal {
	f := s.families[familyID]
	raw := make(map[pair]decimal.Decimal)
	if f == nil {
		return raw
	}

	for _, e := range s.expenses {
		if e.FamilyID != familyID {
			continue
		}
		participants := e.SplitAmong
		if participants == nil {
			participants = make([]ledger.MemberID, 0, len(f.Members))
			for _, m := range f.Members {
				participants = append(participants, m.ID)
			}
		}
		if len(participants) == 0 {
			continue
		}
		share := e.Amount.DivRound(decimal.NewFromInt(int64(len(participants))), 2)
		for _, p := range participants {
			if p == e.PaidBy {
				continue
			}
			k := pair{p, e.PaidBy}
			raw[k] = raw[k].Add(share)
		}
	}

	for _, id := range s.order {
		p := s.payments[id]
		if p.Status == ledger.StatusReject || !memberOf(f, p.From) {
			continue
		}
		k := pair{p.From, p.To}
		raw[k] = raw[k].Sub(p.Amount)
	}

	net := make(map[pair]decimal.Decimal)
	for k, v := range raw {
		back := pair{k.to, k.from}
		d := v.Sub(raw[back])
		if d.IsPositive() {
			net[k] = d
		} else if d.IsNegative() {
			net[back] = d.Neg()
		}
	}
	return net
}

func (s *Server) addMemberLocked(f *ledger.Family, req ledger.NewMember) *ledger.Member {
	m := &ledger.Member{ID: ledger.MemberID(s.newID()), Name: req.Name, TelegramID: ledger.ChatIdentity(req.TelegramID)}
	if f != nil {
		m.FamilyID = f.ID
		f.Members = append(f.Members, *m)
	}
	s.members[m.ID] = m
	return m
}

func (s *Server) newID() ledger.ID {
	s.nextID++
	return ledger.ID(strconv.Itoa(s.nextID))
}

func memberOf(f *ledger.Family, id ledger.MemberID) bool {
	for _, m := range f.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

func containsMember(ids []ledger.MemberID, id ledger.MemberID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func idLess(a, b ledger.ID) bool {
	ai, _ := strconv.Atoi(string(a))
	bi, _ := strconv.Atoi(string(b))
	return ai < bi
}

func copyFamily(f *ledger.Family) *ledger.Family {
	out := *f
	out.Members = append([]ledger.Member(nil), f.Members...)
	return &out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/alexmontesino96/familybot/internal/balance"
	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/notify"
	"github.com/gorilla/mux"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetNotification shows an outbox entry to the member it is addressed
// to. Other members get 404, same as an unknown id.
func (a *API) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := a.outbox.Get(r.Context(), id)
	if errors.Is(err, notify.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		log.Printf("api: failed to load notification %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load notification")
		return
	}
	platform, chatID := notify.Route(claimsFrom(r.Context()).Identity)
	if n.Platform != platform || n.ChatID != chatID {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type balancesResponse struct {
	FamilyID  ledger.ID           `json:"family_id"`
	Balances  []balance.Balance   `json:"balances"`
	Malformed []balance.Malformed `json:"malformed,omitempty"`
}

// handleFamilyBalances derives the balance model of a family. The ledger
// authorizes by member, so the call is made as the token's identity.
func (a *API) handleFamilyBalances(w http.ResponseWriter, r *http.Request) {
	familyID := ledger.ID(mux.Vars(r)["id"])
	caller := ledger.Caller(claimsFrom(r.Context()).Identity)

	resp, err := a.balances.GetFamilyBalances(r.Context(), caller, familyID)
	if err != nil {
		log.Printf("api: family %s balances: %v", familyID, err)
		writeError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	if !resp.OK() {
		var apiErr *ledger.APIError
		if errors.As(resp.Err(), &apiErr) && !apiErr.ServerSide() {
			writeError(w, apiErr.StatusCode, apiErr.Error())
			return
		}
		writeError(w, http.StatusBadGateway, resp.Err().Error())
		return
	}
	var records []ledger.BalanceRecord
	if err := resp.Decode(&records); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	model, bad := balance.Build(records)
	out := balancesResponse{FamilyID: familyID, Balances: []balance.Balance{}, Malformed: bad}
	for _, id := range model.Members() {
		if b, ok := model.Balance(id); ok {
			out.Balances = append(out.Balances, b)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

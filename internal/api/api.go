// Package api serves the operator HTTP endpoints: health, Prometheus
// metrics, and behind bearer tokens, outbox inspection and a read-only
// balance view.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/notify"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// BalanceReader is the ledger call behind the balance view.
type BalanceReader interface {
	GetFamilyBalances(ctx context.Context, caller ledger.Caller, id ledger.ID) (*ledger.Response, error)
}

type API struct {
	router    *mux.Router
	server    *http.Server
	bind      string
	jwtSecret []byte
	outbox    notify.Store
	balances  BalanceReader
}

// New builds the router. The /api routes are mounted only when jwtSecret is
// set; outbox and balances may be nil, and their routes then answer 404.
func New(bind string, jwtSecret []byte, outbox notify.Store, balances BalanceReader) *API {
	a := &API{
		router:    mux.NewRouter(),
		bind:      bind,
		jwtSecret: jwtSecret,
		outbox:    outbox,
		balances:  balances,
	}
	a.setupRoutes()
	return a
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/health", a.handleHealth).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if len(a.jwtSecret) == 0 {
		log.Println("api: JWT_SECRET is not set; /api routes are disabled")
		return
	}
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)
	if a.outbox != nil {
		protected.HandleFunc("/notifications/{id}", a.handleGetNotification).Methods("GET")
	}
	if a.balances != nil {
		protected.HandleFunc("/families/{id}/balances", a.handleFamilyBalances).Methods("GET")
	}
}

// Handler returns the router wrapped in CORS.
func (a *API) Handler() http.Handler {
	// bearer tokens travel in a header, not cookies
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}).Handler(a.router)
}

// Start listens until Shutdown is called.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.bind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("api: listening on http://%s", a.bind)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

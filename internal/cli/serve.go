package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexmontesino96/familybot/internal/api"
	"github.com/alexmontesino96/familybot/internal/bot"
	"github.com/alexmontesino96/familybot/internal/config"
	"github.com/alexmontesino96/familybot/internal/db"
	"github.com/alexmontesino96/familybot/internal/flow"
	"github.com/alexmontesino96/familybot/internal/ledger"
	"github.com/alexmontesino96/familybot/internal/notify"
	"github.com/alexmontesino96/familybot/internal/payment"
	"github.com/alexmontesino96/familybot/internal/sqlite"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat bots, the notification dispatcher and the HTTP endpoints",
	Long: `Run the configured chat transports (TELEGRAM_TOKEN, DISCORD_TOKEN) against
the ledger at LEDGER_URL. Counterpart notifications go through an outbox
selected by DATABASE_URL: a postgres:// URL, a SQLite file path, or memory
when unset. /health and /metrics are served on WEB_BIND.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

type transport interface {
	notify.Sender
	Start() error
	Stop() error
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openOutbox(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client := ledger.New(ledger.Options{BaseURL: cfg.LedgerURL, Timeout: cfg.LedgerTimeout})
	dispatcher := notify.NewDispatcher(store, notify.Options{
		Interval:    cfg.NotifyInterval,
		MaxAttempts: cfg.NotifyMaxAttempts,
	})
	payments := payment.NewService(client, flow.NewNotifier(client, dispatcher))
	engine := flow.NewEngine(client, payments)

	var transports []transport
	if cfg.TelegramToken != "" {
		tg, err := bot.NewTelegram(cfg.TelegramToken, engine)
		if err != nil {
			return err
		}
		transports = append(transports, tg)
	}
	if cfg.DiscordToken != "" {
		dc, err := bot.NewDiscord(cfg.DiscordToken, engine)
		if err != nil {
			return err
		}
		transports = append(transports, dc)
	}
	for _, t := range transports {
		dispatcher.AddSender(t)
	}

	go logDeliveryErrors(ctx, dispatcher.Errors())
	dispatcher.Start()
	defer dispatcher.Stop()

	reaper := bot.NewReaper(engine, cfg.SessionIdle)
	reaper.Start()
	defer reaper.Stop()

	for _, t := range transports {
		if err := t.Start(); err != nil {
			return fmt.Errorf("start %s: %w", t.Platform(), err)
		}
		defer t.Stop()
	}

	apiServer := api.New(cfg.WebBind, []byte(cfg.JWTSecret), store, client)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("api: server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("api: shutdown: %v", err)
	}
	return nil
}

// openOutbox picks the notification store DATABASE_URL asks for.
func openOutbox(ctx context.Context, cfg *config.Config) (notify.Store, func(), error) {
	switch cfg.Outbox() {
	case config.OutboxPostgres:
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := database.RunMigrations(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Println("notify: using postgres outbox")
		return database, database.Close, nil

	case config.OutboxSQLite:
		database, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite outbox: %w", err)
		}
		log.Printf("notify: using sqlite outbox at %s", cfg.DatabaseURL)
		return database, func() {
			if err := database.Close(); err != nil {
				log.Printf("notify: close sqlite outbox: %v", err)
			}
		}, nil
	}

	log.Println("notify: using in-memory outbox; queued notifications are lost on restart")
	return notify.NewMemoryStore(), func() {}, nil
}

func logDeliveryErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case err := <-errs:
			log.Printf("notify: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

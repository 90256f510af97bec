// Package cli is a thin REPL over the medtrack core: it wires the store,
// services, credential provider and sync engine together and exposes them as
// interactive commands.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/mpoliveira/medtrack/internal/api"
	"github.com/mpoliveira/medtrack/internal/auth"
	"github.com/mpoliveira/medtrack/internal/config"
	"github.com/mpoliveira/medtrack/internal/logging"
	"github.com/mpoliveira/medtrack/internal/services"
	"github.com/mpoliveira/medtrack/internal/store"
	"github.com/mpoliveira/medtrack/internal/syncer"
)

// App owns every component of the client. Construct with NewApp, then Run.
type App struct {
	config *config.Config
	log    logging.Logger
	db     *sql.DB

	auth            *auth.Service
	medications     *services.MedicationService
	administrations *services.AdministrationService
	tips            *services.TipService
	faqs            *services.FAQService
	interactions    *services.InteractionService
	engine          *syncer.Engine
	client          api.Client

	reader *bufio.Reader
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	db, kv, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	httpClient := api.NewHTTPClient(cfg.ServerBaseURL, nil)
	authService := auth.NewService(httpClient, kv, log)
	httpClient.SetTokenSource(authService)
	if err := authService.Restore(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	queue := store.NewQueue(kv, store.KeyQueue)
	meta := store.NewMetadataStore(kv, store.KeyMetadata)

	meds := services.NewMedicationService(kv, queue, httpClient, log, cfg.QueueMaxRetries)
	admins := services.NewAdministrationService(kv, queue, httpClient, meds, log, cfg.QueueMaxRetries)
	tips := services.NewTipService(kv, queue, httpClient, log, cfg.QueueMaxRetries)
	faqs := services.NewFAQService(kv, queue, httpClient, log, cfg.QueueMaxRetries)
	inters := services.NewInteractionService(kv, queue, httpClient, meds, log, cfg.QueueMaxRetries)

	// Download order: medications first, administrations and interactions
	// last, so their merges can resolve medication ids.
	engine := syncer.New(queue, meta, authService, log, meds, tips, faqs, inters, admins)
	authService.Subscribe(func(loggedIn bool) {
		if loggedIn {
			engine.RequestSync()
		}
	})

	return &App{
		config:          cfg,
		log:             log,
		db:              db,
		auth:            authService,
		medications:     meds,
		administrations: admins,
		tips:            tips,
		faqs:            faqs,
		interactions:    inters,
		engine:          engine,
		client:          httpClient,
		reader:          bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the background loops and enters the REPL. Returns when stdin
// closes or the user quits.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.db.Close()

	go a.engine.WatchOnline(ctx, a.client, a.config.OnlineCheckInterval)
	go a.engine.Run(ctx, a.config.SyncInterval)

	a.Root(ctx)
}

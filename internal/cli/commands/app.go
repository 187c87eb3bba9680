package commands

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"stagecraft/internal/assets"
	"stagecraft/internal/config"
	"stagecraft/internal/dispatch"
	"stagecraft/internal/kv"
	"stagecraft/internal/ledger"
	"stagecraft/internal/overlay"
	"stagecraft/internal/publish"
	"stagecraft/internal/remote"
	"stagecraft/internal/resolve"
	"stagecraft/internal/routes"
	"stagecraft/internal/storage"
	"stagecraft/internal/token"
)

// app holds the wired pipeline components for a CLI invocation.
type app struct {
	settings   *config.Settings
	store      kv.Store
	db         *storage.LedgerDB
	overlay    *overlay.Store
	remote     remote.Client
	resolver   *resolve.Resolver
	renderer   *routes.Renderer
	engine     *publish.Engine
	filter     *overlay.ExcludeFilter
	dispatcher *dispatch.Dispatcher
}

// requireTokenSecret errors when no confirmation token secret is
// configured. Commands that mint or consume tokens call this up front
// so the operator gets one actionable message instead of a refusal
// buried in dispatch output.
func requireTokenSecret() error {
	if len(config.TokenSecret()) == 0 {
		return fmt.Errorf("%s is not set; confirmation tokens cannot be signed", config.EnvTokenSecret)
	}
	return nil
}

// newApp opens the overlay store and ledger database and wires the
// pipeline. Callers must Close it.
func newApp() (*app, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if settings.Remote.BaseURL == "" {
		return nil, fmt.Errorf("remote.base_url is not configured; edit %s", config.SettingsPath())
	}

	var store kv.Store
	switch settings.Overlay.Backend {
	case "memory":
		store, err = kv.OpenBadgerInMemory()
	default:
		store, err = kv.OpenBadger(config.OverlayDir())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open overlay store: %w", err)
	}

	db, err := storage.Open(config.LedgerPath())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	ov := overlay.NewStore(store)
	rc := remote.NewHTTPClient(settings.Remote.BaseURL, settings.Remote.Token)
	resolver := resolve.New(ov, rc, assets.DefaultBundle())
	renderer := routes.NewRenderer(resolver, settings.Server.PreviewBaseURL)
	engine := publish.NewEngine(ov, rc)
	auth := token.New(config.TokenSecret(), db)

	return &app{
		settings:   settings,
		store:      store,
		db:         db,
		overlay:    ov,
		remote:     rc,
		resolver:   resolver,
		renderer:   renderer,
		engine:     engine,
		filter:     overlay.NewExcludeFilter(settings.Overlay.Excludes),
		dispatcher: dispatch.New(ledger.New(db), auth, engine, dispatch.NopPlanner{}, ov, renderer, db),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Warnf("[CLI] failed to close ledger database: %v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Warnf("[CLI] failed to close overlay store: %v", err)
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"iapkeeper/internal/config"
	"iapkeeper/internal/journal"
	"iapkeeper/internal/localstore"
	"iapkeeper/internal/logging"
	"iapkeeper/internal/models"
	"iapkeeper/internal/network"
	"iapkeeper/internal/notify"
	"iapkeeper/internal/platform/appstore"
	"iapkeeper/internal/platform/googleplay"
	"iapkeeper/internal/platform/sandbox"
	"iapkeeper/internal/store"
	"iapkeeper/internal/vault"
)

type application struct {
	cfg     config.Config
	logger  *log.Entry
	svc     *store.Service
	local   *localstore.Manager
	items   []models.Purchasable
	periods map[string]models.SubscriptionPeriod
	journal journal.Journal
	hub     *eventHub

	// Exactly one platform is set.
	sandbox  *sandbox.Platform
	appStore *appstore.Platform
	play     *googleplay.Platform

	closers []func() error
}

func initializeApp(ctx context.Context, cfg config.Config) (*application, error) {
	products, items, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	app := &application{
		cfg:     cfg,
		logger:  logging.For("iapd"),
		items:   items,
		periods: cfg.Subscriptions(),
		hub:     newEventHub(logging.For("hub")),
	}

	v, closeVault, err := vault.Open(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	app.closers = append(app.closers, closeVault)
	app.local = localstore.New(v, cfg.Namespace, logging.For("localstore"))

	router := store.NewRouter()
	var platform store.Platform
	switch cfg.Platform.Kind {
	case config.PlatformSandbox:
		app.sandbox = sandbox.New([]byte(cfg.Platform.SandboxSecret), products...)
		router.Handle(sandbox.Source, app.sandbox)
		platform = app.sandbox
	case config.PlatformAppStore:
		roots, err := appstore.LoadRoots(cfg.Platform.RootCertFile)
		if err != nil {
			app.close()
			return nil, err
		}
		verifier, err := appstore.NewVerifier(cfg.AppStore.BundleID, roots)
		if err != nil {
			app.close()
			return nil, err
		}
		client, err := appstore.NewClient(cfg.AppStore)
		if err != nil {
			app.close()
			return nil, err
		}
		app.appStore = appstore.NewPlatform(client, verifier, logging.For("appstore"), products...)
		app.appStore.SetCustomer(cfg.Platform.Customer)
		router.Handle(appstore.Source, verifier)
		platform = app.appStore
	case config.PlatformGooglePlay:
		verifier, err := googleplay.NewVerifier(ctx, cfg.GooglePlay, products)
		if err != nil {
			app.close()
			return nil, err
		}
		app.play = googleplay.NewPlatform(verifier, logging.For("googleplay"), products...)
		router.Handle(googleplay.Source, verifier)
		platform = app.play
	}

	app.svc, err = store.New(store.Deps{
		Platform: platform,
		Verifier: router,
		Local:    app.local,
		Logger:   logging.For("store"),
		Config:   cfg.Store,
	})
	if err != nil {
		app.close()
		return nil, err
	}

	if cfg.Journal.Driver != "" {
		j, err := journal.Open(ctx, cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		app.journal = j
		app.closers = append(app.closers, j.Close)
	} else {
		app.journal = journal.NewMemory()
	}
	return app, nil
}

// start runs the first sync and launches the background loops. They stop
// when ctx ends or the service is closed.
func (app *application) start(ctx context.Context) {
	var conn store.ConnectivitySource
	if app.cfg.Network.Address != "" {
		conn = network.FromConfig(app.cfg.Network, logging.For("network"))
	}
	if !app.svc.Start(ctx, conn, app.items...) {
		app.logger.Errorf("initial sync was skipped")
	}

	events, _ := app.svc.Subscribe()
	go app.hub.Run(ctx, events)

	if app.cfg.FCM.Enabled() {
		client, err := notify.NewClient(ctx, app.cfg.FCM.CredentialsFile)
		if err != nil {
			app.logger.Errorf("fcm disabled: %v", err)
		} else {
			fcmEvents, _ := app.svc.Subscribe()
			go notify.NewFCM(client, app.cfg.FCM, logging.For("notify")).Run(ctx, fcmEvents)
		}
	}

	startResyncWorker(ctx, app.svc, app.cfg.Server.ResyncInterval, app.logger)
}

func (app *application) close() {
	if app.svc != nil {
		app.svc.Close()
	}
	app.hub.closeAll()
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Errorf("close: %v", err)
		}
	}
}

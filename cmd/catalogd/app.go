package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mare-catalogo/backend/internal/cache"
	"github.com/mare-catalogo/backend/internal/conf"
	"github.com/mare-catalogo/backend/internal/db"
	"github.com/mare-catalogo/backend/internal/logging"
	"github.com/mare-catalogo/backend/internal/metrics"
	"github.com/mare-catalogo/backend/internal/netstate"
	"github.com/mare-catalogo/backend/internal/notification"
	"github.com/mare-catalogo/backend/internal/remote"
	"github.com/mare-catalogo/backend/internal/store"
	"github.com/mare-catalogo/backend/internal/sync/monitor"
	"github.com/mare-catalogo/backend/internal/sync/queue"
	"github.com/mare-catalogo/backend/internal/worker"
)

// app wires every component of the backend from settings.
type app struct {
	settings *conf.Settings
	database *db.DB

	kv       store.KV
	caches   cache.Storage
	remote   *remote.Client
	queue    *queue.OrderQueue
	tracker  *netstate.Tracker
	metrics  *metrics.Metrics
	hub      *Hub
	origin   *worker.HTTPOrigin
	registry *worker.Registry
	monitor  *monitor.Monitor

	log *logging.Logger
}

func newApp(s *conf.Settings) (*app, error) {
	a := &app{
		settings: s,
		metrics:  metrics.New(),
		tracker:  netstate.NewTracker(s.Monitor.InitialOnline),
		log:      logging.Named("app"),
	}

	if s.InMemory() {
		a.kv = store.NewMemoryKV(s.Data.StoreQuota)
		a.caches = cache.NewMemoryStorage()
		a.log.Warn("No data directory configured, queue and caches are in memory")
	} else {
		database, err := db.Open(s.Data.Dir)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, err
		}
		a.database = database
		a.kv = store.NewSQLiteKV(database, s.Data.StoreQuota)
		a.caches = cache.NewSQLiteStorage(database)
	}

	a.remote = remote.New(remote.Config{
		URL:          s.Remote.URL,
		AnonKey:      s.Remote.AnonKey,
		Table:        s.Remote.Table,
		Timeout:      s.Remote.Timeout,
		ProbeTimeout: s.Remote.ProbeTimeout,
	}, nil)
	if !a.remote.Configured() {
		a.log.Warn("Remote order service not configured, orders will stay queued")
	}

	origin, err := worker.NewHTTPOrigin(s.Server.Origin, &http.Client{}, s.Server.OriginTimeout)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.origin = origin
	a.registry = worker.NewRegistry(worker.NewPassthrough(origin.URL(), worker.DefaultWorkerScript))

	a.hub = NewHub(a.registry, a.tracker)
	a.registry.OnActivate(func(generation string) {
		a.hub.Broadcast(EventWorkerActivated, map[string]string{"version": generation})
	})

	hubNotifier := notification.NewHubNotifier(a.hub)
	notifiers := notification.Multi{hubNotifier}
	if len(s.Notification.URLs) > 0 {
		sh, err := notification.NewShoutrrr(s.Notification.URLs...)
		if err != nil {
			a.log.Warn("Notification services disabled", logging.Fields{"error": err.Error()})
		} else {
			notifiers = append(notifiers, sh)
		}
	}

	a.queue = queue.New(a.kv, a.remote, &queue.Config{
		MaxAttempts: s.Queue.MaxAttempts,
		Alerter:     hubNotifier,
		Metrics:     a.metrics,
		Now:         time.Now,
	})
	a.monitor = monitor.New(a.queue, a.remote, a.tracker, notifiers, &monitor.Config{
		Interval: s.Monitor.Interval,
	})
	return a, nil
}

// newController builds a cache controller for the configured generation.
func (a *app) newController() (*worker.Controller, error) {
	w := a.settings.Worker
	return worker.New(worker.Config{
		Generation:            w.Generation,
		Manifest:              w.Manifest,
		SkipWaitingOnInstall:  w.SkipWaitingOnInstall,
		CatalogFreshWithinDay: w.CatalogFreshWithinDay,
		Online:                a.tracker.Online,
		Metrics:               a.metrics,
	}, a.caches, a.origin)
}

// installWorker installs and registers the configured controller.
func (a *app) installWorker(ctx context.Context) (*worker.InstallReport, error) {
	ctrl, err := a.newController()
	if err != nil {
		return nil, err
	}
	return a.registry.Register(ctx, ctrl)
}

func (a *app) Close() error {
	var errs []error
	if a.hub != nil {
		a.hub.Close()
	}
	if a.registry != nil {
		if active := a.registry.Active(); active != nil {
			active.WaitIdle()
		}
	}
	if a.database != nil {
		errs = append(errs, a.database.Close())
	}
	return errors.Join(errs...)
}

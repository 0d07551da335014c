// Package app wires stickerdl components from configuration.
package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stickerdl/catalog"
	"stickerdl/config"
	"stickerdl/converter"
	"stickerdl/dedup"
	"stickerdl/fetcher"
	"stickerdl/logx"
	"stickerdl/metrics"
	"stickerdl/resolver"
	"stickerdl/server"
	"stickerdl/session"
	"stickerdl/storage"
)

// Instance lazily creates and caches components. It is not safe for
// concurrent initialization from multiple goroutines.
type Instance struct {
	config config.Config
	clock  dedup.Clock

	prometheus *metrics.Prometheus
	fetcher    fetcher.Fetcher
	storage    *storage.SQL
	resolver   *resolver.Resolver
	session    *session.Session
	dedup      *dedup.Deduplicator
	closeOnce  sync.Once
}

func Create(config config.Config, clock dedup.Clock) *Instance {
	if clock == nil {
		clock = dedup.SystemClock
	}

	logx.Configure(config.Logging)
	return &Instance{config: config, clock: clock}
}

func (app *Instance) Config() config.Config {
	return app.config
}

func (app *Instance) Now() time.Time {
	return app.clock.Now()
}

func (app *Instance) GetMetrics() metrics.Metrics {
	if !app.config.Metrics.Enabled {
		return metrics.Dummy
	}

	if app.prometheus == nil {
		prometheus := metrics.NewPrometheus()
		app.prometheus = &prometheus
	}

	return app.prometheus.WithPrefix("stickerdl")
}

// MetricsHandler returns the prometheus endpoint or nil if metrics are disabled.
func (app *Instance) MetricsHandler() http.Handler {
	if !app.config.Metrics.Enabled {
		return nil
	}

	app.GetMetrics()

	return app.prometheus.Handler()
}

func (app *Instance) GetFetcher() fetcher.Fetcher {
	if app.fetcher != nil {
		return app.fetcher
	}

	config := app.config.HTTP
	log := logx.Get("http")
	var transportLog logrus.FieldLogger
	if config.Log {
		transportLog = log.WithField("transport", true)
	}

	app.fetcher = &fetcher.HTTP{
		Client:        fetcher.NewClient(config.Timeout, transportLog),
		UserAgent:     config.UserAgent,
		Retries:       config.Retries,
		RetryInterval: config.RetryInterval,
		Log:           log,
	}

	return app.fetcher
}

// SetFetcher overrides the transport used by every component.
func (app *Instance) SetFetcher(fetcher fetcher.Fetcher) {
	app.fetcher = fetcher
}

// GetStorage returns nil if storage is disabled.
func (app *Instance) GetStorage(ctx context.Context) (*storage.SQL, error) {
	if !app.config.Storage.Enabled {
		return nil, nil
	}

	if app.storage != nil {
		return app.storage, nil
	}

	config := app.config.Storage
	db, err := storage.Open(config.Driver, config.DSN, logx.Get("storage"))
	if err != nil {
		return nil, err
	}

	if err := db.Init(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init storage")
	}

	app.storage = db
	return db, nil
}

func (app *Instance) GetLoader() *catalog.Loader {
	return &catalog.Loader{
		Fetcher: app.GetFetcher(),
		Log:     logx.Get("catalog"),
	}
}

func (app *Instance) GetResolver() *resolver.Resolver {
	if app.resolver != nil {
		return app.resolver
	}

	config := app.config.Resolver
	app.resolver = resolver.New(
		app.GetFetcher(),
		resolver.ConverterFunc(converter.Convert),
		resolver.NewCache(),
		resolver.Config{
			Concurrency:    config.Concurrency,
			FetchTimeout:   config.FetchTimeout,
			ConvertTimeout: config.ConvertTimeout,
		})

	app.resolver.Metrics = app.GetMetrics().WithPrefix("resolver")
	app.resolver.Log = logx.Get("resolver")
	return app.resolver
}

func (app *Instance) GetSession() *session.Session {
	if app.session != nil {
		return app.session
	}

	app.session = session.New(app.GetLoader(), app.GetResolver())
	app.session.Log = logx.Get("session")
	return app.session
}

// GetDeduplicator stores fingerprints in the database when storage is
// enabled and in memory otherwise.
func (app *Instance) GetDeduplicator(ctx context.Context) (*dedup.Deduplicator, error) {
	if app.dedup != nil {
		return app.dedup, nil
	}

	db, err := app.GetStorage(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get storage")
	}

	var hashStorage dedup.HashStorage = new(dedup.MemoryHashStorage)
	if db != nil {
		hashStorage = db
	}

	app.dedup = &dedup.Deduplicator{Clock: app, HashStorage: hashStorage}
	return app.dedup, nil
}

func (app *Instance) GetServer(ctx context.Context) (*server.Server, error) {
	db, err := app.GetStorage(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get storage")
	}

	return &server.Server{
		Session:        app.GetSession(),
		Storage:        db,
		Metrics:        app.GetMetrics().WithPrefix("server"),
		MetricsHandler: app.MetricsHandler(),
		PreviewWidth:   app.config.Server.PreviewWidth,
		Log:            logx.Get("server"),
	}, nil
}

// ServeMetrics exposes the prometheus endpoint on the configured address
// until ctx is done. It returns immediately if metrics are disabled.
func (app *Instance) ServeMetrics(ctx context.Context) error {
	handler := app.MetricsHandler()
	if handler == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: app.config.Metrics.Address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	logx.Get("metrics").Infof("serving metrics on %s", app.config.Metrics.Address)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (app *Instance) Close() (err error) {
	app.closeOnce.Do(func() {
		if app.storage != nil {
			err = app.storage.Close()
		}
	})

	return err
}

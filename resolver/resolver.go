package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stickerdl/catalog"
	"stickerdl/fetcher"
	"stickerdl/metrics"
)

type Converter interface {
	Convert(raw []byte) ([]byte, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(raw []byte) ([]byte, error)

func (f ConverterFunc) Convert(raw []byte) ([]byte, error) {
	return f(raw)
}

type Config struct {
	Concurrency    int
	FetchTimeout   time.Duration
	ConvertTimeout time.Duration
}

var DefaultConfig = Config{
	Concurrency:    8,
	FetchTimeout:   30 * time.Second,
	ConvertTimeout: 30 * time.Second,
}

func (c Config) normalize() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConfig.Concurrency
	}

	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultConfig.FetchTimeout
	}

	if c.ConvertTimeout <= 0 {
		c.ConvertTimeout = DefaultConfig.ConvertTimeout
	}

	return c
}

type Resolver struct {
	Fetcher   fetcher.Fetcher
	Converter Converter
	Cache     *Cache
	Config    Config
	Metrics   metrics.Metrics
	Log       logrus.FieldLogger
}

func New(fetcher fetcher.Fetcher, converter Converter, cache *Cache, config Config) *Resolver {
	if cache == nil {
		cache = NewCache()
	}

	return &Resolver{
		Fetcher:   fetcher,
		Converter: converter,
		Cache:     cache,
		Config:    config.normalize(),
		Metrics:   metrics.Dummy,
		Log:       logrus.StandardLogger(),
	}
}

// Resolve returns the asset for the descriptor at the zero-based catalog index.
// Errors are always *ResolutionError and are never cached.
func (r *Resolver) Resolve(ctx context.Context, d catalog.Descriptor, index int) (*ResolvedAsset, error) {
	key := Key{SourceURL: d.SourceURL, Kind: d.Kind, Index: index}
	if asset, ok := r.Cache.Get(key); ok {
		r.Metrics.Counter("cache_hits", nil).Inc()
		return asset, nil
	}

	// The shared load must not be cut short by the first caller going away.
	detached := context.WithoutCancel(ctx)
	asset, err := r.Cache.Do(ctx, key, func() (*ResolvedAsset, error) {
		return r.resolve(detached, d, index)
	})

	if err != nil {
		var resolutionErr *ResolutionError
		if !errors.As(err, &resolutionErr) {
			resolutionErr = &ResolutionError{Reason: reason(err), Index: index, Err: err}
		}

		r.Metrics.Counter("failed", metrics.Labels{"reason": resolutionErr.Reason.String()}).Inc()
		return nil, resolutionErr
	}

	return asset, nil
}

func (r *Resolver) resolve(ctx context.Context, d catalog.Descriptor, index int) (*ResolvedAsset, error) {
	log := r.Log.WithFields(logrus.Fields{"index": index, "url": d.SourceURL})
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, r.Config.FetchTimeout)
	raw, err := r.Fetcher.Fetch(fetchCtx, d.SourceURL)
	cancel()
	if err != nil {
		log.Warnf("fetch failed: %s", err)
		return nil, &ResolutionError{Reason: reason(err), Index: index, Err: errors.Wrap(err, "fetch")}
	}

	asset := &ResolvedAsset{
		Data:     raw,
		FileName: FileName(index, "png"),
		MIMEType: "image/png",
		Status:   OriginalFormat,
	}

	if d.Kind == catalog.Animated {
		data, err := r.convert(ctx, raw)
		switch {
		case err == nil:
			asset.Data = data
			asset.FileName = FileName(index, "gif")
			asset.MIMEType = "image/gif"
			asset.Status = ConvertedToGif
		case errors.Is(err, context.DeadlineExceeded):
			log.Warnf("convert timed out after %s", r.Config.ConvertTimeout)
			return nil, &ResolutionError{Reason: Timeout, Index: index, Err: errors.Wrap(err, "convert")}
		default:
			log.Warnf("convert failed, keeping original: %s", err)
			asset.Status = ConversionFailedFallback
		}
	}

	r.Metrics.Counter("resolved", metrics.Labels{"status": asset.Status.String()}).Inc()
	log.WithField("status", asset.Status).Debugf("resolved %s in %s", asset.FileName, time.Since(start))
	return asset, nil
}

func (r *Resolver) convert(ctx context.Context, raw []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Config.ConvertTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}

	done := make(chan result, 1)
	go func() {
		data, err := r.Converter.Convert(raw)
		done <- result{data, err}
	}()

	select {
	case result := <-done:
		return result.data, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveAll resolves every descriptor on a worker pool and returns the
// results in catalog order.
func (r *Resolver) ResolveAll(ctx context.Context, c catalog.Catalog) []Result {
	results := make([]Result, len(c))
	for i := range results {
		results[i].Index = i
	}

	pool, err := ants.NewPool(r.Config.Concurrency)
	if err != nil {
		for i := range results {
			results[i].Err = errors.Wrap(err, "create pool")
		}

		return results
	}

	defer pool.Release()

	var wg sync.WaitGroup
	for i, d := range c {
		i, d := i, d
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i].Asset, results[i].Err = r.Resolve(ctx, d, i)
		}

		if err := pool.Submit(task); err != nil {
			wg.Done()
			results[i].Err = errors.Wrap(err, "submit")
		}
	}

	wg.Wait()
	return results
}

func reason(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout
	}

	return Network
}

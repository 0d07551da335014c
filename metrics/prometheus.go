package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Key struct {
	Namespace string
	Name      string
}

type Prometheus struct {
	registry *prometheus.Registry
	prefix   string
	entries  map[Key]interface{}
	mu       *sync.RWMutex
}

func NewPrometheus() Prometheus {
	return Prometheus{
		registry: prometheus.NewRegistry(),
		entries:  make(map[Key]interface{}),
		mu:       new(sync.RWMutex),
	}
}

func (p Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p Prometheus) WithPrefix(prefix string) Metrics {
	if p.prefix != "" {
		p.prefix += "_" + prefix
	} else {
		p.prefix = prefix
	}

	return p
}

func (p Prometheus) Counter(name string, labels Labels) Counter {
	entry := p.entry(name, func() interface{} {
		opts := prometheus.CounterOpts{
			Namespace: p.prefix,
			Name:      name,
		}

		if labels == nil {
			counter := prometheus.NewCounter(opts)
			p.registry.MustRegister(counter)
			return counter
		}

		vec := prometheus.NewCounterVec(opts, labels.Keys())
		p.registry.MustRegister(vec)
		return vec
	})

	if labels != nil {
		entry = entry.(*prometheus.CounterVec).With(prometheus.Labels(labels))
	}

	return entry.(Counter)
}

func (p Prometheus) Gauge(name string, labels Labels) Gauge {
	entry := p.entry(name, func() interface{} {
		opts := prometheus.GaugeOpts{
			Namespace: p.prefix,
			Name:      name,
		}

		if labels == nil {
			gauge := prometheus.NewGauge(opts)
			p.registry.MustRegister(gauge)
			return gauge
		}

		vec := prometheus.NewGaugeVec(opts, labels.Keys())
		p.registry.MustRegister(vec)
		return vec
	})

	if labels != nil {
		entry = entry.(*prometheus.GaugeVec).With(prometheus.Labels(labels))
	}

	return entry.(Gauge)
}

func (p Prometheus) entry(name string, create func() interface{}) interface{} {
	key := Key{p.prefix, name}
	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		return entry
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok = p.entries[key]; !ok {
		entry = create()
		p.entries[key] = entry
	}

	return entry
}

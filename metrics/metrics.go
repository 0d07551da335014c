// Package metrics abstracts counters and gauges used by the resolver and the server.
package metrics

import "sort"

type Metrics interface {
	WithPrefix(prefix string) Metrics
	Counter(name string, labels Labels) Counter
	Gauge(name string, labels Labels) Gauge
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

type Labels map[string]string

func (labels Labels) Add(key, value string) Labels {
	if labels == nil {
		labels = make(Labels)
	}

	labels[key] = value
	return labels
}

// Keys returns label names in a stable order.
func (labels Labels) Keys() []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys
}

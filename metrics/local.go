package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Local keeps metric values in memory. Useful for tests and for status output.
type Local struct {
	prefix string
	values *sync.Map
}

func NewLocal() Local {
	return Local{values: new(sync.Map)}
}

func (l Local) WithPrefix(prefix string) Metrics {
	if l.prefix != "" {
		l.prefix += "_" + prefix
	} else {
		l.prefix = prefix
	}

	return l
}

func (l Local) Counter(name string, labels Labels) Counter {
	return (*localCounter)(l.get(name, labels))
}

func (l Local) Gauge(name string, labels Labels) Gauge {
	return (*localGauge)(l.get(name, labels))
}

// Value returns the current value of the metric. Name must include the prefix.
func (l Local) Value(name string, labels Labels) float64 {
	if value, ok := l.values.Load(localKey(name, labels)); ok {
		return value.(*AtomicFloat64).Get()
	}

	return 0
}

func (l Local) get(name string, labels Labels) *AtomicFloat64 {
	if l.prefix != "" {
		name = l.prefix + "_" + name
	}

	value, _ := l.values.LoadOrStore(localKey(name, labels), new(AtomicFloat64))
	return value.(*AtomicFloat64)
}

func localKey(name string, labels Labels) string {
	pairs := make([]string, 0, len(labels))
	for key, value := range labels {
		pairs = append(pairs, key+"="+value)
	}

	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

type localCounter AtomicFloat64

func (c *localCounter) Inc() {
	c.Add(1)
}

func (c *localCounter) Add(delta float64) {
	(*AtomicFloat64)(c).Add(delta)
}

type localGauge AtomicFloat64

func (g *localGauge) Set(value float64) {
	(*AtomicFloat64)(g).Set(value)
}

func (g *localGauge) Inc() {
	g.Add(1)
}

func (g *localGauge) Dec() {
	g.Add(-1)
}

func (g *localGauge) Add(delta float64) {
	(*AtomicFloat64)(g).Add(delta)
}

func (g *localGauge) Sub(delta float64) {
	g.Add(-delta)
}

// AtomicFloat64 is a float64 updated with compare-and-swap.
type AtomicFloat64 uint64

func (f *AtomicFloat64) Add(delta float64) {
	for {
		oldBits := atomic.LoadUint64((*uint64)(f))
		newBits := math.Float64bits(math.Float64frombits(oldBits) + delta)
		if atomic.CompareAndSwapUint64((*uint64)(f), oldBits, newBits) {
			return
		}
	}
}

func (f *AtomicFloat64) Set(value float64) {
	atomic.StoreUint64((*uint64)(f), math.Float64bits(value))
}

func (f *AtomicFloat64) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64((*uint64)(f)))
}

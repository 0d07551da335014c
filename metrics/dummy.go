package metrics

// Dummy discards everything.
var Dummy Metrics = dummy{}

type dummy struct{}

func (d dummy) WithPrefix(string) Metrics      { return d }
func (d dummy) Counter(string, Labels) Counter { return d }
func (d dummy) Gauge(string, Labels) Gauge     { return d }
func (dummy) Inc()                             {}
func (dummy) Dec()                             {}
func (dummy) Add(float64)                      {}
func (dummy) Sub(float64)                      {}
func (dummy) Set(float64)                      {}

package client

import (
	"github.com/VictoriaMetrics/metrics"

	"github.com/shardpipe/shardpipe/internal"
)

// Metrics exposes the client's counters as a VictoriaMetrics set so callers
// can merge them into their own registry via WritePrometheus.
type Metrics struct {
	set *metrics.Set

	connects *metrics.Counter
	failures *metrics.Counter
	discards *metrics.Counter
	timeouts *metrics.Counter
	requests *metrics.Counter
	hits     *metrics.Counter
	misses   *metrics.Counter
}

// NewMetrics creates a counter set. name labels the metrics so multiple
// clients in one process stay distinguishable.
func NewMetrics(name string) *Metrics {
	s := metrics.NewSet()
	label := `client="` + name + `"`
	return &Metrics{
		set:      s,
		connects: s.NewCounter(`shardpipe_connects_total{` + label + `}`),
		failures: s.NewCounter(`shardpipe_connection_failures_total{` + label + `}`),
		discards: s.NewCounter(`shardpipe_discarded_replies_total{` + label + `}`),
		timeouts: s.NewCounter(`shardpipe_reply_timeouts_total{` + label + `}`),
		requests: s.NewCounter(`shardpipe_requests_total{` + label + `}`),
		hits:     s.NewCounter(`shardpipe_hits_total{` + label + `}`),
		misses:   s.NewCounter(`shardpipe_misses_total{` + label + `}`),
	}
}

// Set returns the underlying metrics set for scraping.
func (m *Metrics) Set() *metrics.Set { return m.set }

func (m *Metrics) stats() *internal.Stats {
	if m == nil {
		return nil
	}
	return &internal.Stats{
		Connects: m.connects,
		Failures: m.failures,
		Discards: m.discards,
		Timeouts: m.timeouts,
	}
}

func (m *Metrics) request() {
	if m != nil {
		m.requests.Inc()
	}
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

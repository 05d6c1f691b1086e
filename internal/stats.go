package internal

import "github.com/VictoriaMetrics/metrics"

// Stats collects per-client connection counters. All methods are nil-safe
// so engines can run without metrics wired.
type Stats struct {
	Connects *metrics.Counter
	Failures *metrics.Counter
	Discards *metrics.Counter
	Timeouts *metrics.Counter
}

func (s *Stats) connect() {
	if s != nil && s.Connects != nil {
		s.Connects.Inc()
	}
}

func (s *Stats) failure() {
	if s != nil && s.Failures != nil {
		s.Failures.Inc()
	}
}

func (s *Stats) discard() {
	if s != nil && s.Discards != nil {
		s.Discards.Inc()
	}
}

func (s *Stats) timeout() {
	if s != nil && s.Timeouts != nil {
		s.Timeouts.Inc()
	}
}

// Package stats exposes record/replay activity as prometheus counters.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional metrics handle without nil checks at every call site.
package stats

import "github.com/prometheus/client_golang/prometheus"

const namespace = "syncreplay"

// Metrics holds the counters updated by the event log and the collaborator.
type Metrics struct {
	EventsRecorded prometheus.Counter
	RunsCollapsed  prometheus.Counter
	RecordsWritten prometheus.Counter
	EventsReplayed prometheus.Counter
	ReplayBlocks   prometheus.Counter
	LogWraps       prometheus.Counter
	FakeCalls      prometheus.Counter
	Mismatches     prometheus.Counter
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// New creates the counters and registers them on reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsRecorded: counter("events_recorded_total", "Synchronization events logged while recording."),
		RunsCollapsed:  counter("events_collapsed_total", "Boring events folded into a run instead of written."),
		RecordsWritten: counter("records_written_total", "Physical records appended to arenas."),
		EventsReplayed: counter("events_replayed_total", "Synchronization events fed from the log while replaying."),
		ReplayBlocks:   counter("replay_blocks_total", "Times a replaying thread waited for the logical clock."),
		LogWraps:       counter("log_wraps_total", "Arena wraparounds reported to the collaborator."),
		FakeCalls:      counter("fake_calls_total", "Fake calls logged or sequenced for signals in ignored regions."),
		Mismatches:     counter("replay_mismatches_total", "Replayed calls that did not match the log."),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.all() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) all() []prometheus.Counter {
	return []prometheus.Counter{
		m.EventsRecorded, m.RunsCollapsed, m.RecordsWritten, m.EventsReplayed,
		m.ReplayBlocks, m.LogWraps, m.FakeCalls, m.Mismatches,
	}
}

// Recorded counts one logged event; collapsed is true when it joined a run.
func (m *Metrics) Recorded(collapsed bool) {
	if m == nil {
		return
	}
	m.EventsRecorded.Inc()
	if collapsed {
		m.RunsCollapsed.Inc()
	}
}

// Written counts n physical records.
func (m *Metrics) Written(n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsWritten.Add(float64(n))
}

// Replayed counts one replayed event.
func (m *Metrics) Replayed() {
	if m == nil {
		return
	}
	m.EventsReplayed.Inc()
}

// Blocked counts one wait on the logical clock.
func (m *Metrics) Blocked() {
	if m == nil {
		return
	}
	m.ReplayBlocks.Inc()
}

// Wrapped counts one arena wraparound.
func (m *Metrics) Wrapped() {
	if m == nil {
		return
	}
	m.LogWraps.Inc()
}

// Faked counts n fake calls.
func (m *Metrics) Faked(n uint32) {
	if m == nil || n == 0 {
		return
	}
	m.FakeCalls.Add(float64(n))
}

// Mismatched counts one replay mismatch.
func (m *Metrics) Mismatched() {
	if m == nil {
		return
	}
	m.Mismatches.Inc()
}

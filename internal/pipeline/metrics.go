package pipeline

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultLatencyWindow is how many recent samples per stage feed the mean and
// percentiles.
const DefaultLatencyWindow = 1024

var measuredStages = []State{StateReceived, StateTranslating, StateValidating, StateExecuting, StateInterpreting}

// Metrics is the in-process snapshot mutated only by the orchestrator at
// transitions. It is safe for concurrent use.
type Metrics struct {
	mu        sync.Mutex
	counters  map[string]float64
	latencies map[State]*latencyWindow
}

func NewMetrics(windowSize int) *Metrics {
	if windowSize <= 0 {
		windowSize = DefaultLatencyWindow
	}
	m := &Metrics{
		counters:  map[string]float64{},
		latencies: map[State]*latencyWindow{},
	}
	for _, name := range counterNames {
		m.counters[name] = 0
	}
	for _, stage := range measuredStages {
		m.latencies[stage] = newLatencyWindow(windowSize)
	}
	return m
}

const (
	counterRequests       = "requests_total"
	counterSuccesses      = "successes_total"
	counterInvalid        = "invalid_requests_total"
	counterTranslation    = "translation_failures_total"
	counterValidation     = "validation_failures_total"
	counterExecution      = "execution_failures_total"
	counterInterpretation = "interpretation_failures_total"
	counterDeadline       = "deadline_exceeded_total"
	counterCanceled       = "canceled_total"
	counterTransitions    = "transitions_total"
	counterPatternsReused = "patterns_reused_total"
)

var counterNames = []string{
	counterRequests, counterSuccesses, counterInvalid, counterTranslation, counterValidation,
	counterExecution, counterInterpretation, counterDeadline, counterCanceled, counterTransitions,
	counterPatternsReused,
}

var stageFailureCounters = map[State]string{
	StateReceived:     counterInvalid,
	StateTranslating:  counterTranslation,
	StateValidating:   counterValidation,
	StateExecuting:    counterExecution,
	StateInterpreting: counterInterpretation,
}

func (m *Metrics) add(name string) {
	m.mu.Lock()
	m.counters[name]++
	m.mu.Unlock()
}

func (m *Metrics) requestStarted() { m.add(counterRequests) }

func (m *Metrics) completed() { m.add(counterSuccesses) }

func (m *Metrics) patternReused() { m.add(counterPatternsReused) }

// failed counts a failure against its stage. Deadlines also count against the
// stage, since an expired deadline is a stage failure; cancellations do not.
func (m *Metrics) failed(failure *Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch failure.Kind {
	case KindCanceled:
		m.counters[counterCanceled]++
		return
	case KindDeadlineExceeded:
		m.counters[counterDeadline]++
	}
	if name, ok := stageFailureCounters[failure.Stage]; ok {
		m.counters[name]++
	}
}

func (m *Metrics) transition(stage State, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counterTransitions]++
	if window, ok := m.latencies[stage]; ok {
		window.add(float64(elapsed.Microseconds()) / 1000)
	}
}

// Snapshot flattens every counter and per-stage aggregate into one map, e.g.
// stage_executing_latency_ms_p95.
func (m *Metrics) Snapshot() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.counters)+len(m.latencies)*5)
	for name, value := range m.counters {
		out[name] = value
	}
	for stage, window := range m.latencies {
		prefix := "stage_" + string(stage) + "_latency_ms_"
		samples := window.sorted()
		out[prefix+"count"] = float64(window.total)
		out[prefix+"mean"] = mean(samples)
		out[prefix+"p50"] = percentile(samples, 50)
		out[prefix+"p95"] = percentile(samples, 95)
		out[prefix+"p99"] = percentile(samples, 99)
	}
	return out
}

type latencyWindow struct {
	samples []float64
	next    int
	filled  bool
	total   int64
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]float64, size)}
}

func (w *latencyWindow) add(value float64) {
	w.samples[w.next] = value
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.filled = true
	}
	w.total++
}

func (w *latencyWindow) sorted() []float64 {
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	out := append([]float64(nil), w.samples[:n]...)
	sort.Float64s(out)
	return out
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range samples {
		sum += sample
	}
	return sum / float64(len(samples))
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

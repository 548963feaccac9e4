package o11y

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of everything a MemoryProvider recorded.
// Series keys are the metric name followed by its sorted labels, e.g.
// `dispatch_invocations_total{event=save,kind=message}`.
type Snapshot struct {
	Timestamp  time.Time            `json:"timestamp"`
	Counters   map[string]int64     `json:"counters"`
	Histograms map[string][]float64 `json:"histograms"`
	Gauges     map[string]float64   `json:"gauges"`
}

// MemoryProvider is a MetricsProvider that keeps every series in memory. It
// backs tests and the periodic metrics log of the CLI.
type MemoryProvider struct {
	counters   sync.Map // series key -> *int64
	histograms sync.Map // series key -> *histogramValues
	gauges     sync.Map // series key -> *gaugeValue

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started int32
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{}
}

func (m *MemoryProvider) Counter(name string) Counter {
	return &memoryCounter{provider: m, name: name}
}

func (m *MemoryProvider) Histogram(name string) Histogram {
	return &memoryHistogram{provider: m, name: name}
}

func (m *MemoryProvider) Gauge(name string) Gauge {
	return &memoryGauge{provider: m, name: name}
}

// CounterValue returns the current value of one counter series.
func (m *MemoryProvider) CounterValue(name string, labels ...Label) int64 {
	if v, ok := m.counters.Load(SeriesKey(name, labels)); ok {
		return atomic.LoadInt64(v.(*int64))
	}
	return 0
}

// Snapshot copies every recorded series.
func (m *MemoryProvider) Snapshot() Snapshot {
	snapshot := Snapshot{
		Timestamp:  time.Now(),
		Counters:   make(map[string]int64),
		Histograms: make(map[string][]float64),
		Gauges:     make(map[string]float64),
	}

	m.counters.Range(func(key, value any) bool {
		snapshot.Counters[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})

	m.histograms.Range(func(key, value any) bool {
		h := value.(*histogramValues)
		h.mu.RLock()
		snapshot.Histograms[key.(string)] = append([]float64(nil), h.values...)
		h.mu.RUnlock()
		return true
	})

	m.gauges.Range(func(key, value any) bool {
		g := value.(*gaugeValue)
		g.mu.RLock()
		snapshot.Gauges[key.(string)] = g.value
		g.mu.RUnlock()
		return true
	})

	return snapshot
}

// StartReporting calls report with a fresh snapshot every interval until
// StopReporting is called. A final snapshot is reported on stop.
func (m *MemoryProvider) StartReporting(interval time.Duration, report func(Snapshot)) {
	if interval <= 0 || !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				report(m.Snapshot())
			case <-ctx.Done():
				report(m.Snapshot())
				return
			}
		}
	}()
}

// StopReporting stops the reporting loop started by StartReporting.
func (m *MemoryProvider) StopReporting() {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return
	}
	m.cancel()
	m.wg.Wait()
}

// SeriesKey renders a metric name and labels as a stable series key.
func SeriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Key + "=" + l.Value
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

type memoryCounter struct {
	provider *MemoryProvider
	name     string
}

func (c *memoryCounter) Add(ctx context.Context, value int64, labels ...Label) {
	v, _ := c.provider.counters.LoadOrStore(SeriesKey(c.name, labels), new(int64))
	atomic.AddInt64(v.(*int64), value)
}

type histogramValues struct {
	mu     sync.RWMutex
	values []float64
}

type memoryHistogram struct {
	provider *MemoryProvider
	name     string
}

func (h *memoryHistogram) Record(ctx context.Context, value float64, labels ...Label) {
	v, _ := h.provider.histograms.LoadOrStore(SeriesKey(h.name, labels), &histogramValues{})
	values := v.(*histogramValues)
	values.mu.Lock()
	values.values = append(values.values, value)
	values.mu.Unlock()
}

type gaugeValue struct {
	mu    sync.RWMutex
	value float64
}

type memoryGauge struct {
	provider *MemoryProvider
	name     string
}

func (g *memoryGauge) Set(ctx context.Context, value float64, labels ...Label) {
	v, _ := g.provider.gauges.LoadOrStore(SeriesKey(g.name, labels), &gaugeValue{})
	gauge := v.(*gaugeValue)
	gauge.mu.Lock()
	gauge.value = value
	gauge.mu.Unlock()
}

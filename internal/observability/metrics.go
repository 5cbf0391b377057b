package observability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// The registry keys every series by its rendered Prometheus identity, the
// metric name plus its sorted label pairs. Exposition is then a sorted walk
// over the map keys and a counter and a gauge can never collide silently.

type seriesKind int

const (
	counterSeries seriesKind = iota
	gaugeSeries
)

type series struct {
	kind   seriesKind
	name   string
	labels map[string]string
	value  float64
}

type MetricPoint struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

type Snapshot struct {
	Counters []MetricPoint `json:"counters"`
	Gauges   []MetricPoint `json:"gauges"`
}

type Registry struct {
	mu     sync.RWMutex
	series map[string]*series
}

func NewRegistry() *Registry {
	return &Registry{series: make(map[string]*series)}
}

var Default = NewRegistry()

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	if delta == 0 {
		return
	}
	r.upsert(counterSeries, name, labels, func(s *series) { s.value += delta })
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.upsert(gaugeSeries, name, labels, func(s *series) { s.value = value })
}

func (r *Registry) upsert(kind seriesKind, name string, labels map[string]string, apply func(*series)) {
	id, lcopy := seriesIdentity(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[id]
	if !ok {
		s = &series{kind: kind, name: promName(name), labels: lcopy}
		r.series[id] = s
	}
	apply(s)
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		Counters: make([]MetricPoint, 0, len(r.series)),
		Gauges:   make([]MetricPoint, 0, len(r.series)),
	}
	for _, id := range r.sortedIDsLocked() {
		s := r.series[id]
		p := MetricPoint{Name: s.name, Labels: cloneLabels(s.labels), Value: s.value}
		if s.kind == counterSeries {
			out.Counters = append(out.Counters, p)
		} else {
			out.Gauges = append(out.Gauges, p)
		}
	}
	return out
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series = make(map[string]*series)
}

// RenderPrometheus emits the text exposition format. Series identities are
// precomputed at write time, so each line is identity plus value.
func (r *Registry) RenderPrometheus() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for _, id := range r.sortedIDsLocked() {
		b.WriteString(id)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(r.series[id].value, 'f', -1, 64))
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.series))
	for id := range r.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// seriesIdentity renders `name{k="v",...}` with label keys sorted, returning
// a defensive copy of the labels alongside.
func seriesIdentity(name string, labels map[string]string) (string, map[string]string) {
	name = promName(name)
	if len(labels) == 0 {
		return name, nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lcopy := make(map[string]string, len(labels))
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		lcopy[k] = labels[k]
		fmt.Fprintf(&b, "%s=%q", promName(k), labels[k])
	}
	b.WriteByte('}')
	return b.String(), lcopy
}

func cloneLabels(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// promName maps a metric or label name onto the [a-zA-Z_][a-zA-Z0-9_]*
// charset Prometheus accepts.
func promName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "stakemarket_metric"
	}
	out := make([]rune, 0, len(name))
	for i, r := range name {
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || (r >= '0' && r <= '9' && i > 0)
		if valid {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

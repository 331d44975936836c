package metrics

import (
	"regexp"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// Collector exposes a Registry to Prometheus. Counters and gauges map to
// their Prometheus types; timers become summaries in seconds.
type Collector struct {
	registry  *Registry
	namespace string
}

// NewCollector wraps registry; every exported name is prefixed with
// namespace.
func NewCollector(registry *Registry, namespace string) *Collector {
	return &Collector{registry: registry, namespace: namespace}
}

// Describe sends nothing, which makes this an unchecked collector: the set
// of metrics grows as the application records new names.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.Snapshot()

	counters := make([]Metric, 0, len(snap.Counters))
	for _, m := range snap.Counters {
		counters = append(counters, m)
	}
	gauges := make([]Metric, 0, len(snap.Gauges))
	for _, m := range snap.Gauges {
		gauges = append(gauges, m)
	}
	c.collectValues(ch, counters, prometheus.CounterValue)
	c.collectValues(ch, gauges, prometheus.GaugeValue)

	timers := make([]TimerMetric, 0, len(snap.Timers))
	for _, t := range snap.Timers {
		timers = append(timers, t)
	}
	families := make(map[string][]TimerMetric)
	for _, t := range timers {
		families[t.Name] = append(families[t.Name], t)
	}
	for name, members := range families {
		labelSets := make([]map[string]string, len(members))
		help := ""
		for i, m := range members {
			labelSets[i] = m.Labels
			if help == "" {
				help = m.Description
			}
		}
		keys := unionKeys(labelSets)
		desc := prometheus.NewDesc(c.fqName(name)+"_seconds", helpOr(help, name), sanitizeAll(keys), nil)
		for _, m := range members {
			quantiles := map[float64]float64{}
			if m.P95 > 0 {
				quantiles[0.95] = m.P95 / 1000
			}
			if m.P99 > 0 {
				quantiles[0.99] = m.P99 / 1000
			}
			metric, err := prometheus.NewConstSummary(desc, uint64(m.Count), m.Sum/1000, quantiles, labelValues(keys, m.Labels)...)
			if err == nil {
				ch <- metric
			}
		}
	}
}

func (c *Collector) collectValues(ch chan<- prometheus.Metric, metrics []Metric, valueType prometheus.ValueType) {
	families := make(map[string][]Metric)
	for _, m := range metrics {
		families[m.Name] = append(families[m.Name], m)
	}
	for name, members := range families {
		labelSets := make([]map[string]string, len(members))
		help := ""
		for i, m := range members {
			labelSets[i] = m.Labels
			if help == "" {
				help = m.Description
			}
		}
		keys := unionKeys(labelSets)
		desc := prometheus.NewDesc(c.fqName(name), helpOr(help, name), sanitizeAll(keys), nil)
		for _, m := range members {
			metric, err := prometheus.NewConstMetric(desc, valueType, m.Value, labelValues(keys, m.Labels)...)
			if err == nil {
				ch <- metric
			}
		}
	}
}

func (c *Collector) fqName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	if c.namespace == "" {
		return name
	}
	return c.namespace + "_" + name
}

// unionKeys returns every label key used by a family, sorted, so all
// members of the family share one label schema.
func unionKeys(sets []map[string]string) []string {
	seen := make(map[string]struct{})
	for _, labels := range sets {
		for k := range labels {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sanitizeAll(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = invalidNameChars.ReplaceAllString(k, "_")
	}
	return out
}

func labelValues(keys []string, labels map[string]string) []string {
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return values
}

func helpOr(help, name string) string {
	if help != "" {
		return help
	}
	return name
}

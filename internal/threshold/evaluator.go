// Package threshold classifies metric readings against configured bounds.
package threshold

import "sort"

// Bounds holds the alarm limits of one metric. Nil means unbounded.
type Bounds struct {
	WarnMin *float64
	WarnMax *float64
	CritMin *float64
	CritMax *float64
}

// Classify applies inclusive bounds: a value equal to a limit breaches it.
func Classify(b *Bounds, value float64) Severity {
	if b == nil {
		return SeverityNormal
	}
	if atOrAbove(b.CritMax, value) || atOrBelow(b.CritMin, value) {
		return SeverityCritical
	}
	if atOrAbove(b.WarnMax, value) || atOrBelow(b.WarnMin, value) {
		return SeverityWarn
	}
	return SeverityNormal
}

func atOrAbove(limit *float64, value float64) bool {
	return limit != nil && value >= *limit
}

func atOrBelow(limit *float64, value float64) bool {
	return limit != nil && value <= *limit
}

// Result is the classification of one reading.
type Result struct {
	PerMetric map[string]Severity
	Aggregate Severity
	// Trigger names the metric that set the aggregate.
	Trigger      string
	TriggerValue float64
}

// Evaluate classifies every metric in the reading. Metrics without bounds are
// Normal, and the aggregate covers only metrics present in this reading.
func Evaluate(bounds map[string]Bounds, metrics map[string]float64) Result {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	res := Result{
		PerMetric: make(map[string]Severity, len(metrics)),
		Aggregate: SeverityNormal,
	}
	for _, name := range names {
		value := metrics[name]
		var sev Severity
		if b, ok := bounds[name]; ok {
			sev = Classify(&b, value)
		} else {
			sev = SeverityNormal
		}
		res.PerMetric[name] = sev
		if res.Trigger == "" || sev.Rank() > res.Aggregate.Rank() {
			res.Aggregate = sev
			res.Trigger = name
			res.TriggerValue = value
		}
	}
	return res
}

// Aggregate returns the maximum severity in a per-metric mapping.
func Aggregate(perMetric map[string]Severity) Severity {
	agg := SeverityNormal
	for _, sev := range perMetric {
		agg = Max(agg, sev)
	}
	return agg
}

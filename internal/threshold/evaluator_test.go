package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestClassifyBoundaries(t *testing.T) {
	b := &Bounds{
		WarnMin: ptr(20),
		WarnMax: ptr(60),
		CritMin: ptr(10),
		CritMax: ptr(80),
	}

	tests := []struct {
		name  string
		value float64
		want  Severity
	}{
		{name: "inside band", value: 40, want: SeverityNormal},
		{name: "equal warn max", value: 60, want: SeverityWarn},
		{name: "between warn and crit max", value: 70, want: SeverityWarn},
		{name: "equal crit max", value: 80, want: SeverityCritical},
		{name: "above crit max", value: 95, want: SeverityCritical},
		{name: "equal warn min", value: 20, want: SeverityWarn},
		{name: "between crit and warn min", value: 15, want: SeverityWarn},
		{name: "equal crit min", value: 10, want: SeverityCritical},
		{name: "below crit min", value: -3, want: SeverityCritical},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(b, tc.value))
		})
	}
}

func TestClassifyUnboundedSides(t *testing.T) {
	onlyMax := &Bounds{WarnMax: ptr(5)}
	assert.Equal(t, SeverityNormal, Classify(onlyMax, -1e9))
	assert.Equal(t, SeverityWarn, Classify(onlyMax, 5))
	assert.Equal(t, SeverityNormal, Classify(nil, 1e9))
	assert.Equal(t, SeverityNormal, Classify(&Bounds{}, 1e9))
}

func TestEvaluateAggregatesPresentMetrics(t *testing.T) {
	bounds := map[string]Bounds{
		"soil_moisture":  {WarnMin: ptr(30), CritMin: ptr(15)},
		"ambient_temp_c": {WarnMax: ptr(30), CritMax: ptr(38)},
	}

	res := Evaluate(bounds, map[string]float64{
		"soil_moisture":     25,
		"ambient_temp_c":    39,
		"ambient_light_lux": 100000,
	})

	assert.Equal(t, SeverityCritical, res.Aggregate)
	assert.Equal(t, "ambient_temp_c", res.Trigger)
	assert.Equal(t, 39.0, res.TriggerValue)
	assert.Equal(t, map[string]Severity{
		"soil_moisture":     SeverityWarn,
		"ambient_temp_c":    SeverityCritical,
		"ambient_light_lux": SeverityNormal,
	}, res.PerMetric)
}

func TestEvaluateWithoutConfigurationIsNormal(t *testing.T) {
	res := Evaluate(nil, map[string]float64{"x": 1})
	assert.Equal(t, SeverityNormal, res.Aggregate)
	assert.Equal(t, "x", res.Trigger)
}

func TestSeverityOrdering(t *testing.T) {
	assert.Equal(t, SeverityCritical, Max(SeverityWarn, SeverityCritical))
	assert.Equal(t, SeverityWarn, Max(SeverityWarn, SeverityNormal))
	assert.Equal(t, SeverityWarn, Aggregate(map[string]Severity{"a": SeverityNormal, "b": SeverityWarn}))
	assert.Equal(t, SeverityNormal, Aggregate(nil))
	assert.Equal(t, SeverityCritical, Parse("critical"))
	assert.Equal(t, SeverityNormal, Parse("bogus"))
}

package waterquality

import (
	"testing"

	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/matryer/is"
)

func f64(v float64) *float64 { return &v }

func TestCriticalBoundsTakePrecedence(t *testing.T) {
	is := is.New(t)

	reading := sensorReading(map[string]float64{"turbidity": 50})
	reading.QualityScore = 80

	alerts := EvaluateThresholds(reading, map[string]types.Threshold{
		"turbidity": {Max: f64(10), CriticalMax: f64(40)},
	})

	is.Equal(len(alerts), 1)
	is.Equal(alerts[0].Severity, types.AlertSeverityCritical)
	is.Equal(alerts[0].Parameter, "turbidity")
	is.Equal(alerts[0].ObservedValue, 50.0)
	is.Equal(alerts[0].ThresholdValue, 40.0)
}

func TestAtMostOneAlertPerParameter(t *testing.T) {
	is := is.New(t)

	// below both min and criticalMin, only the critical alert is raised
	reading := sensorReading(map[string]float64{"dissolvedOxygen": 0.5})
	reading.QualityScore = 80

	alerts := EvaluateThresholds(reading, map[string]types.Threshold{
		"dissolvedOxygen": {Min: f64(4), CriticalMin: f64(2)},
	})

	is.Equal(len(alerts), 1)
	is.Equal(alerts[0].Severity, types.AlertSeverityCritical)
	is.Equal(alerts[0].Message, "dissolvedOxygen critically low")
}

func TestWarningWhenOnlyPlainBoundExceeded(t *testing.T) {
	is := is.New(t)

	reading := sensorReading(map[string]float64{"tds": 800})
	reading.QualityScore = 80

	alerts := EvaluateThresholds(reading, map[string]types.Threshold{
		"tds": {Max: f64(750), CriticalMax: f64(1200)},
	})

	is.Equal(len(alerts), 1)
	is.Equal(alerts[0].Severity, types.AlertSeverityWarning)
	is.Equal(alerts[0].Message, "tds above normal")
}

func TestValuesWithinBoundsRaiseNothing(t *testing.T) {
	is := is.New(t)

	reading := sensorReading(map[string]float64{"temperature": 20})
	reading.QualityScore = 80

	alerts := EvaluateThresholds(reading, map[string]types.Threshold{
		"temperature": {Min: f64(5), Max: f64(30)},
	})

	is.Equal(len(alerts), 0)
}

func TestParametersWithoutThresholdsAreSkipped(t *testing.T) {
	is := is.New(t)

	reading := sensorReading(map[string]float64{"turbidity": 500})
	reading.QualityScore = 80

	alerts := EvaluateThresholds(reading, map[string]types.Threshold{})

	is.Equal(len(alerts), 0)
}

func TestOverallBreakpoints(t *testing.T) {
	is := is.New(t)

	critical := types.Reading{QualityScore: 30}
	alerts := EvaluateThresholds(critical, nil)
	is.Equal(len(alerts), 1)
	is.Equal(alerts[0].Severity, types.AlertSeverityCritical)
	is.Equal(alerts[0].Parameter, types.AlertParameterOverall)
	is.Equal(alerts[0].Message, "overall water quality critically poor")

	warning := types.Reading{QualityScore: 59}
	alerts = EvaluateThresholds(warning, nil)
	is.Equal(len(alerts), 1)
	is.Equal(alerts[0].Severity, types.AlertSeverityWarning)
	is.Equal(alerts[0].Message, "overall water quality below normal")

	healthy := types.Reading{QualityScore: 60}
	alerts = EvaluateThresholds(healthy, nil)
	is.Equal(len(alerts), 0)
}

func TestAlertsAreOrderedByParameterName(t *testing.T) {
	is := is.New(t)

	reading := sensorReading(map[string]float64{
		"turbidity": 100,
		"tds":       5000,
	})
	reading.QualityScore = 80

	alerts := EvaluateThresholds(reading, map[string]types.Threshold{
		"turbidity": {CriticalMax: f64(40)},
		"tds":       {CriticalMax: f64(1200)},
	})

	is.Equal(len(alerts), 2)
	is.Equal(alerts[0].Parameter, "tds")
	is.Equal(alerts[1].Parameter, "turbidity")
}

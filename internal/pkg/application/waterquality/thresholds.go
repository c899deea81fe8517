package waterquality

import (
	"fmt"
	"slices"

	"github.com/diwise/water-quality-mgmt/pkg/types"
)

// overall score breakpoints, evaluated for every reading regardless of source
const (
	overallCriticalBelow = 40
	overallWarningBelow  = 60
)

// EvaluateThresholds checks each sensor parameter against the device's
// configured bounds and the reading's overall score against the fixed global
// breakpoints. At most one alert is emitted per parameter, critical bounds
// take precedence over plain out-of-range. Pure, parameters are evaluated in
// ascending name order so the alert list is deterministic.
func EvaluateThresholds(reading types.Reading, thresholds map[string]types.Threshold) []types.AlertEvent {
	alerts := make([]types.AlertEvent, 0)

	parameters := make([]string, 0, len(reading.SensorPayload))
	for parameter := range reading.SensorPayload {
		parameters = append(parameters, parameter)
	}
	slices.Sort(parameters)

	for _, parameter := range parameters {
		t, ok := thresholds[parameter]
		if !ok {
			continue
		}

		value := reading.SensorPayload[parameter].Value

		if alert, ok := evaluateParameter(parameter, value, t); ok {
			alerts = append(alerts, alert)
		}
	}

	if alert, ok := evaluateOverall(reading.QualityScore); ok {
		alerts = append(alerts, alert)
	}

	return alerts
}

func evaluateParameter(parameter string, value float64, t types.Threshold) (types.AlertEvent, bool) {
	alert := func(severity, message string, threshold float64) (types.AlertEvent, bool) {
		return types.AlertEvent{
			Severity:       severity,
			Parameter:      parameter,
			Message:        message,
			ObservedValue:  value,
			ThresholdValue: threshold,
		}, true
	}

	if t.CriticalMin != nil && value < *t.CriticalMin {
		return alert(types.AlertSeverityCritical, fmt.Sprintf("%s critically low", parameter), *t.CriticalMin)
	}
	if t.CriticalMax != nil && value > *t.CriticalMax {
		return alert(types.AlertSeverityCritical, fmt.Sprintf("%s critically high", parameter), *t.CriticalMax)
	}
	if t.Min != nil && value < *t.Min {
		return alert(types.AlertSeverityWarning, fmt.Sprintf("%s below normal", parameter), *t.Min)
	}
	if t.Max != nil && value > *t.Max {
		return alert(types.AlertSeverityWarning, fmt.Sprintf("%s above normal", parameter), *t.Max)
	}

	return types.AlertEvent{}, false
}

func evaluateOverall(score int) (types.AlertEvent, bool) {
	if score < overallCriticalBelow {
		return types.AlertEvent{
			Severity:       types.AlertSeverityCritical,
			Parameter:      types.AlertParameterOverall,
			Message:        "overall water quality critically poor",
			ObservedValue:  float64(score),
			ThresholdValue: overallCriticalBelow,
		}, true
	}

	if score < overallWarningBelow {
		return types.AlertEvent{
			Severity:       types.AlertSeverityWarning,
			Parameter:      types.AlertParameterOverall,
			Message:        "overall water quality below normal",
			ObservedValue:  float64(score),
			ThresholdValue: overallWarningBelow,
		}, true
	}

	return types.AlertEvent{}, false
}

package waterquality

import (
	"math"

	"github.com/diwise/water-quality-mgmt/pkg/types"
)

const (
	ParameterTurbidity       = "turbidity"
	ParameterTDS             = "tds"
	ParameterTemperature     = "temperature"
	ParameterDissolvedOxygen = "dissolvedOxygen"
)

// defaultScore is used when a payload contains no recognized parameter or
// rating at all.
const defaultScore = 50

var sensorWeights = map[string]float64{
	ParameterTurbidity:       0.45,
	ParameterTDS:             0.20,
	ParameterTemperature:     0.15,
	ParameterDissolvedOxygen: 0.20,
}

// Score reduces a reading's payload to a normalized 0-100 quality score and
// its categorical status. Pure and deterministic, scoring the same payload
// twice always yields the same result.
func Score(reading types.Reading) (int, string) {
	var score int

	switch reading.Source {
	case types.SourceSensor:
		score = scoreSensor(reading.SensorPayload)
	default:
		if reading.ReviewPayload != nil {
			score = scoreReview(*reading.ReviewPayload)
		} else if reading.SensorPayload != nil {
			score = scoreSensor(reading.SensorPayload)
		} else {
			score = defaultScore
		}
	}

	return score, StatusFor(score)
}

// StatusFor maps a quality score onto the fixed status breakpoints.
func StatusFor(score int) string {
	switch {
	case score >= 80:
		return types.StatusExcellent
	case score >= 60:
		return types.StatusGood
	case score >= 40:
		return types.StatusFair
	case score >= 20:
		return types.StatusPoor
	default:
		return types.StatusCritical
	}
}

// scoreSensor computes a weighted average over the parameters actually
// present, renormalizing the weights to sum to one over that subset.
func scoreSensor(payload map[string]types.Measurement) int {
	weightSum := 0.0
	weighted := 0.0

	for parameter, weight := range sensorWeights {
		m, ok := payload[parameter]
		if !ok {
			continue
		}

		weightSum += weight
		weighted += weight * sensorSubScore(parameter, m.Value)
	}

	if weightSum == 0 {
		return defaultScore
	}

	return clampScore(weighted / weightSum)
}

func sensorSubScore(parameter string, value float64) float64 {
	switch parameter {
	case ParameterTurbidity: // NTU
		switch {
		case value < 5:
			return 100
		case value < 10:
			return 80
		case value < 20:
			return 60
		default:
			return 30
		}
	case ParameterTDS: // ppm
		switch {
		case value >= 150 && value <= 500:
			return 100
		case value >= 100 && value <= 750:
			return 80
		case value >= 50 && value <= 1000:
			return 60
		default:
			return 40
		}
	case ParameterTemperature: // °C
		switch {
		case value >= 10 && value <= 25:
			return 100
		case value >= 5 && value <= 30:
			return 80
		default:
			return 60
		}
	case ParameterDissolvedOxygen: // mg/L
		switch {
		case value > 6:
			return 100
		case value > 4:
			return 80
		case value > 2:
			return 60
		default:
			return 30
		}
	}

	return 0
}

// scoreReview maps 1-5 ratings linearly onto 0-100 and weights them the same
// way sensor parameters are weighted, renormalizing over present ratings.
func scoreReview(payload types.ReviewPayload) int {
	ratings := []struct {
		rating int
		weight float64
	}{
		{payload.OverallRating, 0.40},
		{payload.TasteRating, 0.20},
		{payload.ClarityRating, 0.20},
		{payload.OdorRating, 0.20},
	}

	weightSum := 0.0
	weighted := 0.0

	for _, r := range ratings {
		if r.rating < 1 || r.rating > 5 {
			continue
		}

		weightSum += r.weight
		weighted += r.weight * (float64(r.rating) / 5.0 * 100.0)
	}

	if weightSum == 0 {
		return defaultScore
	}

	return clampScore(weighted / weightSum)
}

func clampScore(score float64) int {
	return int(math.Round(math.Min(100, math.Max(0, score))))
}

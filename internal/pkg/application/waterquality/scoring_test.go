package waterquality

import (
	"testing"

	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/matryer/is"
)

func TestStatusBreakpoints(t *testing.T) {
	is := is.New(t)

	expectations := map[int]string{
		0:   types.StatusCritical,
		19:  types.StatusCritical,
		20:  types.StatusPoor,
		39:  types.StatusPoor,
		40:  types.StatusFair,
		59:  types.StatusFair,
		60:  types.StatusGood,
		79:  types.StatusGood,
		80:  types.StatusExcellent,
		100: types.StatusExcellent,
	}

	for score, expected := range expectations {
		is.Equal(StatusFor(score), expected)
	}
}

func TestScoreSensorReadingWithGoodValues(t *testing.T) {
	is := is.New(t)

	score, status := Score(sensorReading(map[string]float64{
		"turbidity":       2.1,
		"tds":             150,
		"temperature":     22.5,
		"dissolvedOxygen": 8.5,
	}))

	is.Equal(score, 100)
	is.Equal(status, types.StatusExcellent)
}

func TestScoreRenormalizesOverPresentParameters(t *testing.T) {
	is := is.New(t)

	// a single parameter reading scores exactly that parameter's sub score
	score, status := Score(sensorReading(map[string]float64{
		"turbidity": 25,
	}))

	is.Equal(score, 30)
	is.Equal(status, types.StatusCritical)
}

func TestScoreIsAConvexCombinationOfSubScores(t *testing.T) {
	is := is.New(t)

	// sub scores here are 100 (turbidity < 5) and 60 (tds > 750), so the
	// weighted result must land strictly between them
	score, _ := Score(sensorReading(map[string]float64{
		"turbidity": 2.0,
		"tds":       900,
	}))

	is.True(score > 60)
	is.True(score < 100)
}

func TestScoreUnknownParametersGetDefaultSubScore(t *testing.T) {
	is := is.New(t)

	score, status := Score(sensorReading(map[string]float64{
		"ph": 7.2,
	}))

	is.Equal(score, 50)
	is.Equal(status, types.StatusFair)
}

func TestScoreIsIdempotent(t *testing.T) {
	is := is.New(t)

	reading := sensorReading(map[string]float64{
		"turbidity":       7.5,
		"tds":             600,
		"temperature":     28,
		"dissolvedOxygen": 5,
	})

	first, _ := Score(reading)
	second, _ := Score(reading)

	is.Equal(first, second)
}

func TestScoreReview(t *testing.T) {
	is := is.New(t)

	score, status := Score(types.Reading{
		Source: types.SourceHumanReview,
		ReviewPayload: &types.ReviewPayload{
			OverallRating: 5,
			TasteRating:   5,
			ClarityRating: 5,
			OdorRating:    5,
		},
	})

	is.Equal(score, 100)
	is.Equal(status, types.StatusExcellent)
}

func TestScoreReviewRenormalizesOverProvidedRatings(t *testing.T) {
	is := is.New(t)

	// only the overall rating is set, so it alone decides the score
	score, _ := Score(types.Reading{
		Source: types.SourceHumanReview,
		ReviewPayload: &types.ReviewPayload{
			OverallRating: 3,
		},
	})

	is.Equal(score, 60)
}

func TestScoreReviewWithoutRatingsGetsDefault(t *testing.T) {
	is := is.New(t)

	score, status := Score(types.Reading{
		Source: types.SourceHumanReview,
		ReviewPayload: &types.ReviewPayload{
			Comment: "tastes odd",
		},
	})

	is.Equal(score, 50)
	is.Equal(status, types.StatusFair)
}

func sensorReading(values map[string]float64) types.Reading {
	payload := make(map[string]types.Measurement, len(values))
	for parameter, value := range values {
		payload[parameter] = types.Measurement{Value: value}
	}

	return types.Reading{
		Source:        types.SourceSensor,
		SensorPayload: payload,
	}
}

package waterquality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/devices"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/fanout"
	"github.com/diwise/water-quality-mgmt/internal/pkg/infrastructure/storage"
	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/matryer/is"
)

func TestIngestSensorReadingWithGoodValues(t *testing.T) {
	is, svc, deps := testService(t)

	reading, err := svc.Ingest(context.Background(), IncomingReading{
		Location: &types.Location{Latitude: 62.39, Longitude: 17.31},
		Source:   types.SourceSensor,
		DeviceID: "device-01",
		SensorPayload: payload(map[string]float64{
			"turbidity":       2.1,
			"tds":             150,
			"temperature":     22.5,
			"dissolvedOxygen": 8.5,
		}),
	})

	is.NoErr(err)
	is.True(reading.ID != "")
	is.Equal(reading.QualityScore, 100)
	is.Equal(reading.Status, types.StatusExcellent)
	is.Equal(len(reading.Alerts), 0)
	is.Equal(reading.Tenant, "default")

	is.Equal(len(deps.store.added), 1)
	is.Equal(len(deps.registry.successes), 1)
	is.Equal(deps.registry.successes[0], 100)
}

func TestIngestSingleParameterReadingGoesCritical(t *testing.T) {
	is, svc, _ := testService(t)

	reading, err := svc.Ingest(context.Background(), IncomingReading{
		Location:      &types.Location{Latitude: 62.39, Longitude: 17.31},
		Source:        types.SourceSensor,
		DeviceID:      "device-01",
		SensorPayload: payload(map[string]float64{"turbidity": 25}),
	})

	is.NoErr(err)
	is.Equal(reading.QualityScore, 30)
	is.Equal(reading.Status, types.StatusCritical)

	is.Equal(len(reading.Alerts), 1)
	is.Equal(reading.Alerts[0].Parameter, types.AlertParameterOverall)
	is.Equal(reading.Alerts[0].Severity, types.AlertSeverityCritical)
}

func TestIngestRaisesThresholdAndOverallAlerts(t *testing.T) {
	is, svc, deps := testService(t)

	deps.registry.device.Thresholds = map[string]types.Threshold{
		"turbidity": {Max: f64(10)},
	}

	reading, err := svc.Ingest(context.Background(), IncomingReading{
		Location:      &types.Location{Latitude: 62.39, Longitude: 17.31},
		Source:        types.SourceSensor,
		DeviceID:      "device-01",
		SensorPayload: payload(map[string]float64{"turbidity": 25}),
	})

	is.NoErr(err)
	is.Equal(len(reading.Alerts), 2)
	is.Equal(reading.Alerts[0].Parameter, "turbidity")
	is.Equal(reading.Alerts[0].Severity, types.AlertSeverityWarning)
	is.Equal(reading.Alerts[1].Parameter, types.AlertParameterOverall)
}

func TestIngestAppliesCalibrationOffsetsBeforeScoring(t *testing.T) {
	is, svc, deps := testService(t)

	// raw value 22 plus offset 5 lands in the 80 band instead of 100
	deps.registry.device.Calibration = map[string]types.Calibration{
		"temperature": {Offset: 5},
	}

	reading, err := svc.Ingest(context.Background(), IncomingReading{
		Location:      &types.Location{Latitude: 62.39, Longitude: 17.31},
		Source:        types.SourceSensor,
		DeviceID:      "device-01",
		SensorPayload: payload(map[string]float64{"temperature": 22}),
	})

	is.NoErr(err)
	is.Equal(reading.SensorPayload["temperature"].Value, 27.0)
	is.Equal(reading.QualityScore, 80)
}

func TestIngestReviewReading(t *testing.T) {
	is, svc, deps := testService(t)

	reading, err := svc.Ingest(context.Background(), IncomingReading{
		Location: &types.Location{Latitude: 62.39, Longitude: 17.31},
		Source:   types.SourceHumanReview,
		ReviewPayload: &types.ReviewPayload{
			OverallRating: 4,
			TasteRating:   4,
			ClarityRating: 5,
			OdorRating:    4,
		},
	})

	is.NoErr(err)
	is.Equal(reading.QualityScore, 84)
	is.Equal(reading.Status, types.StatusExcellent)

	// reviews never touch device counters
	is.Equal(len(deps.registry.successes), 0)
}

func TestIngestRejectsInvalidInputWithoutSideEffects(t *testing.T) {
	is, svc, deps := testService(t)

	invalid := []IncomingReading{
		{Source: types.SourceSensor, DeviceID: "d", SensorPayload: payload(map[string]float64{"tds": 1})},
		{Location: &types.Location{}, Source: types.SourceSensor, SensorPayload: payload(map[string]float64{"tds": 1})},
		{Location: &types.Location{}, Source: types.SourceSensor, DeviceID: "d"},
		{Location: &types.Location{}, Source: "guesswork"},
		{Location: &types.Location{}, Source: types.SourceHumanReview},
		{Location: &types.Location{}, Source: types.SourceManual, SensorPayload: payload(map[string]float64{"tds": 1}), ReviewPayload: &types.ReviewPayload{OverallRating: 3}},
	}

	for _, in := range invalid {
		_, err := svc.Ingest(context.Background(), in)

		verr := ValidationError{}
		is.True(errors.As(err, &verr))
		is.True(verr.Field != "")
	}

	is.Equal(len(deps.store.added), 0)
	is.Equal(len(deps.registry.successes), 0)
	is.Equal(deps.registry.failures, 0)
}

func TestIngestSurfacesPersistenceErrorsAndCountsTheFailure(t *testing.T) {
	is, svc, deps := testService(t)

	wanted := errors.New("connection lost")
	deps.store.addErr = wanted

	_, err := svc.Ingest(context.Background(), IncomingReading{
		Location:      &types.Location{Latitude: 62.39, Longitude: 17.31},
		Source:        types.SourceSensor,
		DeviceID:      "device-01",
		SensorPayload: payload(map[string]float64{"tds": 300}),
	})

	is.True(errors.Is(err, wanted))
	is.Equal(len(deps.registry.successes), 0)
	is.Equal(deps.registry.failures, 1)
}

func TestIngestPublishesOnDeviceAndLocationTopics(t *testing.T) {
	is, svc, deps := testService(t)

	deviceSub := deps.hub.Subscribe(fanout.DeviceTopic("device-01"))
	locationSub := deps.hub.Subscribe(fanout.LocationTopic(types.Location{Latitude: 62.39, Longitude: 17.31}))

	_, err := svc.Ingest(context.Background(), IncomingReading{
		Location:      &types.Location{Latitude: 62.39, Longitude: 17.31},
		Source:        types.SourceSensor,
		DeviceID:      "device-01",
		SensorPayload: payload(map[string]float64{"turbidity": 1}),
	})
	is.NoErr(err)

	event := <-deviceSub.Events()
	is.Equal(event.Type, fanout.EventReadingCreated)

	event = <-locationSub.Events()
	is.Equal(event.Type, fanout.EventReadingCreated)

	is.Equal(len(deps.messenger.PublishOnTopicCalls()), 1)
	is.Equal(deps.messenger.PublishOnTopicCalls()[0].Message.TopicName(), "reading.created")
}

type testDeps struct {
	store     *readingStorageMock
	registry  *deviceRegistryMock
	hub       fanout.Hub
	messenger *messaging.MsgContextMock
}

func testService(t *testing.T) (*is.I, WaterQuality, *testDeps) {
	deps := &testDeps{
		store: &readingStorageMock{},
		registry: &deviceRegistryMock{
			device: types.Device{
				DeviceID: "device-01",
				Tenant:   "default",
				Status:   types.DeviceStateOnline,
			},
		},
		hub: fanout.New(),
		messenger: &messaging.MsgContextMock{
			PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
				return nil
			},
		},
	}

	return is.New(t), New(deps.store, deps.registry, deps.hub, deps.messenger), deps
}

func payload(values map[string]float64) map[string]types.Measurement {
	p := make(map[string]types.Measurement, len(values))
	for parameter, value := range values {
		p[parameter] = types.Measurement{Value: value}
	}
	return p
}

type readingStorageMock struct {
	added  []types.Reading
	addErr error
}

func (m *readingStorageMock) AddReading(ctx context.Context, reading types.Reading) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, reading)
	return nil
}

func (m *readingStorageMock) GetReading(ctx context.Context, conditions ...storage.ConditionFunc) (types.Reading, error) {
	if len(m.added) == 0 {
		return types.Reading{}, storage.ErrNoRows
	}
	return m.added[0], nil
}

func (m *readingStorageMock) QueryReadings(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Reading], error) {
	return types.Collection[types.Reading]{Data: m.added}, nil
}

func (m *readingStorageMock) AcknowledgeReading(ctx context.Context, readingID, acknowledgedBy string, at time.Time) error {
	return nil
}

type deviceRegistryMock struct {
	device    types.Device
	successes []int
	failures  int
}

func (m *deviceRegistryMock) Register(ctx context.Context, device types.Device) error {
	return nil
}

func (m *deviceRegistryMock) FindOrRegister(ctx context.Context, deviceID, tenant string, location types.Location) (types.Device, error) {
	return m.device, nil
}

func (m *deviceRegistryMock) GetByDeviceID(ctx context.Context, deviceID string, tenants []string) (types.Device, error) {
	return m.device, nil
}

func (m *deviceRegistryMock) Query(ctx context.Context, params map[string][]string, tenants []string) (types.Collection[types.Device], error) {
	return types.Collection[types.Device]{}, nil
}

func (m *deviceRegistryMock) SetState(ctx context.Context, deviceID, state string) error {
	return nil
}

func (m *deviceRegistryMock) HandleStatusMessage(ctx context.Context, status types.StatusMessage) error {
	return nil
}

func (m *deviceRegistryMock) RecordSuccessfulReading(ctx context.Context, deviceID string, score int, ts time.Time) error {
	m.successes = append(m.successes, score)
	return nil
}

func (m *deviceRegistryMock) RecordFailedReading(ctx context.Context, deviceID string) error {
	m.failures++
	return nil
}

func (m *deviceRegistryMock) SweepOffline(ctx context.Context, timeout time.Duration) ([]types.Device, error) {
	return nil, nil
}

var _ devices.DeviceRegistry = &deviceRegistryMock{}

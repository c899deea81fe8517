package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

// these tests run against a local postgres and are skipped when none is up

func testSetup(t *testing.T) (context.Context, *Storage) {
	ctx := context.Background()

	config := Config{
		host:     "localhost",
		user:     "postgres",
		password: "password",
		port:     "5432",
		dbname:   "postgres",
		sslmode:  "disable",
	}

	s, err := New(ctx, config)
	if err != nil {
		t.SkipNow()
	}

	err = s.Initialize(ctx)
	if err != nil {
		t.SkipNow()
	}

	return ctx, s
}

func TestAddAndGetReading(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	reading := newReading()

	is.NoErr(s.AddReading(ctx, reading))

	fetched, err := s.GetReading(ctx, WithReadingID(reading.ID))
	is.NoErr(err)
	is.Equal(fetched.ID, reading.ID)
	is.Equal(fetched.QualityScore, reading.QualityScore)
	is.Equal(fetched.SensorPayload["turbidity"].Value, 2.1)
}

func TestAddReadingTwiceFails(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	reading := newReading()

	is.NoErr(s.AddReading(ctx, reading))

	err := s.AddReading(ctx, reading)
	is.True(errors.Is(err, ErrAlreadyExist))
}

func TestAcknowledgeReadingIsMonotonic(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	reading := newReading()
	is.NoErr(s.AddReading(ctx, reading))

	is.NoErr(s.AcknowledgeReading(ctx, reading.ID, "operator@example.com", time.Now().UTC()))

	fetched, err := s.GetReading(ctx, WithReadingID(reading.ID))
	is.NoErr(err)
	is.True(fetched.Acknowledged)
	is.Equal(fetched.AcknowledgedBy, "operator@example.com")

	err = s.AcknowledgeReading(ctx, reading.ID, "someone-else@example.com", time.Now().UTC())
	is.True(errors.Is(err, ErrAlreadyAcknowledged))
}

func TestQueryReadingsByDevice(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	reading := newReading()
	is.NoErr(s.AddReading(ctx, reading))

	collection, err := s.QueryReadings(ctx, WithDeviceID(reading.DeviceID), WithLimit(10))
	is.NoErr(err)
	is.True(collection.TotalCount >= 1)
	is.Equal(collection.Data[0].DeviceID, reading.DeviceID)
}

func TestDeleteReadingsBefore(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	old := newReading()
	old.Timestamp = time.Now().UTC().Add(-40 * 24 * time.Hour)
	is.NoErr(s.AddReading(ctx, old))

	deleted, err := s.DeleteReadingsBefore(ctx, types.SourceSensor, time.Now().UTC().Add(-30*24*time.Hour))
	is.NoErr(err)
	is.True(deleted >= 1)

	_, err = s.GetReading(ctx, WithReadingID(old.ID))
	is.True(errors.Is(err, ErrNoRows))
}

func TestSaveDeviceUpserts(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	device := types.Device{
		DeviceID:   uuid.NewString(),
		Tenant:     "default",
		Status:     types.DeviceStateOnline,
		LastSeenAt: time.Now().UTC(),
	}

	is.NoErr(s.SaveDevice(ctx, device))

	device.Status = types.DeviceStateOffline
	is.NoErr(s.SaveDevice(ctx, device))

	fetched, err := s.GetDevice(ctx, WithDeviceID(device.DeviceID))
	is.NoErr(err)
	is.Equal(fetched.Status, types.DeviceStateOffline)
}

func TestAddDeviceRejectsDuplicates(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	device := types.Device{DeviceID: uuid.NewString(), Tenant: "default", Status: types.DeviceStateOnline}

	is.NoErr(s.AddDevice(ctx, device))

	err := s.AddDevice(ctx, device)
	is.True(errors.Is(err, ErrAlreadyExist))
}

func newReading() types.Reading {
	return types.Reading{
		ID:        uuid.NewString(),
		Location:  types.Location{Latitude: 62.39, Longitude: 17.31},
		Source:    types.SourceSensor,
		DeviceID:  uuid.NewString(),
		Tenant:    "default",
		Timestamp: time.Now().UTC(),
		SensorPayload: map[string]types.Measurement{
			"turbidity": {Value: 2.1, Unit: "NTU"},
		},
		QualityScore: 100,
		Status:       types.StatusExcellent,
	}
}

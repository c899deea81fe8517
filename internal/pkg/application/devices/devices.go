package devices

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/water-quality-mgmt/internal/pkg/infrastructure/storage"
	"github.com/diwise/water-quality-mgmt/pkg/types"
)

var ErrDeviceNotFound = fmt.Errorf("device not found")
var ErrDeviceAlreadyExist = fmt.Errorf("device already exists")
var ErrInvalidDeviceState = fmt.Errorf("invalid device state")

// DefaultLivenessTimeout is how long a device may stay silent before the
// sweep demotes it to offline.
const DefaultLivenessTimeout = 10 * time.Minute

//go:generate moq -rm -out registry_mock.go . DeviceRegistry
type DeviceRegistry interface {
	Register(ctx context.Context, device types.Device) error
	FindOrRegister(ctx context.Context, deviceID, tenant string, location types.Location) (types.Device, error)
	GetByDeviceID(ctx context.Context, deviceID string, tenants []string) (types.Device, error)
	Query(ctx context.Context, params map[string][]string, tenants []string) (types.Collection[types.Device], error)

	SetState(ctx context.Context, deviceID, state string) error
	HandleStatusMessage(ctx context.Context, status types.StatusMessage) error

	RecordSuccessfulReading(ctx context.Context, deviceID string, score int, ts time.Time) error
	RecordFailedReading(ctx context.Context, deviceID string) error

	SweepOffline(ctx context.Context, timeout time.Duration) ([]types.Device, error)
}

//go:generate moq -rm -out devicestorage_mock.go . DeviceStorage
type DeviceStorage interface {
	AddDevice(ctx context.Context, device types.Device) error
	SaveDevice(ctx context.Context, device types.Device) error
	GetDevice(ctx context.Context, conditions ...storage.ConditionFunc) (types.Device, error)
	QueryDevices(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Device], error)
}

type Config struct {
	DefaultThresholds map[string]types.Threshold `yaml:"defaultThresholds"`
}

type registry struct {
	storage   DeviceStorage
	messenger messaging.MsgContext
	config    *Config

	locks keyedMutex
}

func New(storage DeviceStorage, messenger messaging.MsgContext, config *Config) DeviceRegistry {
	if config == nil {
		config = &Config{}
	}

	return &registry{
		storage:   storage,
		messenger: messenger,
		config:    config,
	}
}

// IsCalibrationDue reports whether any of the device's parameters has passed
// its next calibration date. Pure query, no transition.
func IsCalibrationDue(device types.Device, now time.Time) bool {
	for _, c := range device.Calibration {
		if !c.NextDue().After(now) {
			return true
		}
	}
	return false
}

func (r *registry) Register(ctx context.Context, device types.Device) error {
	if device.DeviceID == "" {
		return ErrDeviceNotFound
	}

	unlock := r.locks.lock(device.DeviceID)
	defer unlock()

	if device.Tenant == "" {
		device.Tenant = "default"
	}
	if device.Status == "" {
		device.Status = types.DeviceStateOnline
	}
	if !validState(device.Status) {
		return ErrInvalidDeviceState
	}
	if device.LastSeenAt.IsZero() {
		device.LastSeenAt = time.Now().UTC()
	}
	if device.Thresholds == nil {
		device.Thresholds = r.defaultThresholds()
	}

	err := r.storage.AddDevice(ctx, device)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExist) {
			return ErrDeviceAlreadyExist
		}
		return err
	}

	r.publish(ctx, &types.DeviceCreated{
		DeviceID:  device.DeviceID,
		Tenant:    device.Tenant,
		Timestamp: time.Now().UTC(),
	})

	return nil
}

// FindOrRegister resolves a device by id, implicitly registering unknown
// devices with the configured default thresholds.
func (r *registry) FindOrRegister(ctx context.Context, deviceID, tenant string, location types.Location) (types.Device, error) {
	unlock := r.locks.lock(deviceID)
	defer unlock()

	device, err := r.storage.GetDevice(ctx, storage.WithDeviceID(deviceID))
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, storage.ErrNoRows) {
		return types.Device{}, err
	}

	if tenant == "" {
		tenant = "default"
	}

	device = types.Device{
		DeviceID:   deviceID,
		Tenant:     tenant,
		Location:   location,
		Status:     types.DeviceStateOnline,
		LastSeenAt: time.Now().UTC(),
		Thresholds: r.defaultThresholds(),
	}

	err = r.storage.SaveDevice(ctx, device)
	if err != nil {
		return types.Device{}, err
	}

	r.publish(ctx, &types.DeviceCreated{
		DeviceID:  device.DeviceID,
		Tenant:    device.Tenant,
		Timestamp: time.Now().UTC(),
	})

	return device, nil
}

func (r *registry) GetByDeviceID(ctx context.Context, deviceID string, tenants []string) (types.Device, error) {
	device, err := r.storage.GetDevice(ctx, storage.WithDeviceID(deviceID), storage.WithTenants(tenants))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return types.Device{}, ErrDeviceNotFound
		}
		return types.Device{}, err
	}

	return device, nil
}

func (r *registry) Query(ctx context.Context, params map[string][]string, tenants []string) (types.Collection[types.Device], error) {
	conditions := []storage.ConditionFunc{storage.WithTenants(tenants)}

	for k, v := range params {
		if len(v) == 0 {
			continue
		}
		switch k {
		case "device_id":
			conditions = append(conditions, storage.WithDeviceID(v[0]))
		case "status":
			conditions = append(conditions, storage.WithStatus(v[0]))
		case "offset":
			if offset, err := strconv.Atoi(v[0]); err == nil {
				conditions = append(conditions, storage.WithOffset(offset))
			}
		case "limit":
			if limit, err := strconv.Atoi(v[0]); err == nil {
				conditions = append(conditions, storage.WithLimit(limit))
			}
		}
	}

	return r.storage.QueryDevices(ctx, conditions...)
}

// SetState is the explicit administrative transition. It may park a device in
// maintenance or error, and is the only way back out of those states.
func (r *registry) SetState(ctx context.Context, deviceID, state string) error {
	if !validState(state) {
		return ErrInvalidDeviceState
	}

	unlock := r.locks.lock(deviceID)
	defer unlock()

	device, err := r.storage.GetDevice(ctx, storage.WithDeviceID(deviceID))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return ErrDeviceNotFound
		}
		return err
	}

	if device.Status == state {
		return nil
	}

	device.Status = state

	err = r.storage.SaveDevice(ctx, device)
	if err != nil {
		return err
	}

	r.publishStateUpdated(ctx, device)

	return nil
}

func (r *registry) HandleStatusMessage(ctx context.Context, status types.StatusMessage) error {
	unlock := r.locks.lock(status.DeviceID)
	defer unlock()

	device, err := r.storage.GetDevice(ctx, storage.WithDeviceID(status.DeviceID))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return ErrDeviceNotFound
		}
		return err
	}

	ts := status.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	stateChanged := touch(&device, ts)

	if status.BatteryLevel != nil {
		device.Health.BatteryLevel = *status.BatteryLevel
	}
	if status.SignalStrength != nil {
		device.Health.SignalStrength = status.SignalStrength
	}
	if status.Error != nil {
		device.Health.ErrorCount++
		device.Health.LastError = *status.Error
	}

	err = r.storage.SaveDevice(ctx, device)
	if err != nil {
		return err
	}

	if stateChanged {
		r.publishStateUpdated(ctx, device)
	}

	return nil
}

// RecordSuccessfulReading commits the counter and liveness updates for one
// persisted reading. Callers invoke it only after persistence succeeded, so a
// cancelled ingestion never leaves partial counter mutations behind.
func (r *registry) RecordSuccessfulReading(ctx context.Context, deviceID string, score int, ts time.Time) error {
	unlock := r.locks.lock(deviceID)
	defer unlock()

	device, err := r.storage.GetDevice(ctx, storage.WithDeviceID(deviceID))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return ErrDeviceNotFound
		}
		return err
	}

	stateChanged := touch(&device, ts)

	device.Statistics.TotalReadings++
	device.Statistics.SuccessfulReadings++

	// running mean over successful readings only
	n := float64(device.Statistics.SuccessfulReadings)
	device.Statistics.AverageQualityScore += (float64(score) - device.Statistics.AverageQualityScore) / n

	err = r.storage.SaveDevice(ctx, device)
	if err != nil {
		return err
	}

	if stateChanged {
		r.publishStateUpdated(ctx, device)
	}

	return nil
}

// RecordFailedReading counts an ingestion attempt whose persistence failed.
// The device communicated, so liveness is refreshed, but its state is not
// downgraded.
func (r *registry) RecordFailedReading(ctx context.Context, deviceID string) error {
	unlock := r.locks.lock(deviceID)
	defer unlock()

	device, err := r.storage.GetDevice(ctx, storage.WithDeviceID(deviceID))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return ErrDeviceNotFound
		}
		return err
	}

	stateChanged := touch(&device, time.Now().UTC())

	device.Statistics.TotalReadings++
	device.Statistics.FailedReadings++

	err = r.storage.SaveDevice(ctx, device)
	if err != nil {
		return err
	}

	if stateChanged {
		r.publishStateUpdated(ctx, device)
	}

	return nil
}

// SweepOffline demotes every online device that has been silent for longer
// than the timeout and returns the demoted devices. Sticky states
// (maintenance, error) and devices already offline are left untouched. A
// single device failure is logged and does not abort the sweep.
func (r *registry) SweepOffline(ctx context.Context, timeout time.Duration) ([]types.Device, error) {
	log := logging.GetFromContext(ctx)

	now := time.Now().UTC()

	candidates, err := r.storage.QueryDevices(ctx,
		storage.WithStatus(types.DeviceStateOnline),
		storage.WithNotObservedSince(now.Add(-timeout)),
	)
	if err != nil {
		return nil, err
	}

	transitioned := make([]types.Device, 0, len(candidates.Data))

	for _, candidate := range candidates.Data {
		deviceID := candidate.DeviceID

		err := func() error {
			unlock := r.locks.lock(deviceID)
			defer unlock()

			device, err := r.storage.GetDevice(ctx, storage.WithDeviceID(deviceID))
			if err != nil {
				return err
			}

			// re-check under the device lock, a reading may have arrived
			if device.Status != types.DeviceStateOnline || now.Sub(device.LastSeenAt) <= timeout {
				return nil
			}

			device.Status = types.DeviceStateOffline

			err = r.storage.SaveDevice(ctx, device)
			if err != nil {
				return err
			}

			transitioned = append(transitioned, device)
			r.publishStateUpdated(ctx, device)

			return nil
		}()
		if err != nil {
			log.Error("could not sweep device", "device_id", deviceID, "err", err.Error())
		}
	}

	return transitioned, nil
}

// touch refreshes liveness after any accepted contact. Maintenance and error
// are sticky and require an explicit SetState to leave.
func touch(device *types.Device, ts time.Time) bool {
	if ts.After(device.LastSeenAt) {
		device.LastSeenAt = ts
	}

	if device.Status == types.DeviceStateMaintenance || device.Status == types.DeviceStateError {
		return false
	}

	if device.Status != types.DeviceStateOnline {
		device.Status = types.DeviceStateOnline
		return true
	}

	return false
}

func validState(state string) bool {
	switch state {
	case types.DeviceStateOnline, types.DeviceStateOffline, types.DeviceStateMaintenance, types.DeviceStateError:
		return true
	}
	return false
}

func (r *registry) defaultThresholds() map[string]types.Threshold {
	thresholds := make(map[string]types.Threshold, len(r.config.DefaultThresholds))
	for parameter, t := range r.config.DefaultThresholds {
		thresholds[parameter] = t
	}
	return thresholds
}

func (r *registry) publishStateUpdated(ctx context.Context, device types.Device) {
	r.publish(ctx, &types.DeviceStateUpdated{
		DeviceID:  device.DeviceID,
		State:     device.Status,
		Tenant:    device.Tenant,
		Timestamp: time.Now().UTC(),
	})
}

func (r *registry) publish(ctx context.Context, message messaging.TopicMessage) {
	if r.messenger == nil {
		return
	}

	err := r.messenger.PublishOnTopic(ctx, message)
	if err != nil {
		logging.GetFromContext(ctx).Error("failed to publish message", "topic", message.TopicName(), "err", err.Error())
	}
}

// keyedMutex serializes access per device id so that readings for one device
// never race while readings for different devices proceed independently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/jackc/pgx/v5"
)

// SaveDevice inserts or replaces the stored representation of a device. The
// full device document lives in the data column, the filterable parts are
// mirrored into their own columns.
func (s *Storage) SaveDevice(ctx context.Context, device types.Device) error {
	data, err := json.Marshal(device)
	if err != nil {
		return err
	}

	args := pgx.NamedArgs{
		"device_id": device.DeviceID,
		"status":    device.Status,
		"data":      string(data),
		"lat":       device.Location.Latitude,
		"lon":       device.Location.Longitude,
		"tenant":    device.Tenant,
		"last_seen": device.LastSeenAt.UTC(),
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO devices (device_id, status, data, location, tenant, last_seen)
		VALUES (@device_id, @status, @data, point(@lon,@lat), @tenant, @last_seen)
		ON CONFLICT (device_id) DO UPDATE
		SET status = @status, data = @data, location = point(@lon,@lat), tenant = @tenant,
		    last_seen = @last_seen, modified_on = CURRENT_TIMESTAMP
	`, args)
	if err != nil {
		return errors.Join(ErrStoreFailed, err)
	}

	return nil
}

func (s *Storage) AddDevice(ctx context.Context, device types.Device) error {
	_, err := s.GetDevice(ctx, WithDeviceID(device.DeviceID))
	if err == nil {
		return ErrAlreadyExist
	}
	if !errors.Is(err, ErrNoRows) {
		return err
	}

	return s.SaveDevice(ctx, device)
}

func (s *Storage) GetDevice(ctx context.Context, conditions ...ConditionFunc) (types.Device, error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	query := `SELECT data FROM devices ` + condition.Where()

	var data []byte

	err := s.pool.QueryRow(ctx, query, condition.NamedArgs()).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Device{}, ErrNoRows
		}
		return types.Device{}, errors.Join(ErrQueryRow, err)
	}

	device := types.Device{}
	err = json.Unmarshal(data, &device)
	if err != nil {
		return types.Device{}, err
	}

	return device, nil
}

func (s *Storage) QueryDevices(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Device], error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	offsetLimit, offset, limit := condition.OffsetLimit()

	query := `SELECT data, count(*) OVER () AS total FROM devices ` +
		condition.Where() + ` ` + condition.OrderBy() + ` ` + offsetLimit

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Device]{}, errors.Join(ErrQueryRow, err)
	}
	defer rows.Close()

	devices := make([]types.Device, 0)
	var total int64

	for rows.Next() {
		var data []byte

		err := rows.Scan(&data, &total)
		if err != nil {
			return types.Collection[types.Device]{}, err
		}

		device := types.Device{}
		err = json.Unmarshal(data, &device)
		if err != nil {
			return types.Collection[types.Device]{}, err
		}

		devices = append(devices, device)
	}

	if limit == 0 {
		limit = len(devices)
	}

	return types.Collection[types.Device]{
		Data:       devices,
		Count:      uint64(len(devices)),
		Offset:     uint64(offset),
		Limit:      uint64(limit),
		TotalCount: uint64(total),
	}, nil
}

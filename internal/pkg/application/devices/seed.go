package devices

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/water-quality-mgmt/pkg/types"
)

// Seed registers devices from a csv file on the form
//
//	deviceID;name;lat;lon;tenant;thresholds
//
// The thresholds column is optional and holds a json object keyed by
// parameter name; devices without one get the configured defaults. Devices
// that already exist are left as they are.
func Seed(ctx context.Context, registry DeviceRegistry, r io.Reader) error {
	log := logging.GetFromContext(ctx)

	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return err
	}

	strTof64 := func(s string) float64 {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0.0
		}
		return f
	}

	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) < 5 {
			log.Warn("skipping malformed seed row", "row", i)
			continue
		}

		device := types.Device{
			DeviceID: row[0],
			Name:     row[1],
			Location: types.Location{
				Latitude:  strTof64(row[2]),
				Longitude: strTof64(row[3]),
			},
			Tenant: row[4],
		}

		if len(row) > 5 && row[5] != "" {
			thresholds := map[string]types.Threshold{}
			err := json.Unmarshal([]byte(row[5]), &thresholds)
			if err != nil {
				log.Warn("skipping seed row with malformed thresholds", "row", i, "err", err.Error())
				continue
			}
			device.Thresholds = thresholds
		}

		err := registry.Register(ctx, device)
		if err != nil {
			if errors.Is(err, ErrDeviceAlreadyExist) {
				continue
			}
			return err
		}
	}

	return nil
}

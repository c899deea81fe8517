package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func (s *Storage) AddReading(ctx context.Context, reading types.Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return err
	}

	args := pgx.NamedArgs{
		"reading_id":   reading.ID,
		"device_id":    reading.DeviceID,
		"source":       reading.Source,
		"ts":           reading.Timestamp.UTC(),
		"score":        reading.QualityScore,
		"status":       reading.Status,
		"acknowledged": reading.Acknowledged,
		"data":         string(data),
		"lat":          reading.Location.Latitude,
		"lon":          reading.Location.Longitude,
		"tenant":       reading.Tenant,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO readings (reading_id, device_id, source, ts, score, status, acknowledged, data, location, tenant)
		VALUES (@reading_id, @device_id, @source, @ts, @score, @status, @acknowledged, @data, point(@lon,@lat), @tenant)
	`, args)
	if err != nil {
		if isDuplicateKeyErr(err) {
			return ErrAlreadyExist
		}
		return errors.Join(ErrStoreFailed, err)
	}

	return nil
}

func (s *Storage) GetReading(ctx context.Context, conditions ...ConditionFunc) (types.Reading, error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	query := `SELECT data FROM readings ` + condition.Where()

	var data []byte

	err := s.pool.QueryRow(ctx, query, condition.NamedArgs()).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Reading{}, ErrNoRows
		}
		return types.Reading{}, errors.Join(ErrQueryRow, err)
	}

	reading := types.Reading{}
	err = json.Unmarshal(data, &reading)
	if err != nil {
		return types.Reading{}, err
	}

	return reading, nil
}

func (s *Storage) QueryReadings(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Reading], error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	offsetLimit, offset, limit := condition.OffsetLimit()

	query := `SELECT data, count(*) OVER () AS total FROM readings ` +
		condition.Where() + ` ` + condition.OrderBy() + ` ` + offsetLimit

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Reading]{}, errors.Join(ErrQueryRow, err)
	}
	defer rows.Close()

	readings := make([]types.Reading, 0)
	var total int64

	for rows.Next() {
		var data []byte

		err := rows.Scan(&data, &total)
		if err != nil {
			return types.Collection[types.Reading]{}, err
		}

		reading := types.Reading{}
		err = json.Unmarshal(data, &reading)
		if err != nil {
			return types.Collection[types.Reading]{}, err
		}

		readings = append(readings, reading)
	}

	if limit == 0 {
		limit = len(readings)
	}

	return types.Collection[types.Reading]{
		Data:       readings,
		Count:      uint64(len(readings)),
		Offset:     uint64(offset),
		Limit:      uint64(limit),
		TotalCount: uint64(total),
	}, nil
}

// AcknowledgeReading sets the acknowledgement fields exactly once. A second
// acknowledgement attempt returns ErrAlreadyAcknowledged.
func (s *Storage) AcknowledgeReading(ctx context.Context, readingID, acknowledgedBy string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE readings
		SET acknowledged = TRUE,
		    data = jsonb_set(jsonb_set(data, '{acknowledged}', 'true'), '{acknowledgedBy}', to_jsonb(@by::text)) || jsonb_build_object('acknowledgedAt', @at::timestamptz)
		WHERE reading_id = @reading_id AND acknowledged = FALSE
	`, pgx.NamedArgs{
		"reading_id": readingID,
		"by":         acknowledgedBy,
		"at":         at.UTC(),
	})
	if err != nil {
		return errors.Join(ErrStoreFailed, err)
	}

	if tag.RowsAffected() == 0 {
		_, err := s.GetReading(ctx, WithReadingID(readingID))
		if err != nil {
			return err
		}
		return ErrAlreadyAcknowledged
	}

	return nil
}

// DeleteReadingsBefore removes readings from the given source older than the
// cutoff and reports the number of deleted rows.
func (s *Storage) DeleteReadingsBefore(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM readings WHERE source = @source AND ts < @cutoff
	`, pgx.NamedArgs{
		"source": source,
		"cutoff": cutoff.UTC(),
	})
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

// DailyAggregates returns reading count and mean score per source for the
// twenty four hours starting at day (UTC midnight).
func (s *Storage) DailyAggregates(ctx context.Context, day time.Time) ([]types.SourceAggregate, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT source, count(*), avg(score)
		FROM readings
		WHERE ts >= @from AND ts < @to
		GROUP BY source
	`, pgx.NamedArgs{
		"from": from,
		"to":   to,
	})
	if err != nil {
		return nil, errors.Join(ErrQueryRow, err)
	}
	defer rows.Close()

	aggregates := make([]types.SourceAggregate, 0)

	for rows.Next() {
		var a types.SourceAggregate

		err := rows.Scan(&a.Source, &a.Count, &a.AverageScore)
		if err != nil {
			return nil, err
		}

		aggregates = append(aggregates, a)
	}

	return aggregates, nil
}

func isDuplicateKeyErr(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // duplicate key
	}
	return false
}

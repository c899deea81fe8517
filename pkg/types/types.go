package types

import (
	"time"
)

const (
	SourceSensor      = "sensor"
	SourceHumanReview = "human_review"
	SourceManual      = "manual"
)

const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusFair      = "fair"
	StatusPoor      = "poor"
	StatusCritical  = "critical"
)

const (
	AlertSeverityWarning  = "warning"
	AlertSeverityCritical = "critical"

	AlertParameterOverall = "overall"
)

// Reading is one timestamped water quality observation, created once at
// ingestion and immutable afterwards except for the acknowledgement fields.
type Reading struct {
	ID       string   `json:"id"`
	Location Location `json:"location"`
	Source   string   `json:"source"`
	DeviceID string   `json:"deviceID,omitempty"`
	Tenant   string   `json:"tenant"`

	Timestamp time.Time `json:"timestamp"`

	SensorPayload map[string]Measurement `json:"sensorPayload,omitempty"`
	ReviewPayload *ReviewPayload         `json:"reviewPayload,omitempty"`

	Weather *WeatherSnapshot `json:"weather,omitempty"`

	QualityScore int          `json:"qualityScore"`
	Status       string       `json:"status"`
	Alerts       []AlertEvent `json:"alerts,omitempty"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

type Measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// ReviewPayload holds a human submitted review. Ratings range from 1 to 5,
// a zero value means the rating was not provided.
type ReviewPayload struct {
	OverallRating int      `json:"overallRating,omitempty"`
	TasteRating   int      `json:"tasteRating,omitempty"`
	ClarityRating int      `json:"clarityRating,omitempty"`
	OdorRating    int      `json:"odorRating,omitempty"`
	Comment       string   `json:"comment,omitempty"`
	HealthEffects []string `json:"healthEffects,omitempty"`
}

// AlertEvent describes one threshold violation or overall score breach. It is
// embedded in the reading that triggered it and never stored on its own.
type AlertEvent struct {
	Severity       string  `json:"severity"`
	Parameter      string  `json:"parameter"`
	Message        string  `json:"message"`
	ObservedValue  float64 `json:"observedValue"`
	ThresholdValue float64 `json:"thresholdValue"`
}

// WeatherSnapshot is pre-fetched by an external collaborator and attached to
// a reading as-is.
type WeatherSnapshot struct {
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Description string    `json:"description,omitempty"`
	ObservedAt  time.Time `json:"observedAt,omitzero"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

const (
	DeviceStateOnline      = "online"
	DeviceStateOffline     = "offline"
	DeviceStateMaintenance = "maintenance"
	DeviceStateError       = "error"
)

// DefaultCalibrationInterval is added to lastCalibratedAt when no explicit
// next calibration date has been set.
const DefaultCalibrationInterval = 30 * 24 * time.Hour

type Device struct {
	DeviceID    string   `json:"deviceID"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Tenant      string   `json:"tenant"`
	Location    Location `json:"location"`

	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`

	Thresholds  map[string]Threshold   `json:"thresholds,omitempty"`
	Calibration map[string]Calibration `json:"calibration,omitempty"`

	Health     DeviceHealth     `json:"health"`
	Statistics DeviceStatistics `json:"statistics"`
}

// Threshold bounds are optional per parameter, an absent bound is not checked.
type Threshold struct {
	Min         *float64 `json:"min,omitempty" yaml:"min"`
	Max         *float64 `json:"max,omitempty" yaml:"max"`
	CriticalMin *float64 `json:"criticalMin,omitempty" yaml:"criticalMin"`
	CriticalMax *float64 `json:"criticalMax,omitempty" yaml:"criticalMax"`
}

type Calibration struct {
	Offset            float64    `json:"offset"`
	LastCalibratedAt  time.Time  `json:"lastCalibratedAt"`
	NextCalibrationAt *time.Time `json:"nextCalibrationAt,omitempty"`
}

// NextDue returns the explicit next calibration date when one is set, or
// lastCalibratedAt plus the default interval.
func (c Calibration) NextDue() time.Time {
	if c.NextCalibrationAt != nil {
		return *c.NextCalibrationAt
	}
	return c.LastCalibratedAt.Add(DefaultCalibrationInterval)
}

type DeviceHealth struct {
	BatteryLevel   int      `json:"batteryLevel,omitempty"`
	SignalStrength *float64 `json:"signalStrength,omitempty"`
	ErrorCount     int      `json:"errorCount,omitempty"`
	LastError      string   `json:"lastError,omitempty"`
}

type DeviceStatistics struct {
	TotalReadings       int64   `json:"totalReadings"`
	SuccessfulReadings  int64   `json:"successfulReadings"`
	FailedReadings      int64   `json:"failedReadings"`
	AverageQualityScore float64 `json:"averageQualityScore"`
}

// StatusMessage is a heartbeat from a device that refreshes liveness and
// health without creating a reading.
type StatusMessage struct {
	DeviceID string `json:"deviceID"`

	BatteryLevel   *int     `json:"batteryLevel,omitempty"`
	SignalStrength *float64 `json:"signalStrength,omitempty"`
	Error          *string  `json:"error,omitempty"`

	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

// SourceAggregate is one row of the daily aggregate report.
type SourceAggregate struct {
	Source       string  `json:"source"`
	Count        int64   `json:"count"`
	AverageScore float64 `json:"averageScore"`
}

type Collection[T any] struct {
	Data       []T
	Count      uint64
	Offset     uint64
	Limit      uint64
	TotalCount uint64
}

type Bounds struct {
	MinLon float64
	MaxLon float64
	MinLat float64
	MaxLat float64
}

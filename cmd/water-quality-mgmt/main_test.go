package main

import (
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestParseAppConfig(t *testing.T) {
	is := is.New(t)

	cfg, err := parseAppConfig(strings.NewReader(`
defaultThresholds:
  turbidity:
    max: 10
    criticalMax: 40
  dissolvedOxygen:
    min: 4
    criticalMin: 2
maintenance:
  sweepInterval: 5m
  livenessTimeout: 10m
  retentionWindow: 720h
notifications:
  - id: daily-report
    type: waterquality.dailyreport
    subscribers:
      - endpoint: http://subscriber:8080/api/events
`))
	is.NoErr(err)

	is.Equal(len(cfg.DefaultThresholds), 2)
	is.Equal(*cfg.DefaultThresholds["turbidity"].Max, 10.0)
	is.Equal(*cfg.DefaultThresholds["turbidity"].CriticalMax, 40.0)
	is.Equal(*cfg.DefaultThresholds["dissolvedOxygen"].CriticalMin, 2.0)
	is.True(cfg.DefaultThresholds["dissolvedOxygen"].Max == nil)

	is.Equal(cfg.Maintenance.sweepInterval, 5*time.Minute)
	is.Equal(cfg.Maintenance.livenessTimeout, 10*time.Minute)
	is.Equal(cfg.Maintenance.retentionWindow, 30*24*time.Hour)

	is.Equal(len(cfg.Notifications), 1)
	is.Equal(cfg.Notifications[0].Subscribers[0].Endpoint, "http://subscriber:8080/api/events")
}

func TestParseAppConfigRejectsBadDurations(t *testing.T) {
	is := is.New(t)

	_, err := parseAppConfig(strings.NewReader(`
maintenance:
  sweepInterval: every now and then
`))
	is.True(err != nil)
}

func TestParseAppConfigDefaultsWhenEmpty(t *testing.T) {
	is := is.New(t)

	cfg, err := parseAppConfig(strings.NewReader(``))
	is.NoErr(err)
	is.Equal(cfg.Maintenance.sweepInterval, time.Duration(0))
	is.Equal(len(cfg.DefaultThresholds), 0)
}

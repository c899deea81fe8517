package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/devices"
	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/samber/lo"
)

const (
	DefaultSweepInterval   = 5 * time.Minute
	DefaultRetentionWindow = 30 * 24 * time.Hour
)

type Config struct {
	SweepInterval   time.Duration
	LivenessTimeout time.Duration
	RetentionWindow time.Duration
}

//go:generate moq -rm -out maintenancestorage_mock.go . MaintenanceStorage
type MaintenanceStorage interface {
	DeleteReadingsBefore(ctx context.Context, source string, cutoff time.Time) (int64, error)
	DailyAggregates(ctx context.Context, day time.Time) ([]types.SourceAggregate, error)
}

// Scheduler runs the recurring background work: the device liveness sweep,
// the reading retention cleanup and the daily aggregate report.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type scheduler struct {
	config    Config
	registry  devices.DeviceRegistry
	storage   MaintenanceStorage
	messenger messaging.MsgContext
	reports   ReportSender

	cancel context.CancelFunc
	done   sync.WaitGroup
}

func New(config Config, registry devices.DeviceRegistry, storage MaintenanceStorage, messenger messaging.MsgContext, reports ReportSender) Scheduler {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.LivenessTimeout <= 0 {
		config.LivenessTimeout = devices.DefaultLivenessTimeout
	}
	if config.RetentionWindow <= 0 {
		config.RetentionWindow = DefaultRetentionWindow
	}

	return &scheduler{
		config:    config,
		registry:  registry,
		storage:   storage,
		messenger: messenger,
		reports:   reports,
	}
}

func (s *scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.done.Add(3)
	go s.sweepLoop(ctx)
	go s.retentionLoop(ctx)
	go s.reportLoop(ctx)

	return nil
}

func (s *scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	stopped := make(chan struct{})
	go func() {
		s.done.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *scheduler) sweepLoop(ctx context.Context) {
	defer s.done.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *scheduler) sweep(ctx context.Context) {
	log := logging.GetFromContext(ctx)

	transitioned, err := s.registry.SweepOffline(ctx, s.config.LivenessTimeout)
	if err != nil {
		log.Error("liveness sweep failed", "err", err.Error())
		return
	}

	if len(transitioned) == 0 {
		return
	}

	log.Info("devices transitioned to offline", "count", len(transitioned))

	now := time.Now().UTC()

	for _, device := range transitioned {
		err := s.messenger.PublishOnTopic(ctx, &DeviceNotObserved{
			DeviceID:   device.DeviceID,
			ObservedAt: device.LastSeenAt,
			Timestamp:  now,
		})
		if err != nil {
			log.Error("failed to publish watchdog.deviceNotObserved", "device_id", device.DeviceID, "err", err.Error())
		}
	}
}

func (s *scheduler) retentionLoop(ctx context.Context) {
	defer s.done.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(ctx)
		}
	}
}

// cleanup removes sensor readings older than the retention window. Reviews
// and manual readings are kept indefinitely.
func (s *scheduler) cleanup(ctx context.Context) {
	log := logging.GetFromContext(ctx)

	cutoff := time.Now().UTC().Add(-s.config.RetentionWindow)

	deleted, err := s.storage.DeleteReadingsBefore(ctx, types.SourceSensor, cutoff)
	if err != nil {
		log.Error("retention cleanup failed", "err", err.Error())
		return
	}

	if deleted > 0 {
		log.Info("retention cleanup done", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
}

func (s *scheduler) reportLoop(ctx context.Context) {
	defer s.done.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.report(ctx)
		}
	}
}

// report aggregates the prior day and hands the result to the report sender.
func (s *scheduler) report(ctx context.Context) {
	log := logging.GetFromContext(ctx)

	day := time.Now().UTC().Add(-24 * time.Hour)

	aggregates, err := s.storage.DailyAggregates(ctx, day)
	if err != nil {
		log.Error("daily aggregation failed", "err", err.Error())
		return
	}

	total := lo.SumBy(aggregates, func(a types.SourceAggregate) int64 { return a.Count })
	log.Info("daily report", "day", day.Format("2006-01-02"), "sources", len(aggregates), "readings", total)

	if s.reports == nil {
		return
	}

	err = s.reports.Send(ctx, day, aggregates)
	if err != nil {
		log.Error("failed to deliver daily report", "err", err.Error())
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/devices"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/fanout"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/maintenance"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/waterquality"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/webevents"
	"github.com/diwise/water-quality-mgmt/internal/pkg/infrastructure/router"
	"github.com/diwise/water-quality-mgmt/internal/pkg/infrastructure/storage"
	"github.com/diwise/water-quality-mgmt/internal/pkg/presentation/api"
	"github.com/diwise/water-quality-mgmt/pkg/types"
	yaml "gopkg.in/yaml.v2"
)

const serviceName string = "water-quality-mgmt"

func main() {
	serviceVersion := buildinfo.SourceVersion()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, log, cleanup := o11y.Init(ctx, serviceName, serviceVersion, "json")
	defer cleanup()

	var configFilePath, devicesFilePath string

	flag.StringVar(&configFilePath, "config", "/opt/diwise/config/water-quality.yaml", "An application configuration file")
	flag.StringVar(&devicesFilePath, "devices", "/opt/diwise/config/devices.csv", "A file with devices to seed")
	flag.Parse()

	appCfg, err := loadAppConfig(configFilePath)
	if err != nil {
		log.Error("could not load application configuration", "err", err.Error())
		os.Exit(1)
	}

	s, err := storage.New(ctx, storage.LoadConfiguration(ctx))
	if err != nil {
		log.Error("could not configure storage", "err", err.Error())
		os.Exit(1)
	}

	err = s.Initialize(ctx)
	if err != nil {
		log.Error("could not initialize storage", "err", err.Error())
		os.Exit(1)
	}

	msgCfg := messaging.LoadConfiguration(ctx, serviceName, log)
	messenger, err := messaging.Initialize(ctx, msgCfg)
	if err != nil {
		log.Error("failed to init messenger", "err", err.Error())
		os.Exit(1)
	}

	registry := devices.New(s, messenger, &devices.Config{DefaultThresholds: appCfg.DefaultThresholds})
	hub := fanout.New()
	we := webevents.New()
	svc := waterquality.New(s, registry, hub, messenger)

	err = svc.RegisterTopicMessageHandlers(ctx)
	if err != nil {
		log.Error("could not register topic message handlers", "err", err.Error())
		os.Exit(1)
	}
	messenger.Start()

	go webevents.Bridge(ctx, hub, we)

	err = seedDevices(ctx, devicesFilePath, registry)
	if err != nil {
		log.Error("file with devices found but could not seed data", "err", err.Error())
		os.Exit(1)
	}

	scheduler := maintenance.New(
		maintenance.Config{
			SweepInterval:   appCfg.Maintenance.sweepInterval,
			LivenessTimeout: appCfg.Maintenance.livenessTimeout,
			RetentionWindow: appCfg.Maintenance.retentionWindow,
		},
		registry, s, messenger,
		maintenance.NewReportSender(&maintenance.NotificationConfig{Notifications: appCfg.Notifications}),
	)
	scheduler.Start(ctx)

	r, err := api.RegisterHandlers(ctx, router.New(serviceName), svc, registry, we)
	if err != nil {
		log.Error("could not setup router", "err", err.Error())
		os.Exit(1)
	}

	apiPort := fmt.Sprintf(":%s", env.GetVariableOrDefault(ctx, "SERVICE_PORT", "8080"))
	webServer := &http.Server{Addr: apiPort, Handler: r}

	go func() {
		if err := webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("could not listen and serve", "err", err.Error())
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	webServer.Shutdown(shutdownCtx)
	scheduler.Stop(shutdownCtx)
	we.Shutdown()
	hub.Shutdown()
	messenger.Close()
	s.Close()
}

type maintenanceConfig struct {
	SweepInterval   string `yaml:"sweepInterval"`
	LivenessTimeout string `yaml:"livenessTimeout"`
	RetentionWindow string `yaml:"retentionWindow"`

	sweepInterval   time.Duration
	livenessTimeout time.Duration
	retentionWindow time.Duration
}

type appConfig struct {
	DefaultThresholds map[string]types.Threshold `yaml:"defaultThresholds"`
	Maintenance       maintenanceConfig          `yaml:"maintenance"`
	Notifications     []maintenance.Notification `yaml:"notifications"`
}

func loadAppConfig(path string) (*appConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &appConfig{}, nil
		}
		return nil, err
	}
	defer f.Close()

	return parseAppConfig(f)
}

func parseAppConfig(r io.Reader) (*appConfig, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg := appConfig{}
	err = yaml.Unmarshal(buf, &cfg)
	if err != nil {
		return nil, err
	}

	parse := func(s string, into *time.Duration) error {
		if s == "" {
			return nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*into = d
		return nil
	}

	err = errors.Join(
		parse(cfg.Maintenance.SweepInterval, &cfg.Maintenance.sweepInterval),
		parse(cfg.Maintenance.LivenessTimeout, &cfg.Maintenance.livenessTimeout),
		parse(cfg.Maintenance.RetentionWindow, &cfg.Maintenance.retentionWindow),
	)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func seedDevices(ctx context.Context, path string, registry devices.DeviceRegistry) error {
	log := logging.GetFromContext(ctx)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug("no file with devices found", "path", path)
			return nil
		}
		return err
	}
	defer f.Close()

	return devices.Seed(ctx, registry, f)
}

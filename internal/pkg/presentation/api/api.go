package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/devices"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/waterquality"
	"github.com/diwise/water-quality-mgmt/internal/pkg/application/webevents"
	"github.com/diwise/water-quality-mgmt/internal/pkg/infrastructure/storage"
	"github.com/diwise/water-quality-mgmt/pkg/types"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("water-quality-mgmt/api")

func RegisterHandlers(ctx context.Context, router *chi.Mux, svc waterquality.WaterQuality, registry devices.DeviceRegistry, we webevents.WebEvents) (*chi.Mux, error) {
	log := logging.GetFromContext(ctx)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.Route("/api/v0", func(r chi.Router) {
		r.Route("/readings", func(r chi.Router) {
			r.Post("/", createReadingHandler(log, svc))
			r.Get("/", queryReadingsHandler(log, svc))
			r.Get("/{readingID}", getReadingHandler(log, svc))
			r.Patch("/{readingID}/acknowledge", acknowledgeReadingHandler(log, svc))
		})

		r.Route("/devices", func(r chi.Router) {
			r.Post("/", createDeviceHandler(log, registry))
			r.Get("/", queryDevicesHandler(log, registry))
			r.Get("/{deviceID}", getDeviceHandler(log, registry))
			r.Patch("/{deviceID}/state", setDeviceStateHandler(log, registry))
			r.Get("/{deviceID}/calibration", getDeviceCalibrationHandler(log, registry))
			r.Post("/{deviceID}/status", deviceStatusHandler(log, registry))
		})
	})

	if we != nil {
		router.Mount("/events", we.Server())
	}

	return router, nil
}

func tenantsFromRequest(r *http.Request) []string {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		return nil
	}
	return []string{tenant}
}

func createReadingHandler(log *slog.Logger, svc waterquality.WaterQuality) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-reading")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error("unable to read body", "err", err.Error())
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		in := waterquality.IncomingReading{}
		err = json.Unmarshal(body, &in)
		if err != nil {
			requestLogger.Error("unable to unmarshal body", "err", err.Error())
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		reading, err := svc.Ingest(ctx, in)
		if err != nil {
			var verr waterquality.ValidationError
			if errors.As(err, &verr) {
				requestLogger.Debug("invalid reading", "field", verr.Field)
				writeProblem(w, http.StatusBadRequest, verr.Error())
				return
			}
			if errors.Is(err, storage.ErrAlreadyExist) {
				w.WriteHeader(http.StatusConflict)
				return
			}
			requestLogger.Error("unable to ingest reading", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJson(w, http.StatusCreated, ApiResponse{Data: reading}.Byte())
	}
}

func queryReadingsHandler(log *slog.Logger, svc waterquality.WaterQuality) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-readings")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		collection, err := svc.Query(ctx, r.URL.Query(), tenantsFromRequest(r))
		if err != nil {
			requestLogger.Error("unable to query readings", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if r.URL.Query().Get("format") == "geojson" {
			fc, err := NewFeatureCollectionWithReadings(collection)
			if err != nil {
				requestLogger.Error("unable to render geojson", "err", err.Error())
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			b, _ := json.Marshal(fc)
			w.Header().Add("Content-Type", "application/geo+json")
			w.WriteHeader(http.StatusOK)
			w.Write(b)
			return
		}

		writeJson(w, http.StatusOK, ApiResponse{
			Meta: newMeta(collection),
			Data: collection.Data,
		}.Byte())
	}
}

func getReadingHandler(log *slog.Logger, svc waterquality.WaterQuality) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-reading")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		readingID := chi.URLParam(r, "readingID")

		reading, err := svc.GetByID(ctx, readingID, tenantsFromRequest(r))
		if err != nil {
			if errors.Is(err, waterquality.ErrReadingNotFound) {
				requestLogger.Debug("reading not found", "reading_id", readingID)
				w.WriteHeader(http.StatusNotFound)
				return
			}
			requestLogger.Error("unable to get reading", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJson(w, http.StatusOK, ApiResponse{Data: reading}.Byte())
	}
}

func acknowledgeReadingHandler(log *slog.Logger, svc waterquality.WaterQuality) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "acknowledge-reading")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		readingID := chi.URLParam(r, "readingID")

		ack := struct {
			AcknowledgedBy string `json:"acknowledgedBy"`
		}{}

		body, err := io.ReadAll(r.Body)
		if err == nil && len(body) > 0 {
			_ = json.Unmarshal(body, &ack)
		}

		err = svc.Acknowledge(ctx, readingID, ack.AcknowledgedBy, tenantsFromRequest(r))
		if err != nil {
			if errors.Is(err, waterquality.ErrReadingNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if errors.Is(err, waterquality.ErrAlreadyAcknowledged) {
				writeProblem(w, http.StatusConflict, "reading is already acknowledged")
				return
			}
			requestLogger.Error("unable to acknowledge reading", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func createDeviceHandler(log *slog.Logger, registry devices.DeviceRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error("unable to read body", "err", err.Error())
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		device := types.Device{}
		err = json.Unmarshal(body, &device)
		if err != nil || device.DeviceID == "" {
			requestLogger.Error("unable to unmarshal body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		err = registry.Register(ctx, device)
		if err != nil {
			if errors.Is(err, devices.ErrDeviceAlreadyExist) {
				w.WriteHeader(http.StatusConflict)
				return
			}
			if errors.Is(err, devices.ErrInvalidDeviceState) {
				writeProblem(w, http.StatusBadRequest, "invalid device state")
				return
			}
			requestLogger.Error("unable to create device", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}
}

func queryDevicesHandler(log *slog.Logger, registry devices.DeviceRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-devices")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		collection, err := registry.Query(ctx, r.URL.Query(), tenantsFromRequest(r))
		if err != nil {
			requestLogger.Error("unable to query devices", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJson(w, http.StatusOK, ApiResponse{
			Meta: newMeta(collection),
			Data: collection.Data,
		}.Byte())
	}
}

func getDeviceHandler(log *slog.Logger, registry devices.DeviceRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := chi.URLParam(r, "deviceID")

		device, err := registry.GetByDeviceID(ctx, deviceID, tenantsFromRequest(r))
		if err != nil {
			if errors.Is(err, devices.ErrDeviceNotFound) {
				requestLogger.Debug("device not found", "device_id", deviceID)
				w.WriteHeader(http.StatusNotFound)
				return
			}
			requestLogger.Error("unable to get device", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJson(w, http.StatusOK, ApiResponse{Data: device}.Byte())
	}
}

func setDeviceStateHandler(log *slog.Logger, registry devices.DeviceRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "set-device-state")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := chi.URLParam(r, "deviceID")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		patch := struct {
			State string `json:"state"`
		}{}
		err = json.Unmarshal(body, &patch)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		err = registry.SetState(ctx, deviceID, patch.State)
		if err != nil {
			if errors.Is(err, devices.ErrDeviceNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if errors.Is(err, devices.ErrInvalidDeviceState) {
				writeProblem(w, http.StatusBadRequest, "invalid device state")
				return
			}
			requestLogger.Error("unable to set device state", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getDeviceCalibrationHandler(log *slog.Logger, registry devices.DeviceRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-device-calibration")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := chi.URLParam(r, "deviceID")

		device, err := registry.GetByDeviceID(ctx, deviceID, tenantsFromRequest(r))
		if err != nil {
			if errors.Is(err, devices.ErrDeviceNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			requestLogger.Error("unable to get device", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		response := struct {
			DeviceID    string                       `json:"deviceID"`
			Calibration map[string]types.Calibration `json:"calibration,omitempty"`
			Due         bool                         `json:"due"`
		}{
			DeviceID:    device.DeviceID,
			Calibration: device.Calibration,
			Due:         devices.IsCalibrationDue(device, time.Now().UTC()),
		}

		writeJson(w, http.StatusOK, ApiResponse{Data: response}.Byte())
	}
}

func deviceStatusHandler(log *slog.Logger, registry devices.DeviceRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "device-status")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := chi.URLParam(r, "deviceID")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		status := types.StatusMessage{}
		err = json.Unmarshal(body, &status)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status.DeviceID = deviceID

		err = registry.HandleStatusMessage(ctx, status)
		if err != nil {
			if errors.Is(err, devices.ErrDeviceNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			requestLogger.Error("unable to handle status message", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJson(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

func writeProblem(w http.ResponseWriter, statusCode int, detail string) {
	b, _ := json.Marshal(struct {
		Status int    `json:"status"`
		Detail string `json:"detail"`
	}{Status: statusCode, Detail: detail})

	w.Header().Add("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)
	w.Write(b)
}

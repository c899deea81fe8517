package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/diwise/water-quality-mgmt/pkg/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// WaterQualityClient is a typed client for the water quality management API,
// intended for sibling services that submit or look up readings.
type WaterQualityClient interface {
	SubmitReading(ctx context.Context, in SubmitReadingRequest) (types.Reading, error)
	GetReading(ctx context.Context, readingID string) (types.Reading, error)
	GetDevice(ctx context.Context, deviceID string) (types.Device, error)
}

type SubmitReadingRequest struct {
	Location      types.Location               `json:"location"`
	Source        string                       `json:"source"`
	DeviceID      string                       `json:"deviceID,omitempty"`
	Tenant        string                       `json:"tenant,omitempty"`
	SensorPayload map[string]types.Measurement `json:"sensorPayload,omitempty"`
	ReviewPayload *types.ReviewPayload         `json:"reviewPayload,omitempty"`
}

type wqClient struct {
	url        string
	httpClient http.Client
}

var tracer = otel.Tracer("water-quality-mgmt/client")

func New(serviceUrl string) WaterQualityClient {
	return &wqClient{
		url: serviceUrl,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type apiResponse struct {
	Data json.RawMessage `json:"data"`
}

func (c *wqClient) SubmitReading(ctx context.Context, in SubmitReadingRequest) (types.Reading, error) {
	var err error
	ctx, span := tracer.Start(ctx, "submit-reading")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(in)
	if err != nil {
		return types.Reading{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/v0/readings", bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("failed to create http request: %w", err)
		return types.Reading{}, err
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to submit reading: %w", err)
		return types.Reading{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		err = fmt.Errorf("request failed with status code %d", resp.StatusCode)
		return types.Reading{}, err
	}

	reading := types.Reading{}
	err = unmarshalData(resp.Body, &reading)
	if err != nil {
		return types.Reading{}, err
	}

	return reading, nil
}

func (c *wqClient) GetReading(ctx context.Context, readingID string) (types.Reading, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-reading")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	log.Debug("looking up reading", "reading_id", readingID)

	reading := types.Reading{}
	err = c.get(ctx, c.url+"/api/v0/readings/"+readingID, &reading)
	if err != nil {
		return types.Reading{}, err
	}

	return reading, nil
}

func (c *wqClient) GetDevice(ctx context.Context, deviceID string) (types.Device, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	log.Debug("looking up device", "device_id", deviceID)

	device := types.Device{}
	err = c.get(ctx, c.url+"/api/v0/devices/"+deviceID, &device)
	if err != nil {
		return types.Device{}, err
	}

	return device, nil
}

func (c *wqClient) get(ctx context.Context, url string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}

	return unmarshalData(resp.Body, into)
}

func unmarshalData(body io.Reader, into any) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	response := apiResponse{}
	err = json.Unmarshal(b, &response)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return json.Unmarshal(response.Data, into)
}

var ErrNotFound = fmt.Errorf("not found")

package ihost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hubbridge/hubbridge/pkg/common"
	"github.com/hubbridge/hubbridge/pkg/log"
)

// Device identity advertised to the hub. The third serial number is the
// stable upsert key: re-announcing with the same value updates the existing
// device instead of creating another.
const (
	thirdSerialNumber = "hubble_cloudlink_device"
	deviceName        = "Hubble CloudLink"
	manufacturer      = "Hubble"
	model             = "CloudLink"
	displayCategory   = "plug"

	// advertised for protocol completeness; the hub never calls it for a
	// report-only device
	serviceAddress = "http://localhost:9009/api/ihost-service"
)

const (
	eventDiscoveryRequest    = "DiscoveryRequest"
	eventDeviceStatesChange  = "DeviceStatesChangeReport"
	eventHeaderErrorResponse = "ErrorResponse"
	eventProtocolVersion     = "2"
)

// Endpoint is the hub's handle for our announced device.
type Endpoint struct {
	SerialNumber      string                 `json:"serial_number,omitempty"`
	ThirdSerialNumber string                 `json:"third_serial_number,omitempty"`
	Tags              map[string]interface{} `json:"tags,omitempty"`
}

type eventHeader struct {
	Name      string `json:"name"`
	MessageID string `json:"message_id"`
	Version   string `json:"version"`
}

type eventRequest struct {
	Event struct {
		Header   eventHeader `json:"header"`
		Endpoint *Endpoint   `json:"endpoint,omitempty"`
		Payload  interface{} `json:"payload"`
	} `json:"event"`
}

type eventResponse struct {
	Header  eventHeader     `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// SendEvent posts one event to the hub and returns the response payload. An
// ErrorResponse header is surfaced as a *RemoteError.
func (c *Client) SendEvent(ctx context.Context, accessToken, name string, endpoint *Endpoint, payload interface{}) (json.RawMessage, error) {
	var req eventRequest
	req.Event.Header = eventHeader{
		Name:      name,
		MessageID: uuid.NewString(),
		Version:   eventProtocolVersion,
	}
	req.Event.Endpoint = endpoint
	req.Event.Payload = payload

	raw, err := c.doRequest(ctx, http.MethodPost, eventPath, req, accessToken)
	if err != nil {
		return nil, err
	}

	var res eventResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode event response: %w", err)
	}
	if res.Header.Name == eventHeaderErrorResponse {
		var perr struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(res.Payload, &perr); err != nil {
			return nil, fmt.Errorf("failed to decode event error payload: %w", err)
		}
		log.Ctx(ctx).ErrorContext(ctx, "ihost rejected event",
			slog.String("event", name),
			slog.String("type", perr.Type),
			slog.String("description", perr.Description),
		)
		return nil, &RemoteError{Type: perr.Type, Description: perr.Description}
	}
	return res.Payload, nil
}

type capability struct {
	Capability string `json:"capability"`
	Permission string `json:"permission"`
}

type deviceDescriptor struct {
	ThirdSerialNumber string                 `json:"third_serial_number"`
	Name              string                 `json:"name"`
	Manufacturer      string                 `json:"manufacturer"`
	Model             string                 `json:"model"`
	FirmwareVersion   string                 `json:"firmware_version"`
	ServiceAddress    string                 `json:"service_address"`
	DisplayCategory   string                 `json:"display_category"`
	Tags              map[string]interface{} `json:"tags"`
	State             map[string]interface{} `json:"state"`
	Capabilities      []capability           `json:"capabilities"`
}

// Announce registers (or re-registers) the CloudLink device with the hub and
// returns the endpoint handle used for state reports. It is an idempotent
// upsert keyed on the third serial number, so it runs on every cycle.
func (c *Client) Announce(ctx context.Context, accessToken string) (Endpoint, error) {
	payload := struct {
		Endpoints []deviceDescriptor `json:"endpoints"`
	}{
		Endpoints: []deviceDescriptor{{
			ThirdSerialNumber: thirdSerialNumber,
			Name:              deviceName,
			Manufacturer:      manufacturer,
			Model:             model,
			FirmwareVersion:   common.Version(),
			ServiceAddress:    serviceAddress,
			DisplayCategory:   displayCategory,
			Tags:              map[string]interface{}{},
			State:             DeviceState{Battery: -1, ElectricPower: 0}.statePayload(),
			Capabilities: []capability{
				{Capability: "battery", Permission: "0110"},
				{Capability: "electric-power", Permission: "0110"},
			},
		}},
	}

	log.Ctx(ctx).DebugContext(ctx, "announcing device to ihost")
	raw, err := c.SendEvent(ctx, accessToken, eventDiscoveryRequest, nil, payload)
	if err != nil {
		return Endpoint{}, err
	}

	var res struct {
		Endpoints []Endpoint `json:"endpoints"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return Endpoint{}, fmt.Errorf("failed to decode discovery response: %w", err)
	}
	if len(res.Endpoints) == 0 {
		return Endpoint{}, errors.New("discovery response carries no endpoint")
	}
	log.Ctx(ctx).InfoContext(ctx, "device announced", slog.String("serialNumber", res.Endpoints[0].SerialNumber))
	return res.Endpoints[0], nil
}

// ReportState pushes the current device state to the hub.
func (c *Client) ReportState(ctx context.Context, accessToken string, endpoint Endpoint, state DeviceState) error {
	payload := struct {
		State map[string]interface{} `json:"state"`
	}{
		State: state.statePayload(),
	}

	log.Ctx(ctx).DebugContext(ctx, "reporting state to ihost",
		slog.Int("battery", state.Battery),
		slog.Int("electricPower", state.ElectricPower),
	)
	_, err := c.SendEvent(ctx, accessToken, eventDeviceStatesChange, &endpoint, payload)
	return err
}

package riot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hubbridge/hubbridge/pkg/log"
)

const defaultSocketURL = "wss://portal.riotsystems.cloud/api/ws"

// Command IDs are generated on our side. The process only ever has three
// in-flight command kinds, so they are fixed literals rather than a counter.
const (
	cmdAuth            = 0
	cmdQueryDeviceID   = 1
	cmdQueryAttributes = 2
)

const deviceProfile = "Device_Profile_RIOT_CoudLink_1"

// ErrProtocol is returned via Err when the socket delivered a frame we could
// not interpret. The connection is closed; there is no recovery inside the
// monitor.
var ErrProtocol = errors.New("malformed socket frame")

// Monitor owns one persistent socket session to the telemetry cloud. It
// authenticates, discovers the single CloudLink device and then keeps a
// merged snapshot of the latest attribute and time-series values.
//
// A Monitor never reconnects: transport or protocol failures close the
// socket and the owner is expected to build a fresh Monitor with a fresh
// session.
type Monitor struct {
	conn        *websocket.Conn
	accessToken string
	socketURL   string
	dialer      *websocket.Dialer

	mu            sync.Mutex
	deviceID      string
	keys          map[string]interface{}
	lastUpdatedAt time.Time
	revision      uint64
	closed        bool
	err           error

	// coalesced change signal, capacity 1
	updates chan struct{}
}

// MonitorOption customizes a Monitor before it dials.
type MonitorOption func(*Monitor)

// WithSocketURL overrides the socket endpoint.
func WithSocketURL(socketURL string) MonitorOption {
	return func(m *Monitor) {
		m.socketURL = socketURL
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) MonitorOption {
	return func(m *Monitor) {
		m.dialer = dialer
	}
}

// NewMonitor dials the telemetry socket, sends the combined auth + device
// discovery frame and starts the read loop. The context is used for the dial
// and for logging inside the read loop; cancelling it does not close the
// socket.
func NewMonitor(ctx context.Context, accessToken string, opts ...MonitorOption) (*Monitor, error) {
	m := &Monitor{
		accessToken: accessToken,
		socketURL:   defaultSocketURL,
		dialer:      websocket.DefaultDialer,
		keys:        make(map[string]interface{}),
		updates:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}

	conn, resp, err := m.dialer.DialContext(ctx, m.socketURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect socket (status %s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect socket: %w", err)
	}
	m.conn = conn

	// Auth and device discovery travel in one frame, correlated by cmdId.
	// This write happens before the read loop starts; every later write
	// happens inside the read loop, so writes are never concurrent.
	if err := conn.WriteJSON(m.helloFrame()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send auth frame: %w", err)
	}

	go m.readLoop(ctx)
	return m, nil
}

// AccessToken returns the session token this monitor was built with.
func (m *Monitor) AccessToken() string {
	return m.accessToken
}

// DeviceID returns the discovered device identifier, or "" before discovery
// completed. It is immutable after first resolution.
func (m *Monitor) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceID
}

// Keys returns a copy of the latest merged snapshot.
func (m *Monitor) Keys() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make(map[string]interface{}, len(m.keys))
	for k, v := range m.keys {
		keys[k] = v
	}
	return keys
}

// KeysLastUpdatedAt returns when the snapshot last actually changed. It is
// zero until the first merge that changed a value.
func (m *Monitor) KeysLastUpdatedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdatedAt
}

// Revision increments every time the snapshot changes. Callers use it to
// detect changes without comparing maps.
func (m *Monitor) Revision() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision
}

// Updates returns a coalesced signal channel that receives after each
// snapshot change.
func (m *Monitor) Updates() <-chan struct{} {
	return m.updates
}

// IsClosed reports whether the transport has closed. It has no side effects.
func (m *Monitor) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Err returns the terminal error after the monitor closed, if any.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Close tears down the socket. It is safe to call multiple times and from
// any goroutine.
func (m *Monitor) Close() error {
	err := m.conn.Close()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return err
}

func (m *Monitor) readLoop(ctx context.Context) {
	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			m.shutdown(fmt.Errorf("socket read failed: %w", err))
			return
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// a frame we cannot parse is fatal for the whole connection
			log.Ctx(ctx).ErrorContext(ctx, "failed to parse socket frame", slog.Any("error", err))
			m.shutdown(fmt.Errorf("%w: %w", ErrProtocol, err))
			return
		}
		log.Ctx(ctx).DebugContext(ctx, "received socket frame", slog.Int("cmdId", msg.CmdID))

		switch msg.CmdID {
		case cmdQueryDeviceID:
			if err := m.onQueryDeviceID(ctx, &msg); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "device discovery failed", slog.Any("error", err))
				m.shutdown(err)
				return
			}
		case cmdQueryAttributes:
			m.onQueryAttributes(ctx, &msg)
		}
	}
}

func (m *Monitor) shutdown(err error) {
	m.conn.Close()
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.closed = true
	m.mu.Unlock()
}

// onQueryDeviceID resolves the device identifier from the first discovery
// response and immediately requests the full key set plus a live
// subscription. Duplicate discovery responses are ignored.
func (m *Monitor) onQueryDeviceID(ctx context.Context, msg *socketMessage) error {
	m.mu.Lock()
	already := m.deviceID != ""
	m.mu.Unlock()
	if already {
		return nil
	}

	if msg.Data == nil || len(msg.Data.Data) == 0 || msg.Data.Data[0].EntityID.ID == "" {
		return fmt.Errorf("%w: discovery response carries no entity", ErrProtocol)
	}
	deviceID := msg.Data.Data[0].EntityID.ID

	m.mu.Lock()
	m.deviceID = deviceID
	m.mu.Unlock()
	log.Ctx(ctx).InfoContext(ctx, "device discovered", slog.String("deviceID", deviceID))

	// one-shot pull of the latest values for every monitored key
	if err := m.conn.WriteJSON(m.bulkQueryFrame(deviceID)); err != nil {
		return fmt.Errorf("failed to send bulk query: %w", err)
	}
	// subscription for ongoing pushes
	if err := m.conn.WriteJSON(m.subscribeFrame()); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}
	return nil
}

// onQueryAttributes merges one attribute delivery frame into the snapshot.
// The five possible shapes are flattened in a fixed order so that, for a key
// present in more than one, the last-applied source wins.
func (m *Monitor) onQueryAttributes(ctx context.Context, msg *socketMessage) {
	merged := make(map[string]interface{})
	apply := func(values map[string]telemetryValue) {
		for k, v := range values {
			if v.Value != nil {
				merged[k] = v.Value
			}
		}
	}

	if msg.Data != nil && len(msg.Data.Data) > 0 {
		row := msg.Data.Data[0]
		apply(row.Latest[keyTypeAttribute])
		apply(row.Latest[keyTypeTimeSeries])
	}
	if len(msg.Update) > 0 {
		update := msg.Update[0]
		apply(update.Latest[keyTypeAttribute])
		apply(update.Latest[keyTypeTimeSeries])
		apply(update.Timeseries)
	}
	if len(merged) == 0 {
		return
	}

	m.mu.Lock()
	var changed bool
	for k, v := range merged {
		if cur, ok := m.keys[k]; !ok || !reflect.DeepEqual(cur, v) {
			m.keys[k] = v
			changed = true
		}
	}
	if changed {
		m.lastUpdatedAt = time.Now()
		m.revision++
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	log.Ctx(ctx).DebugContext(ctx, "snapshot updated", slog.Int("keys", len(merged)))
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func (m *Monitor) helloFrame() socketRequest {
	nameFilter := ""
	return socketRequest{
		AuthCmd: &authCommand{
			CmdID: cmdAuth,
			Token: m.accessToken,
		},
		Cmds: []entityDataCommand{{
			CmdID: cmdQueryDeviceID,
			Type:  "ENTITY_DATA",
			Query: &entityDataQuery{
				EntityFilter: entityFilter{
					Type:             "deviceType",
					ResolveMultiple:  true,
					DeviceNameFilter: &nameFilter,
					DeviceTypes:      []string{deviceProfile},
				},
				PageLink: pageLink{
					Page:     0,
					PageSize: 1024,
					Dynamic:  true,
				},
				EntityFields: []entityKey{
					{Type: keyTypeEntityField, Key: "name"},
					{Type: keyTypeEntityField, Key: "label"},
					{Type: keyTypeEntityField, Key: "additionalInfo"},
				},
				LatestValues: []entityKey{},
			},
		}},
	}
}

func (m *Monitor) bulkQueryFrame(deviceID string) socketRequest {
	return socketRequest{
		Cmds: []entityDataCommand{{
			CmdID: cmdQueryAttributes,
			Type:  "ENTITY_DATA",
			Query: &entityDataQuery{
				EntityFilter: entityFilter{
					Type: "singleEntity",
					SingleEntity: &entityRef{
						ID:         deviceID,
						EntityType: "DEVICE",
					},
				},
				PageLink: pageLink{
					Page:     0,
					PageSize: 1024,
					SortOrder: &sortOrder{
						Key:       entityKey{Type: keyTypeEntityField, Key: "createdTime"},
						Direction: "DESC",
					},
				},
				EntityFields: []entityKey{
					{Type: keyTypeEntityField, Key: "label"},
					{Type: keyTypeEntityField, Key: "name"},
					{Type: keyTypeEntityField, Key: "additionalInfo"},
				},
				LatestValues: monitoredKeys(),
			},
		}},
	}
}

func (m *Monitor) subscribeFrame() socketRequest {
	return socketRequest{
		Cmds: []entityDataCommand{{
			CmdID: cmdQueryAttributes,
			Type:  "ENTITY_DATA",
			LatestCmd: &latestCommand{
				Keys: monitoredKeys(),
			},
		}},
	}
}

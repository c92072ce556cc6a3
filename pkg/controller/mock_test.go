package controller

import (
	"context"
	"sync"
	"time"

	"github.com/hubbridge/hubbridge/pkg/ihost"
	"github.com/hubbridge/hubbridge/pkg/riot"
	"github.com/hubbridge/hubbridge/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) GetSettings(ctx context.Context) (types.Settings, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Settings), args.Error(1)
}

func (m *mockStorage) SetSettings(ctx context.Context, settings types.Settings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *mockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

type mockPortal struct {
	mock.Mock
}

func (m *mockPortal) Login(ctx context.Context, email, password string) (riot.Session, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(riot.Session), args.Error(1)
}

// fakeHub records bridge calls so tests can assert exact report counts.
type fakeHub struct {
	mu        sync.Mutex
	announces int
	ensures   int
	reports   []ihost.DeviceState
	reportCh  chan ihost.DeviceState

	announceErr error
	reportErr   error
}

func newFakeHub() *fakeHub {
	return &fakeHub{reportCh: make(chan ihost.DeviceState, 16)}
}

func (h *fakeHub) Announce(ctx context.Context, accessToken string) (ihost.Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.announces++
	if h.announceErr != nil {
		return ihost.Endpoint{}, h.announceErr
	}
	return ihost.Endpoint{SerialNumber: "sn-1", ThirdSerialNumber: "hubble_cloudlink_device"}, nil
}

func (h *fakeHub) EnsureCard(ctx context.Context, accessToken, label, cardURL string) (ihost.Card, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensures++
	return ihost.Card{ID: "card-1", Label: label}, nil
}

func (h *fakeHub) ReportState(ctx context.Context, accessToken string, endpoint ihost.Endpoint, state ihost.DeviceState) error {
	h.mu.Lock()
	err := h.reportErr
	if err == nil {
		h.reports = append(h.reports, state)
	}
	h.mu.Unlock()
	if err != nil {
		return err
	}
	h.reportCh <- state
	return nil
}

func (h *fakeHub) reportCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reports)
}

// fakeMonitor is a scripted stand-in for a live telemetry connection.
type fakeMonitor struct {
	mu            sync.Mutex
	accessToken   string
	keys          map[string]interface{}
	lastUpdatedAt time.Time
	revision      uint64
	closed        bool
	closes        int
	updates       chan struct{}
}

func newFakeMonitor(accessToken string) *fakeMonitor {
	return &fakeMonitor{
		accessToken: accessToken,
		keys:        make(map[string]interface{}),
		updates:     make(chan struct{}, 1),
	}
}

// push simulates a snapshot change arriving over the socket.
func (m *fakeMonitor) push(keys map[string]interface{}) {
	m.mu.Lock()
	for k, v := range keys {
		m.keys[k] = v
	}
	m.revision++
	m.lastUpdatedAt = time.Now()
	m.mu.Unlock()
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// freeze rewinds the last-update timestamp so the connection looks silent.
func (m *fakeMonitor) freeze(age time.Duration) {
	m.mu.Lock()
	m.lastUpdatedAt = time.Now().Add(-age)
	m.mu.Unlock()
}

func (m *fakeMonitor) AccessToken() string {
	return m.accessToken
}

func (m *fakeMonitor) Keys() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make(map[string]interface{}, len(m.keys))
	for k, v := range m.keys {
		keys[k] = v
	}
	return keys
}

func (m *fakeMonitor) KeysLastUpdatedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdatedAt
}

func (m *fakeMonitor) Revision() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision
}

func (m *fakeMonitor) Updates() <-chan struct{} {
	return m.updates
}

func (m *fakeMonitor) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	return nil
}

func (m *fakeMonitor) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

package server

import (
	"context"

	"github.com/hubbridge/hubbridge/pkg/controller"
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

type mockHub struct {
	mock.Mock
}

func (m *mockHub) AcquireToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockHub) BaseURL() string {
	args := m.Called()
	return args.String(0)
}

type mockControl struct {
	mock.Mock
}

func (m *mockControl) Restart() {
	m.Called()
}

func (m *mockControl) Status() controller.Status {
	args := m.Called()
	return args.Get(0).(controller.Status)
}

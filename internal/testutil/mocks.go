package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"melody-map/internal/storage"
)

// MockConnectionStore is a testify mock of storage.ConnectionStore
type MockConnectionStore struct {
	mock.Mock
}

func (m *MockConnectionStore) FindConnection(ctx context.Context, userID string, platform storage.Platform) (*storage.PlatformConnection, error) {
	args := m.Called(ctx, userID, platform)
	conn, _ := args.Get(0).(*storage.PlatformConnection)
	return conn, args.Error(1)
}

func (m *MockConnectionStore) FindConnectionByID(ctx context.Context, id string) (*storage.PlatformConnection, error) {
	args := m.Called(ctx, id)
	conn, _ := args.Get(0).(*storage.PlatformConnection)
	return conn, args.Error(1)
}

func (m *MockConnectionStore) ListUserConnections(ctx context.Context, userID string) ([]*storage.PlatformConnection, error) {
	args := m.Called(ctx, userID)
	conns, _ := args.Get(0).([]*storage.PlatformConnection)
	return conns, args.Error(1)
}

func (m *MockConnectionStore) InsertConnection(ctx context.Context, conn *storage.PlatformConnection) (*storage.PlatformConnection, error) {
	args := m.Called(ctx, conn)
	stored, _ := args.Get(0).(*storage.PlatformConnection)
	return stored, args.Error(1)
}

func (m *MockConnectionStore) UpdateConnection(ctx context.Context, id string, update storage.ConnectionUpdate) error {
	return m.Called(ctx, id, update).Error(0)
}

func (m *MockConnectionStore) UpdateUserConnection(ctx context.Context, userID string, platform storage.Platform, update storage.ConnectionUpdate) error {
	return m.Called(ctx, userID, platform, update).Error(0)
}

func (m *MockConnectionStore) FindConnectionsExpiringBefore(ctx context.Context, platform storage.Platform, ts time.Time, activeOnly bool) ([]*storage.PlatformConnection, error) {
	args := m.Called(ctx, platform, ts, activeOnly)
	conns, _ := args.Get(0).([]*storage.PlatformConnection)
	return conns, args.Error(1)
}

func (m *MockConnectionStore) DeactivateConnectionsOlderThan(ctx context.Context, ts time.Time) (int64, error) {
	args := m.Called(ctx, ts)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConnectionStore) Health() error {
	return m.Called().Error(0)
}

func (m *MockConnectionStore) Close() error {
	return m.Called().Error(0)
}

var _ storage.ConnectionStore = (*MockConnectionStore)(nil)

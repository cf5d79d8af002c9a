// --- File: internal/storage/cache/registry_test.go ---
package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-fanout-service/internal/storage/cache"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Snapshot(ctx context.Context, target fanout.Target) (fanout.TokensByPlatform, error) {
	args := m.Called(ctx, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(fanout.TokensByPlatform), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedRegistry_ReadAside(t *testing.T) {
	ctx := context.Background()
	snapshot := fanout.TokensByPlatform{fanout.PlatformIOS: {"ios-1"}, fanout.PlatformAndroid: {"a-1"}}

	t.Run("Miss reads registry and fills cache", func(t *testing.T) {
		mockCache := new(MockCache)
		mockReg := new(MockRegistry)
		reg := cache.NewCachedRegistry(mockReg, mockCache, time.Minute, newTestLogger())

		mockCache.On("Get", ctx, "fanout:tokens:all", mock.Anything).Return(cache.ErrCacheMiss)
		mockReg.On("Snapshot", ctx, fanout.TargetAll).Return(snapshot, nil)
		mockCache.On("Set", ctx, "fanout:tokens:all", snapshot, time.Minute).Return(nil)

		got, err := reg.Snapshot(ctx, fanout.TargetAll)

		require.NoError(t, err)
		assert.Equal(t, snapshot, got)
		mockCache.AssertExpectations(t)
		mockReg.AssertExpectations(t)
	})

	t.Run("Hit skips registry", func(t *testing.T) {
		mockCache := new(MockCache)
		mockReg := new(MockRegistry)
		reg := cache.NewCachedRegistry(mockReg, mockCache, time.Minute, newTestLogger())

		mockCache.On("Get", ctx, "fanout:tokens:ios", mock.Anything).
			Run(func(args mock.Arguments) {
				dest := args.Get(2).(*fanout.TokensByPlatform)
				*dest = fanout.TokensByPlatform{fanout.PlatformIOS: {"cached"}}
			}).Return(nil)

		got, err := reg.Snapshot(ctx, fanout.TargetIOS)

		require.NoError(t, err)
		assert.Equal(t, []string{"cached"}, got[fanout.PlatformIOS])
		mockReg.AssertNotCalled(t, "Snapshot", mock.Anything, mock.Anything)
	})

	t.Run("Cache failures never fail the read", func(t *testing.T) {
		mockCache := new(MockCache)
		mockReg := new(MockRegistry)
		reg := cache.NewCachedRegistry(mockReg, mockCache, time.Minute, newTestLogger())

		mockCache.On("Get", ctx, mock.Anything, mock.Anything).Return(errors.New("redis down"))
		mockReg.On("Snapshot", ctx, fanout.TargetAndroid).Return(snapshot, nil)
		mockCache.On("Set", ctx, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

		got, err := reg.Snapshot(ctx, fanout.TargetAndroid)

		require.NoError(t, err)
		assert.Equal(t, snapshot, got)
	})

	t.Run("Registry errors propagate", func(t *testing.T) {
		mockCache := new(MockCache)
		mockReg := new(MockRegistry)
		reg := cache.NewCachedRegistry(mockReg, mockCache, time.Minute, newTestLogger())

		mockCache.On("Get", ctx, mock.Anything, mock.Anything).Return(cache.ErrCacheMiss)
		mockReg.On("Snapshot", ctx, fanout.TargetAll).Return(nil, errors.New("firestore unavailable"))

		_, err := reg.Snapshot(ctx, fanout.TargetAll)

		require.Error(t, err)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCachedRegistry_Invalidate(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	reg := cache.NewCachedRegistry(new(MockRegistry), mockCache, time.Minute, newTestLogger())

	mockCache.On("Del", ctx, []string{"fanout:tokens:all", "fanout:tokens:ios", "fanout:tokens:android"}).Return(nil)

	require.NoError(t, reg.Invalidate(ctx))
	mockCache.AssertExpectations(t)
}

func TestLocalClient(t *testing.T) {
	ctx := context.Background()
	c := cache.NewLocalClient(time.Minute, time.Minute)

	var dest fanout.TokensByPlatform
	assert.ErrorIs(t, c.Get(ctx, "k", &dest), cache.ErrCacheMiss)

	in := fanout.TokensByPlatform{fanout.PlatformIOS: {"a"}}
	require.NoError(t, c.Set(ctx, "k", in, time.Minute))
	require.NoError(t, c.Get(ctx, "k", &dest))
	assert.Equal(t, in, dest)

	dest[fanout.PlatformIOS][0] = "mutated"
	var again fanout.TokensByPlatform
	require.NoError(t, c.Get(ctx, "k", &again))
	assert.Equal(t, "a", again[fanout.PlatformIOS][0])

	require.NoError(t, c.Del(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &dest), cache.ErrCacheMiss)
}

func TestLocalClient_Expiry(t *testing.T) {
	ctx := context.Background()
	c := cache.NewLocalClient(time.Minute, time.Minute)
	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	var s string
	assert.ErrorIs(t, c.Get(ctx, "k", &s), cache.ErrCacheMiss)
}

package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowpilot "github.com/goliatone/go-flowpilot"
)

func setupRedisRegistry(t *testing.T, opts ...RedisOption) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	registry, err := NewRedisRegistry(context.Background(), fmt.Sprintf("redis://%s", mr.Addr()), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = registry.Close()
	})
	return registry, mr
}

func TestRedisRegistryRoundTrip(t *testing.T) {
	registry, _ := setupRedisRegistry(t)
	ctx := context.Background()

	token, err := registry.Create(ctx, Reference{OwnerID: "chat-42", Workflow: "portrait"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ref, err := registry.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, Reference{OwnerID: "chat-42", Workflow: "portrait"}, ref)
}

func TestRedisRegistryUnknownToken(t *testing.T) {
	registry, _ := setupRedisRegistry(t)

	_, err := registry.Resolve(context.Background(), "no-such-token")
	require.Error(t, err)
	assert.True(t, flowpilot.IsMissingSession(err))
}

func TestRedisRegistryExpiry(t *testing.T) {
	registry, mr := setupRedisRegistry(t, WithRedisTTL(time.Minute))
	ctx := context.Background()

	token, err := registry.Create(ctx, Reference{OwnerID: "chat-42", Workflow: "portrait"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = registry.Resolve(ctx, token)
	assert.True(t, flowpilot.IsMissingSession(err))
}

func TestRedisRegistryDelete(t *testing.T) {
	registry, _ := setupRedisRegistry(t)
	ctx := context.Background()

	token, err := registry.Create(ctx, Reference{OwnerID: "chat-42", Workflow: "portrait"})
	require.NoError(t, err)

	require.NoError(t, registry.Delete(ctx, token))
	_, err = registry.Resolve(ctx, token)
	assert.True(t, flowpilot.IsMissingSession(err))
}

func TestRedisRegistryBadURL(t *testing.T) {
	_, err := NewRedisRegistry(context.Background(), "not-a-url")
	require.Error(t, err)
}

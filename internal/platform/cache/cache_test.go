package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, c Cache, expire func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	_, err := c.Get(ctx, "settings")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "settings", []byte(`{"active_model_type":"api"}`), time.Minute))
	got, err := c.Get(ctx, "settings")
	require.NoError(t, err)
	assert.JSONEq(t, `{"active_model_type":"api"}`, string(got))

	expire(2 * time.Minute)
	_, err = c.Get(ctx, "settings")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	exercise(t, m, func(d time.Duration) { now = now.Add(d) })
}

func TestMemory_CopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(context.Background(), "k", buf, 0))
	buf[0] = 'z'
	got, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	exercise(t, NewRedis(client, "cardiodx:"), mr.FastForward)
	assert.False(t, mr.Exists("settings"), "keys must be prefixed")
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	client.Close()

	_, err = NewRedisClient(context.Background(), "::not a url")
	assert.Error(t, err)
}

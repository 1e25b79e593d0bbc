package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/sitechat/internal/config"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "k", []byte("v1")))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, kv.Set(ctx, "k", []byte("v2")))
	got, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Delete(ctx, "never-set"))
}

func TestMemory(t *testing.T) {
	exerciseKV(t, NewMemory())
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	v := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", v))
	v[0] = 'x'

	got, _ := m.Get(ctx, "k")
	got[1] = 'y'

	again, _ := m.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return mr, r
}

func TestRedis(t *testing.T) {
	_, r := newMiniRedis(t)
	exerciseKV(t, r)
}

func TestRedis_KeysArePrefixed(t *testing.T) {
	mr, r := newMiniRedis(t)
	require.NoError(t, r.Set(context.Background(), "settings", []byte("{}")))

	assert.True(t, mr.Exists("sitechat:settings"))
	assert.False(t, mr.Exists("settings"))
}

func TestNewRedis_EmptyAddress(t *testing.T) {
	r, err := NewRedis(RedisConfig{})
	assert.ErrorIs(t, err, ErrEmptyAddress)
	assert.Nil(t, r)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	kv, err := Open(ctx, config.Config{StoreBackend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, kv)

	mr := miniredis.RunT(t)
	kv, err = Open(ctx, config.Config{StoreBackend: "redis", RedisAddress: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, kv)
	kv.Close()

	_, err = Open(ctx, config.Config{StoreBackend: "postgres"})
	assert.Error(t, err)

	_, err = Open(ctx, config.Config{StoreBackend: "etcd"})
	assert.Error(t, err)
}

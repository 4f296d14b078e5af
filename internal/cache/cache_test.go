package cache

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mare-catalogo/backend/internal/db"
)

func newSQLiteStorage(t *testing.T) Storage {
	t.Helper()
	database, err := db.OpenPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return NewSQLiteStorage(database)
}

func newMemoryStorage(t *testing.T) Storage {
	return NewMemoryStorage()
}

var storages = []struct {
	name string
	open func(t *testing.T) Storage
}{
	{"sqlite", newSQLiteStorage},
	{"memory", newMemoryStorage},
}

func jsonResponse(body string) *Response {
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(body),
	}
}

func TestBucket_PutMatchDelete(t *testing.T) {
	t.Parallel()
	for _, s := range storages {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()
			storage := s.open(t)

			bucket, err := storage.Open(ctx, "mare-static-v5")
			require.NoError(t, err)
			assert.Equal(t, "mare-static-v5", bucket.Name())

			_, ok, err := bucket.Match(ctx, "/productos.json")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, bucket.Put(ctx, "/productos.json", jsonResponse(`[]`)))
			require.NoError(t, bucket.Put(ctx, "/productos.json", jsonResponse(`[{"codigo":"A"}]`)))

			resp, ok, err := bucket.Match(ctx, "/productos.json")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.JSONEq(t, `[{"codigo":"A"}]`, string(resp.Body))
			assert.False(t, resp.StoredAt.IsZero())

			keys, err := bucket.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"/productos.json"}, keys)

			deleted, err := bucket.Delete(ctx, "/productos.json")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = bucket.Delete(ctx, "/productos.json")
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	}
}

func TestStorage_NamesAndDelete(t *testing.T) {
	t.Parallel()
	for _, s := range storages {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()
			storage := s.open(t)

			for _, name := range []string{"mare-static-v4", "mare-static-v5", "mare-images-v5"} {
				_, err := storage.Open(ctx, name)
				require.NoError(t, err)
			}
			// Reopening keeps the original position
			_, err := storage.Open(ctx, "mare-static-v4")
			require.NoError(t, err)

			names, err := storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"mare-static-v4", "mare-static-v5", "mare-images-v5"}, names)

			old, err := storage.Open(ctx, "mare-static-v4")
			require.NoError(t, err)
			require.NoError(t, old.Put(ctx, "/", jsonResponse(`"old"`)))

			deleted, err := storage.Delete(ctx, "mare-static-v4")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = storage.Delete(ctx, "mare-static-v4")
			require.NoError(t, err)
			assert.False(t, deleted)

			_, ok, err := storage.Match(ctx, "/")
			require.NoError(t, err)
			assert.False(t, ok, "entries of a deleted bucket must be gone")

			names, err = storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"mare-static-v5", "mare-images-v5"}, names)
		})
	}
}

func TestStorage_MatchCreationOrder(t *testing.T) {
	t.Parallel()
	for _, s := range storages {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()
			storage := s.open(t)

			first, err := storage.Open(ctx, "first")
			require.NoError(t, err)
			second, err := storage.Open(ctx, "second")
			require.NoError(t, err)

			require.NoError(t, second.Put(ctx, "/logo-mare.png", jsonResponse(`"second"`)))
			resp, ok, err := storage.Match(ctx, "/logo-mare.png")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `"second"`, string(resp.Body))

			require.NoError(t, first.Put(ctx, "/logo-mare.png", jsonResponse(`"first"`)))
			resp, ok, err = storage.Match(ctx, "/logo-mare.png")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `"first"`, string(resp.Body))
		})
	}
}

func TestMemoryBucket_isolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bucket, err := NewMemoryStorage().Open(ctx, "b")
	require.NoError(t, err)

	resp := jsonResponse(`"a"`)
	require.NoError(t, bucket.Put(ctx, "/k", resp))
	resp.Body[1] = 'z'

	got, ok, err := bucket.Match(ctx, "/k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"a"`, string(got.Body))

	got.Header.Set("Content-Type", "text/plain")
	again, _, _ := bucket.Match(ctx, "/k")
	assert.Equal(t, "application/json", again.Header.Get("Content-Type"))
}

func TestResponse_OK(t *testing.T) {
	t.Parallel()
	assert.True(t, (&Response{Status: 200}).OK())
	assert.True(t, (&Response{Status: 204}).OK())
	assert.False(t, (&Response{Status: 304}).OK())
	assert.False(t, (&Response{Status: 500}).OK())
	var nilResp *Response
	assert.False(t, nilResp.OK())
	assert.Nil(t, nilResp.Clone())
}

func TestKey(t *testing.T) {
	t.Parallel()
	u, err := url.Parse("https://catalogo.example/productos.json?v=123")
	require.NoError(t, err)
	assert.Equal(t, "/productos.json?v=123", Key(u))

	u, err = url.Parse("https://catalogo.example")
	require.NoError(t, err)
	assert.Equal(t, "/", Key(u))
}

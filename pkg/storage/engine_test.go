package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engines returns a fresh instance of every Engine implementation.
func engines(t *testing.T) map[string]Engine {
	t.Helper()

	badgerEngine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)

	all := map[string]Engine{
		"memory": NewMemoryEngine(),
		"badger": badgerEngine,
	}
	t.Cleanup(func() {
		for _, e := range all {
			e.Close()
		}
	})
	return all
}

func seed(t *testing.T, engine Engine) {
	t.Helper()
	require.NoError(t, engine.PutBatch([]*Embedding{
		{ID: "c", URI: "doc://c", Text: "gamma", ModelName: "small", Vector: []float32{0, 0, 1}},
		{ID: "a", URI: "doc://a", Text: "alpha", ModelName: "small", Vector: []float32{1, 0, 0}},
		{ID: "b", URI: "doc://b", Text: "beta", ModelName: "large", Vector: []float32{0, 1, 0, 0}},
	}))
}

func collect(t *testing.T, engine Engine, model string) []string {
	t.Helper()
	var ids []string
	err := engine.StreamEmbeddings(context.Background(), model, func(e *Embedding) error {
		ids = append(ids, e.ID)
		return nil
	})
	require.NoError(t, err)
	return ids
}

func TestEngine_PutGet(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			e := &Embedding{URI: "doc://x", Text: "hello", ModelName: "small", Vector: []float32{0.5, 0.25}}
			require.NoError(t, engine.Put(e))

			assert.NotEmpty(t, e.ID, "ID assigned on put")
			assert.Equal(t, ContentHash("small", "hello"), e.ContentHash)
			assert.False(t, e.CreatedAt.IsZero())
			assert.Equal(t, e.CreatedAt, e.UpdatedAt)

			got, err := engine.Get(e.ID)
			require.NoError(t, err)
			assert.Equal(t, e.URI, got.URI)
			assert.Equal(t, e.Text, got.Text)
			assert.Equal(t, e.Vector, got.Vector)
			assert.Equal(t, e.ContentHash, got.ContentHash)
			assert.True(t, e.CreatedAt.Equal(got.CreatedAt))

			// Returned records are copies.
			got.Vector[0] = 99
			again, err := engine.Get(e.ID)
			require.NoError(t, err)
			assert.Equal(t, float32(0.5), again.Vector[0])
		})
	}
}

func TestEngine_OverwriteKeepsCreatedAt(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			first := &Embedding{ID: "x", ModelName: "small", Text: "v1", Vector: []float32{1}}
			require.NoError(t, engine.Put(first))

			time.Sleep(2 * time.Millisecond)
			second := &Embedding{ID: "x", ModelName: "large", Text: "v2", Vector: []float32{2}}
			require.NoError(t, engine.Put(second))

			got, err := engine.Get("x")
			require.NoError(t, err)
			assert.Equal(t, "v2", got.Text)
			assert.True(t, first.CreatedAt.Equal(got.CreatedAt))
			assert.True(t, got.UpdatedAt.After(got.CreatedAt))

			// The old model index entry is gone.
			n, err := engine.Count("small")
			require.NoError(t, err)
			assert.Zero(t, n)
			n, err = engine.Count("large")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestEngine_PutInvalid(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, engine.Put(nil), ErrInvalidData)
			assert.ErrorIs(t, engine.Put(&Embedding{Vector: []float32{1}}), ErrInvalidData)
			assert.ErrorIs(t, engine.Put(&Embedding{ModelName: "m"}), ErrInvalidData)
			assert.ErrorIs(t, engine.Put(&Embedding{ModelName: "a\x00b", Vector: []float32{1}}), ErrInvalidData)
		})
	}
}

func TestEngine_StreamByModel(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, engine)

			assert.Equal(t, []string{"a", "c"}, collect(t, engine, "small"))
			assert.Equal(t, []string{"b"}, collect(t, engine, "large"))
			assert.Equal(t, []string{"a", "b", "c"}, collect(t, engine, ""))
			assert.Empty(t, collect(t, engine, "missing"))
		})
	}
}

func TestEngine_StreamStop(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, engine)

			var seen int
			err := engine.StreamEmbeddings(context.Background(), "", func(*Embedding) error {
				seen++
				return ErrIterationStopped
			})
			require.NoError(t, err)
			assert.Equal(t, 1, seen)

			boom := errors.New("boom")
			err = engine.StreamEmbeddings(context.Background(), "", func(*Embedding) error { return boom })
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestEngine_StreamCancelled(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, engine)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := engine.StreamEmbeddings(ctx, "small", func(*Embedding) error { return nil })
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestEngine_DeleteCountModels(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, engine)

			models, err := engine.Models()
			require.NoError(t, err)
			assert.Equal(t, []string{"large", "small"}, models)

			n, err := engine.Count("")
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			require.NoError(t, engine.Delete("b"))
			assert.ErrorIs(t, engine.Delete("b"), ErrNotFound)
			_, err = engine.Get("b")
			assert.ErrorIs(t, err, ErrNotFound)

			models, err = engine.Models()
			require.NoError(t, err)
			assert.Equal(t, []string{"small"}, models)
		})
	}
}

func TestEngine_Closed(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, engine.Close())

			assert.ErrorIs(t, engine.Put(&Embedding{ModelName: "m", Vector: []float32{1}}), ErrStorageClosed)
			_, err := engine.Get("a")
			assert.ErrorIs(t, err, ErrStorageClosed)
			_, err = engine.Count("")
			assert.ErrorIs(t, err, ErrStorageClosed)
			err = engine.StreamEmbeddings(context.Background(), "", func(*Embedding) error { return nil })
			assert.ErrorIs(t, err, ErrStorageClosed)
		})
	}
}

func TestContentHash(t *testing.T) {
	h := ContentHash("small", "hello")
	assert.Len(t, h, 64)
	assert.Equal(t, h, ContentHash("small", "hello"))
	assert.NotEqual(t, h, ContentHash("large", "hello"))
	// The separator keeps model/text boundaries distinct.
	assert.NotEqual(t, ContentHash("ab", "c"), ContentHash("a", "bc"))
}

package storage

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBadgerEngine_SkipsUndecodableRows(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	engine, err := NewBadgerEngineWithOptions(BadgerOptions{InMemory: true, Logger: zap.New(core)})
	require.NoError(t, err)
	defer engine.Close()

	seed(t, engine)

	// A corrupt value indexed under "small" plus a dangling index entry.
	err = engine.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(embeddingKey("bad"), []byte{0xc1, 0xff, 0x00}); err != nil {
			return err
		}
		if err := txn.Set(modelIndexKey("small", "bad"), []byte{}); err != nil {
			return err
		}
		return txn.Set(modelIndexKey("small", "ghost"), []byte{})
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c"}, collect(t, engine, "small"))
	assert.Equal(t, []string{"a", "b", "c"}, collect(t, engine, ""))
	assert.Equal(t, 3, logs.FilterMessage("skipping undecodable embedding").Len())
}

func TestBadgerEngine_PutBatchAtomic(t *testing.T) {
	engine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	defer engine.Close()

	err = engine.PutBatch([]*Embedding{
		{ID: "ok", ModelName: "m", Vector: []float32{1}},
		{ID: "broken", ModelName: "m"},
	})
	require.ErrorIs(t, err, ErrInvalidData)

	n, err := engine.Count("")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBadgerEngine_Persistence(t *testing.T) {
	dir := t.TempDir()

	engine, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	require.NoError(t, engine.Put(&Embedding{ID: "keep", ModelName: "m", Text: "t", Vector: []float32{1, 2}}))
	require.NoError(t, engine.Sync())
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close(), "double close is a no-op")

	reopened, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("keep")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got.Vector)
	assert.Equal(t, ContentHash("m", "t"), got.ContentHash)
}

func TestEncodeDecodeEmbedding_ZeroTimes(t *testing.T) {
	data, err := encodeEmbedding(&Embedding{ID: "z", ModelName: "m", Vector: []float32{1}})
	require.NoError(t, err)

	e, err := decodeEmbedding(data)
	require.NoError(t, err)
	assert.True(t, e.CreatedAt.IsZero())

	_, err = decodeEmbedding([]byte("not msgpack"))
	assert.Error(t, err)
}

func TestSplitModelIndexKey(t *testing.T) {
	model, id, ok := splitModelIndexKey(modelIndexKey("text-3", "abc"))
	require.True(t, ok)
	assert.Equal(t, "text-3", model)
	assert.Equal(t, "abc", id)

	_, _, ok = splitModelIndexKey([]byte{prefixModelIndex, 'x'})
	assert.False(t, ok)
}

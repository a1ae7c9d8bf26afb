package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/embedlens/pkg/storage"
)

const sampleJSONL = `{"id":"a","uri":"doc://a","text":"alpha","model_name":"m","embedding":[1,0]}
{"uri":"doc://b","text":"beta","model_name":"m","embedding":[0,1]}

{"id":"c","uri":"doc://c","text":"alpha","model_name":"m","embedding":[1,0]}
{"id":"d","uri":"doc://d","text":"alpha","model_name":"other","embedding":[1,0,0]}
`

func TestImportJSONL(t *testing.T) {
	store := storage.NewMemoryEngine()
	defer store.Close()

	stats, err := importJSONL(strings.NewReader(sampleJSONL), store, importOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, importStats{Imported: 4}, stats)

	n, err := store.Count("m")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := store.Get("d")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, got.Vector)
}

func TestImportJSONL_Dedupe(t *testing.T) {
	store := storage.NewMemoryEngine()
	defer store.Close()

	stats, err := importJSONL(strings.NewReader(sampleJSONL), store, importOptions{Dedupe: true})
	require.NoError(t, err)
	assert.Equal(t, importStats{Imported: 3, Duplicates: 1}, stats)

	var ids []string
	require.NoError(t, store.StreamEmbeddings(context.Background(), "m", func(e *storage.Embedding) error {
		ids = append(ids, e.ID)
		return nil
	}))
	assert.Contains(t, ids, "a")
	assert.NotContains(t, ids, "c")
}

func TestImportJSONL_Errors(t *testing.T) {
	store := storage.NewMemoryEngine()
	defer store.Close()

	_, err := importJSONL(strings.NewReader("{\"model_name\":\"m\",\"embedding\":[1]}\nnot json\n"), store, importOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = importJSONL(strings.NewReader(`{"model_name":"m","embedding":[]}`), store, importOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	_, err = importJSONL(strings.NewReader(`{"text":"no model","embedding":[1]}`), store, importOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidData)
}

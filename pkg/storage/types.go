// Package storage provides the embedding store used by the analytics engine.
//
// The storage layer keeps embedding records (an identifier, the source URI and
// text, the producing model and the vector itself) and streams them back to
// the search orchestrator filtered by model name.
//
// Design Principles:
//   - Records are keyed by ID and indexed by model name
//   - Implementations are safe for concurrent use
//   - Streaming never aborts on a single undecodable row
//   - Callers get deep copies, never shared slices
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	err := engine.Put(&storage.Embedding{
//		URI:       "doc://readme",
//		Text:      "hello world",
//		ModelName: "text-embedding-3-small",
//		Vector:    []float32{0.1, 0.2, 0.3},
//	})
//
//	_ = engine.StreamEmbeddings(ctx, "text-embedding-3-small", func(e *storage.Embedding) error {
//		fmt.Println(e.ID, e.URI)
//		return nil
//	})
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidData      = errors.New("invalid data")
	ErrStorageClosed    = errors.New("storage closed")
	ErrIterationStopped = errors.New("iteration stopped") // Sentinel to stop streaming early
)

// Embedding is one stored vector together with the content it was computed
// from.
//
// Vectors are stored as float32, the precision embedding providers return.
// Scoring widens them to float64.
type Embedding struct {
	ID          string    `json:"id" msgpack:"id"`
	URI         string    `json:"uri" msgpack:"uri"`
	Text        string    `json:"text" msgpack:"text"`
	ModelName   string    `json:"model_name" msgpack:"model"`
	Vector      []float32 `json:"embedding" msgpack:"vec"`
	ContentHash string    `json:"content_hash,omitempty" msgpack:"hash"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created"`
	UpdatedAt   time.Time `json:"updated_at" msgpack:"updated"`
}

// Engine is the storage interface shared by MemoryEngine and BadgerEngine.
//
// Put is an upsert. It assigns a UUID when ID is empty, computes the
// ContentHash and maintains CreatedAt/UpdatedAt (CreatedAt survives
// overwrites of an existing ID).
//
// StreamEmbeddings calls fn for every record of modelName ("" streams all
// models). Returning ErrIterationStopped from fn ends the stream without
// error; any other error aborts it and is returned.
type Engine interface {
	Put(e *Embedding) error
	PutBatch(es []*Embedding) error
	Get(id string) (*Embedding, error)
	Delete(id string) error
	StreamEmbeddings(ctx context.Context, modelName string, fn func(e *Embedding) error) error
	Count(modelName string) (int64, error)
	Models() ([]string, error)
	Close() error
}

// ContentHash returns the hex blake2b-256 digest identifying text embedded by
// modelName. The same text under two models hashes differently.
func ContentHash(modelName, text string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(modelName))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// prepare validates e and fills the derived fields ahead of a write.
// created is the CreatedAt of the record being replaced, zero for a new one.
func prepare(e *Embedding, created, now time.Time) error {
	if e == nil {
		return ErrInvalidData
	}
	if e.ModelName == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidData)
	}
	if strings.IndexByte(e.ModelName, 0) >= 0 {
		return fmt.Errorf("%w: model name contains NUL", ErrInvalidData)
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: embedding vector is empty", ErrInvalidData)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.ContentHash = ContentHash(e.ModelName, e.Text)

	switch {
	case !created.IsZero():
		e.CreatedAt = created
	case e.CreatedAt.IsZero():
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	return nil
}

// copyEmbedding returns a deep copy so callers never share the vector.
func copyEmbedding(e *Embedding) *Embedding {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Vector = append([]float32(nil), e.Vector...)
	return &cp
}

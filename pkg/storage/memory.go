package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/orneryd/embedlens/pkg/math/vector"
)

// memoryRecord is a stored embedding plus its widened vector, cached so
// scoring does not convert on every query.
type memoryRecord struct {
	emb   *Embedding
	vec   []float64
	vecOK error // result of vector.Validate(vec)
}

// MemoryEngine is a thread-safe in-memory embedding store.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Ad-hoc analysis of an imported JSONL file
//   - Small corpora that fit entirely in RAM
//
// Features:
//   - Thread-safe: All operations use RWMutex for concurrent access
//   - Indexed: Maintains a model name index for filtered streaming
//   - Deep copies: Returns copies to prevent external mutation
//   - Native scoring: vectors are kept widened to float64 for search
//
// Streaming yields records in ID order, matching BadgerEngine.
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	engine.PutBatch([]*storage.Embedding{
//		{ID: "a", ModelName: "m", Text: "alpha", Vector: []float32{1, 0}},
//		{ID: "b", ModelName: "m", Text: "beta", Vector: []float32{0, 1}},
//	})
//
//	n, _ := engine.Count("m")
//	fmt.Printf("Stored %d embeddings\n", n)
type MemoryEngine struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	byModel map[string]map[string]struct{}
	closed  bool
}

// NewMemoryEngine creates a new in-memory storage engine with empty indexes.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		records: make(map[string]*memoryRecord),
		byModel: make(map[string]map[string]struct{}),
	}
}

// Put stores a copy of e, replacing any record with the same ID.
//
// The derived fields (ID when empty, ContentHash, timestamps) are written
// back into e so callers can see what was stored.
func (m *MemoryEngine) Put(e *Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	return m.putUnlocked(e, time.Now())
}

// PutBatch stores all records under a single lock. Records before the first
// invalid one are kept.
func (m *MemoryEngine) PutBatch(es []*Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	now := time.Now()
	for _, e := range es {
		if err := m.putUnlocked(e, now); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryEngine) putUnlocked(e *Embedding, now time.Time) error {
	var old *memoryRecord
	var created time.Time
	if e != nil && e.ID != "" {
		if old = m.records[e.ID]; old != nil {
			created = old.emb.CreatedAt
		}
	}
	if err := prepare(e, created, now); err != nil {
		return err
	}
	if old != nil {
		m.unindexUnlocked(old.emb)
	}

	stored := copyEmbedding(e)
	vec := vector.FromFloat32(stored.Vector)
	m.records[stored.ID] = &memoryRecord{emb: stored, vec: vec, vecOK: vector.Validate(vec)}

	ids, ok := m.byModel[stored.ModelName]
	if !ok {
		ids = make(map[string]struct{})
		m.byModel[stored.ModelName] = ids
	}
	ids[stored.ID] = struct{}{}
	return nil
}

func (m *MemoryEngine) unindexUnlocked(e *Embedding) {
	ids := m.byModel[e.ModelName]
	delete(ids, e.ID)
	if len(ids) == 0 {
		delete(m.byModel, e.ModelName)
	}
}

// Get returns a copy of the record with the given ID.
func (m *MemoryEngine) Get(id string) (*Embedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEmbedding(rec.emb), nil
}

// Delete removes the record with the given ID.
func (m *MemoryEngine) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	m.unindexUnlocked(rec.emb)
	delete(m.records, id)
	return nil
}

// snapshot returns the records of modelName ("" for all) in ID order.
// The records themselves are immutable once stored, so the slice can be
// walked after the lock is released.
func (m *MemoryEngine) snapshot(modelName string) ([]*memoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var ids []string
	if modelName == "" {
		ids = sortedKeys(m.records)
	} else {
		ids = sortedKeys(m.byModel[modelName])
	}

	out := make([]*memoryRecord, len(ids))
	for i, id := range ids {
		out[i] = m.records[id]
	}
	return out, nil
}

// StreamEmbeddings calls fn with a copy of every record of modelName.
func (m *MemoryEngine) StreamEmbeddings(ctx context.Context, modelName string, fn func(e *Embedding) error) error {
	records, err := m.snapshot(modelName)
	if err != nil {
		return err
	}

	for _, rec := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(copyEmbedding(rec.emb)); err != nil {
			if err == ErrIterationStopped {
				return nil
			}
			return err
		}
	}
	return nil
}

// ScoreEmbeddings scores every record of modelName against query using the
// cached float64 vectors.
//
// Records scoring below minScore are filtered out here and only counted;
// the count is returned. A record whose vector cannot be scored (non-finite
// values, wrong dimension) is passed to fn with a zero score and the scoring
// error so the caller decides how to report it.
func (m *MemoryEngine) ScoreEmbeddings(ctx context.Context, modelName string, query []float64, metric vector.Metric,
	minScore float64, fn func(e *Embedding, score float64, err error) error) (int, error) {
	records, err := m.snapshot(modelName)
	if err != nil {
		return 0, err
	}

	filtered := 0

	for _, rec := range records {
		select {
		case <-ctx.Done():
			return filtered, ctx.Err()
		default:
		}

		var score float64
		scoreErr := rec.vecOK
		if scoreErr == nil {
			score, scoreErr = metric.Similarity(query, rec.vec)
		}
		if scoreErr == nil && score < minScore {
			filtered++
			continue
		}

		if err := fn(copyEmbedding(rec.emb), score, scoreErr); err != nil {
			if err == ErrIterationStopped {
				return filtered, nil
			}
			return filtered, err
		}
	}
	return filtered, nil
}

// Count returns the number of records of modelName ("" counts all).
func (m *MemoryEngine) Count(modelName string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	if modelName == "" {
		return int64(len(m.records)), nil
	}
	return int64(len(m.byModel[modelName])), nil
}

// Models returns the distinct model names in sorted order.
func (m *MemoryEngine) Models() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	return sortedKeys(m.byModel), nil
}

// Close marks the engine closed and releases its maps.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	m.byModel = nil
	return nil
}

var _ Engine = (*MemoryEngine)(nil)

// sortedKeys returns the keys of m in ascending order (nil when m is empty),
// matching slices.Sorted(maps.Keys(m)) on toolchains without iterators.
func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	var keys []K
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

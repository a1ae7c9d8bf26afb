package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixEmbedding  = byte(0x01) // emb:id -> msgpack(storedEmbedding)
	prefixModelIndex = byte(0x02) // model:modelName:id -> []byte{}
)

// BadgerEngine provides persistent embedding storage using BadgerDB.
//
// Features:
//   - ACID transactions for every write
//   - Persistent storage to disk (or in-memory mode for tests)
//   - Model name secondary index for filtered streaming
//   - Thread-safe concurrent access
//
// Key Structure:
//   - Embeddings: 0x01 + id -> msgpack(storedEmbedding)
//   - Model Index: 0x02 + modelName + 0x00 + id -> empty
//
// Rows that fail to decode are logged and skipped while streaming, so one
// corrupt value never hides the rest of a model's embeddings.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.Put(&storage.Embedding{ModelName: "m", Text: "hi", Vector: vec})
type BadgerEngine struct {
	db     *badger.DB
	logger *zap.Logger
	mu     sync.RWMutex // Protects closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger receives skipped-row warnings and BadgerDB's own warnings.
	// If nil, logging is disabled.
	Logger *zap.Logger
}

// NewBadgerEngine creates a new persistent storage engine with default settings.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/embedlens")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// Example - In-Memory Database for Testing:
//
//	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
//		InMemory: true,
//		Logger:   zap.NewNop(),
//	})
//	defer engine.Close()
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	badgerOpts = badgerOpts.WithLogger(badgerLogger{logger.Sugar().Named("badger")})

	// Embeddings are small and numerous; keep the memory footprint modest.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).     // 16MB instead of 64MB
		WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
		WithNumMemtables(2).            // 2 instead of 5
		WithNumLevelZeroTables(2).      // 2 instead of 5
		WithNumLevelZeroTablesStall(4). // 4 instead of 15
		WithValueThreshold(1024).       // Store values > 1KB in value log
		WithBlockCacheSize(32 << 20).   // 32MB block cache
		WithIndexCacheSize(16 << 20)    // 16MB index cache

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerEngine{
		db:     db,
		logger: logger,
	}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// badgerLogger routes BadgerDB's internal logging through zap. Info and
// debug chatter is dropped.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l badgerLogger) Infof(string, ...interface{})        {}
func (l badgerLogger) Debugf(string, ...interface{})       {}

// ============================================================================
// Key encoding helpers
// ============================================================================

// embeddingKey creates a key for storing an embedding.
func embeddingKey(id string) []byte {
	return append([]byte{prefixEmbedding}, []byte(id)...)
}

// modelIndexKey creates a model index key.
func modelIndexKey(modelName, id string) []byte {
	key := make([]byte, 0, 2+len(modelName)+len(id))
	key = append(key, prefixModelIndex)
	key = append(key, modelName...)
	key = append(key, 0x00) // Separator
	key = append(key, id...)
	return key
}

// modelIndexPrefix returns the prefix for scanning one model ("" scans the
// whole index).
func modelIndexPrefix(modelName string) []byte {
	if modelName == "" {
		return []byte{prefixModelIndex}
	}
	key := make([]byte, 0, 2+len(modelName))
	key = append(key, prefixModelIndex)
	key = append(key, modelName...)
	key = append(key, 0x00)
	return key
}

// splitModelIndexKey extracts the model name and ID from a model index key.
func splitModelIndexKey(key []byte) (modelName, id string, ok bool) {
	rest := key[1:]
	sep := bytes.IndexByte(rest, 0x00)
	if sep < 0 {
		return "", "", false
	}
	return string(rest[:sep]), string(rest[sep+1:]), true
}

// ============================================================================
// Serialization helpers
// ============================================================================

// storedEmbedding is the on-disk form of an Embedding.
type storedEmbedding struct {
	ID          string    `msgpack:"id"`
	URI         string    `msgpack:"uri"`
	Text        string    `msgpack:"text"`
	ModelName   string    `msgpack:"model"`
	Vector      []float32 `msgpack:"vec"`
	ContentHash string    `msgpack:"hash"`
	CreatedAt   int64     `msgpack:"created"`
	UpdatedAt   int64     `msgpack:"updated"`
}

// encodeEmbedding serializes an embedding with msgpack.
func encodeEmbedding(e *Embedding) ([]byte, error) {
	return msgpack.Marshal(&storedEmbedding{
		ID:          e.ID,
		URI:         e.URI,
		Text:        e.Text,
		ModelName:   e.ModelName,
		Vector:      e.Vector,
		ContentHash: e.ContentHash,
		CreatedAt:   e.CreatedAt.UnixNano(),
		UpdatedAt:   e.UpdatedAt.UnixNano(),
	})
}

// decodeEmbedding deserializes an embedding written by encodeEmbedding.
func decodeEmbedding(data []byte) (*Embedding, error) {
	var s storedEmbedding
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.ID == "" || s.ModelName == "" {
		return nil, fmt.Errorf("%w: record without id or model name", ErrInvalidData)
	}
	return &Embedding{
		ID:          s.ID,
		URI:         s.URI,
		Text:        s.Text,
		ModelName:   s.ModelName,
		Vector:      s.Vector,
		ContentHash: s.ContentHash,
		CreatedAt:   unixNanoToTime(s.CreatedAt),
		UpdatedAt:   unixNanoToTime(s.UpdatedAt),
	}, nil
}

// unixNanoToTime converts a stored timestamp, keeping zero as the zero time.
func unixNanoToTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ============================================================================
// Engine implementation
// ============================================================================

func (b *BadgerEngine) ensureOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// Put stores e, replacing any record with the same ID. The derived fields
// are written back into e.
func (b *BadgerEngine) Put(e *Embedding) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	now := time.Now()
	return b.db.Update(func(txn *badger.Txn) error {
		return b.putInTxn(txn, e, now)
	})
}

// PutBatch stores all records in one transaction: either every record is
// written or none is.
func (b *BadgerEngine) PutBatch(es []*Embedding) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	now := time.Now()
	return b.db.Update(func(txn *badger.Txn) error {
		for _, e := range es {
			if err := b.putInTxn(txn, e, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerEngine) putInTxn(txn *badger.Txn, e *Embedding, now time.Time) error {
	var old *Embedding
	var created time.Time
	if e != nil && e.ID != "" {
		existing, err := getInTxn(txn, e.ID)
		switch {
		case err == nil:
			old = existing
			created = existing.CreatedAt
		case err != ErrNotFound:
			return err
		}
	}

	if err := prepare(e, created, now); err != nil {
		return err
	}

	if old != nil && old.ModelName != e.ModelName {
		if err := txn.Delete(modelIndexKey(old.ModelName, old.ID)); err != nil {
			return err
		}
	}

	data, err := encodeEmbedding(e)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	if err := txn.Set(embeddingKey(e.ID), data); err != nil {
		return err
	}
	return txn.Set(modelIndexKey(e.ModelName, e.ID), []byte{})
}

func getInTxn(txn *badger.Txn, id string) (*Embedding, error) {
	item, err := txn.Get(embeddingKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var e *Embedding
	err = item.Value(func(val []byte) error {
		var decErr error
		e, decErr = decodeEmbedding(val)
		return decErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedding %q: %w", id, err)
	}
	return e, nil
}

// Get returns the record with the given ID.
func (b *BadgerEngine) Get(id string) (*Embedding, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrNotFound
	}

	var e *Embedding
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = getInTxn(txn, id)
		return err
	})
	return e, err
}

// Delete removes the record with the given ID and its index entry.
func (b *BadgerEngine) Delete(id string) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if id == "" {
		return ErrNotFound
	}

	return b.db.Update(func(txn *badger.Txn) error {
		e, err := getInTxn(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(modelIndexKey(e.ModelName, id)); err != nil {
			return err
		}
		return txn.Delete(embeddingKey(id))
	})
}

// StreamEmbeddings iterates the records of modelName ("" for all) in ID order
// without loading them all into memory.
//
// Rows that cannot be decoded are logged at warn level and skipped. Context
// cancellation stops the stream with ctx.Err().
func (b *BadgerEngine) StreamEmbeddings(ctx context.Context, modelName string, fn func(e *Embedding) error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}

	return b.db.View(func(txn *badger.Txn) error {
		if modelName == "" {
			return b.streamAll(ctx, txn, fn)
		}
		return b.streamModel(ctx, txn, modelName, fn)
	})
}

func (b *BadgerEngine) streamAll(ctx context.Context, txn *badger.Txn, fn func(e *Embedding) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.PrefetchSize = 10
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte{prefixEmbedding}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item := it.Item()
		var e *Embedding
		err := item.Value(func(val []byte) error {
			var decErr error
			e, decErr = decodeEmbedding(val)
			return decErr
		})
		if err != nil {
			b.logger.Warn("skipping undecodable embedding",
				zap.ByteString("key", item.KeyCopy(nil)[1:]), zap.Error(err))
			continue
		}
		if err := fn(e); err != nil {
			if err == ErrIterationStopped {
				return nil // Normal stop
			}
			return err
		}
	}
	return nil
}

func (b *BadgerEngine) streamModel(ctx context.Context, txn *badger.Txn, modelName string, fn func(e *Embedding) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false // Index values are empty
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := modelIndexPrefix(modelName)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, id, ok := splitModelIndexKey(it.Item().Key())
		if !ok {
			continue
		}
		e, err := getInTxn(txn, id)
		if err != nil {
			b.logger.Warn("skipping undecodable embedding",
				zap.String("id", id), zap.String("model", modelName), zap.Error(err))
			continue
		}
		if err := fn(e); err != nil {
			if err == ErrIterationStopped {
				return nil
			}
			return err
		}
	}
	return nil
}

// Count returns the number of records of modelName ("" counts all), reading
// keys only.
func (b *BadgerEngine) Count(modelName string) (int64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // Only need keys
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := modelIndexPrefix(modelName)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Models returns the distinct model names in sorted order.
func (b *BadgerEngine) Models() ([]string, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}

	var models []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{prefixModelIndex}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			model, _, ok := splitModelIndexKey(it.Item().Key())
			if !ok {
				continue
			}
			if n := len(models); n == 0 || models[n-1] != model {
				models = append(models, model)
			}
		}
		return nil
	})
	return models, err
}

// Close closes the BadgerDB database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.db.Close()
}

// Sync forces a sync of all pending writes to disk.
func (b *BadgerEngine) Sync() error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return b.db.Sync()
}

var _ Engine = (*BadgerEngine)(nil)

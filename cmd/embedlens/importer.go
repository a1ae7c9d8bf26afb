package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/orneryd/embedlens/pkg/math/vector"
	"github.com/orneryd/embedlens/pkg/storage"
)

// importRecord is one line of an import file.
type importRecord struct {
	ID        string    `json:"id"`
	URI       string    `json:"uri"`
	Text      string    `json:"text"`
	ModelName string    `json:"model_name"`
	Embedding []float64 `json:"embedding"`
}

type importOptions struct {
	Dedupe    bool
	BatchSize int
}

type importStats struct {
	Imported   int
	Duplicates int
}

// importJSONL writes every record of r into store in batches. Blank lines
// are ignored; a malformed line aborts the import with its line number.
func importJSONL(r io.Reader, store storage.Engine, opts importOptions) (importStats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	var (
		stats importStats
		batch []*storage.Embedding
		seen  = make(map[string]struct{})
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.PutBatch(batch); err != nil {
			return err
		}
		stats.Imported += len(batch)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec importRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		if err := vector.Validate(rec.Embedding); err != nil {
			return stats, fmt.Errorf("line %d: embedding: %w", line, err)
		}

		if opts.Dedupe {
			hash := storage.ContentHash(rec.ModelName, rec.Text)
			if _, dup := seen[hash]; dup {
				stats.Duplicates++
				continue
			}
			seen[hash] = struct{}{}
		}

		batch = append(batch, &storage.Embedding{
			ID:        rec.ID,
			URI:       rec.URI,
			Text:      rec.Text,
			ModelName: rec.ModelName,
			Vector:    vector.ToFloat32(rec.Embedding),
		})
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return stats, fmt.Errorf("line %d: %w", line, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

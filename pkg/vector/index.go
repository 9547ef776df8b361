// Package vector provides the approximate nearest-neighbour index over
// intent embeddings. A flat index is sufficient at the configured cache
// bound; the contract is determinism of ordering, not a particular
// algorithm.
package vector

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Match is one TopK result.
type Match struct {
	Hash   string  `json:"hash"`
	Cosine float64 `json:"cosine"`
}

// Index stores (hash → vector) with cosine-similarity queries.
type Index struct {
	mu      sync.RWMutex
	dims    int
	vectors map[string][]float32
	norms   map[string]float64
}

// New creates an index for vectors of the given dimensionality.
func New(dims int) *Index {
	return &Index{
		dims:    dims,
		vectors: make(map[string][]float32),
		norms:   make(map[string]float64),
	}
}

// AddOrUpdate inserts or replaces the vector for a hash.
func (ix *Index) AddOrUpdate(hash string, vec []float32) error {
	if len(vec) != ix.dims {
		return fmt.Errorf("vector for %s has %d dims, index expects %d", hash, len(vec), ix.dims)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.vectors[hash] = vec
	ix.norms[hash] = norm(vec)
	return nil
}

// Remove drops a hash from the index.
func (ix *Index) Remove(hash string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.vectors, hash)
	delete(ix.norms, hash)
}

// Prune drops every hash not present in keep and returns the number of
// entries removed. The cycle cleanup step calls this with the current
// intent pool so the index tracks cache evictions.
func (ix *Index) Prune(keep map[string]struct{}) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	removed := 0
	for hash := range ix.vectors {
		if _, ok := keep[hash]; !ok {
			delete(ix.vectors, hash)
			delete(ix.norms, hash)
			removed++
		}
	}
	return removed
}

// Has reports whether a hash is indexed.
func (ix *Index) Has(hash string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.vectors[hash]
	return ok
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// TopK returns up to k matches for the query vector, descending by cosine,
// cosine ties broken by lexicographic hash. filter may be nil; when set,
// hashes for which it returns false are excluded.
func (ix *Index) TopK(query []float32, k int, filter func(hash string) bool) ([]Match, error) {
	if len(query) != ix.dims {
		return nil, fmt.Errorf("query has %d dims, index expects %d", len(query), ix.dims)
	}
	qnorm := norm(query)
	if qnorm == 0 {
		return nil, nil
	}

	ix.mu.RLock()
	matches := make([]Match, 0, len(ix.vectors))
	for hash, vec := range ix.vectors {
		if filter != nil && !filter(hash) {
			continue
		}
		n := ix.norms[hash]
		if n == 0 {
			continue
		}
		matches = append(matches, Match{Hash: hash, Cosine: dot(query, vec) / (qnorm * n)})
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Cosine != matches[j].Cosine {
			return matches[i].Cosine > matches[j].Cosine
		}
		return matches[i].Hash < matches[j].Hash
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Snapshot writes the full index to path. Called on clean shutdown; on
// start the engine may instead rebuild by re-embedding cached intents.
func (ix *Index) Snapshot(path string) error {
	ix.mu.RLock()
	data, err := json.Marshal(ix.vectors)
	ix.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Restore loads a snapshot written by Snapshot. Vectors with the wrong
// dimensionality are skipped. A missing file is not an error.
func (ix *Index) Restore(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	var vectors map[string][]float32
	if err := json.Unmarshal(data, &vectors); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for hash, vec := range vectors {
		if len(vec) != ix.dims {
			continue
		}
		ix.vectors[hash] = vec
		ix.norms[hash] = norm(vec)
	}
	return nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

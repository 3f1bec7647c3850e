// Package history persists job outcomes so that they survive a restart
// of the publisher, and so the drop-folder ingest can recognise sources
// which have already been published.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("History")

const (
	outcomePrefix = "outcome/"
	sourcePrefix  = "source/"
)

var ErrNotFound = errors.New("no history record found")

// Store is a pebble-backed record store. Records are stored as JSON under
// outcome/<id>; published source paths are indexed under source/<path>.
type Store[T any] struct {
	mutex sync.RWMutex
	db    *pebble.DB
}

func Open[T any](path string) (*Store[T], error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database at '%s': %w", path, err)
	}

	log.Emit(logger.INFO, "Opened history database at %s\n", path)
	return &Store[T]{db: db}, nil
}

// Save writes the record provided under the ID given. If source is not
// empty, it is recorded as published by this record in the same batch.
func (store *Store[T]) Save(id string, record T, source string) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialise history record %s: %w", id, err)
	}

	store.mutex.RLock()
	defer store.mutex.RUnlock()
	if store.db == nil {
		return pebble.ErrClosed
	}

	batch := store.db.NewBatch()
	defer batch.Close()

	if err := batch.Set([]byte(outcomePrefix+id), data, nil); err != nil {
		return err
	}
	if source != "" {
		if err := batch.Set(sourceKey(source), []byte(id), nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.Sync)
}

func (store *Store[T]) Get(id string) (*T, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	if store.db == nil {
		return nil, pebble.ErrClosed
	}

	value, closer, err := store.db.Get([]byte(outcomePrefix + id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	defer closer.Close()

	var record T
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("history record %s is corrupt: %w", id, err)
	}

	return &record, nil
}

// List returns all records in key order. Records which fail to decode are
// skipped.
func (store *Store[T]) List() ([]T, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	if store.db == nil {
		return nil, pebble.ErrClosed
	}

	iter, err := store.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(outcomePrefix),
		UpperBound: prefixUpperBound(outcomePrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	records := make([]T, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		var record T
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			log.Emit(logger.WARNING, "Skipping corrupt history record %s: %v\n", iter.Key(), err)
			continue
		}
		records = append(records, record)
	}

	return records, iter.Error()
}

// HasSource reports whether the source path provided has been published.
func (store *Store[T]) HasSource(path string) (bool, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	if store.db == nil {
		return false, pebble.ErrClosed
	}

	_, closer, err := store.db.Get(sourceKey(path))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	closer.Close()
	return true, nil
}

func (store *Store[T]) Close() error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.db == nil {
		return nil
	}

	err := store.db.Close()
	store.db = nil
	return err
}

func sourceKey(path string) []byte {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	return []byte(sourcePrefix + filepath.Clean(path))
}

func prefixUpperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}

package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	badgerv3 "github.com/dgraph-io/badger/v3"
)

// Offsets are zero padded so badger's lexical key order matches numeric offset order
const (
	prefixCheckpoint  = "checkpoint:"
	keyCheckpoint     = prefixCheckpoint + "%s:%020d"
	prefixWorkload    = prefixCheckpoint + "%s:"
	defaultGCInterval = 5 * time.Minute
	gcDiscardRatio    = 0.5
)

// BadgerCheckpointStore implements ICheckpointStore using BadgerDB. Checkpoints survive a restart,
// so stale workloads can be found with ListWorkloads and discarded.
type BadgerCheckpointStore struct {
	db       *badgerv3.DB
	mu       sync.RWMutex
	closed   bool
	closeCh  chan struct{}
	gcTicker *time.Ticker
}

// NewBadgerCheckpointStore opens a BadgerDB checkpoint store in cfg.Dir, or in memory when
// cfg.InMemory is set
func NewBadgerCheckpointStore(cfg *proverConfig.BadgerConfig) (*BadgerCheckpointStore, error) {
	if cfg == nil {
		return nil, errors.New("badger config is nil")
	}

	opts := badgerv3.DefaultOptions(cfg.Dir)
	opts.Logger = nil

	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = cfg.NumVersionsToKeep
	}

	db, err := badgerv3.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	gcInterval := cfg.GCInterval
	if gcInterval <= 0 {
		gcInterval = defaultGCInterval
	}

	s := &BadgerCheckpointStore{
		db:       db,
		closeCh:  make(chan struct{}),
		gcTicker: time.NewTicker(gcInterval),
	}
	go s.runGC()

	return s, nil
}

func (s *BadgerCheckpointStore) runGC() {
	for {
		select {
		case <-s.gcTicker.C:
			s.mu.RLock()
			if s.closed {
				s.mu.RUnlock()
				return
			}
			s.mu.RUnlock()

			_ = s.db.RunValueLogGC(gcDiscardRatio)
		case <-s.closeCh:
			return
		}
	}
}

func (s *BadgerCheckpointStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *BadgerCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *types.Checkpoint) error {
	if err := storage.ValidateCheckpoint(checkpoint); err != nil {
		return err
	}
	if s.isClosed() {
		return storage.ErrStoreClosed
	}

	key := fmt.Sprintf(keyCheckpoint, checkpoint.WorkloadId, checkpoint.Offset)
	value, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	err = s.db.Update(func(txn *badgerv3.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *BadgerCheckpointStore) GetCheckpoint(ctx context.Context, workloadId string, offset uint64) (*types.Checkpoint, error) {
	if s.isClosed() {
		return nil, storage.ErrStoreClosed
	}

	var cp types.Checkpoint
	key := fmt.Sprintf(keyCheckpoint, workloadId, offset)

	err := s.db.View(func(txn *badgerv3.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badgerv3.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *BadgerCheckpointStore) ListCheckpoints(ctx context.Context, workloadId string) ([]*types.Checkpoint, error) {
	if s.isClosed() {
		return nil, storage.ErrStoreClosed
	}

	checkpoints := make([]*types.Checkpoint, 0)
	prefix := []byte(fmt.Sprintf(prefixWorkload, workloadId))

	err := s.db.View(func(txn *badgerv3.Txn) error {
		opts := badgerv3.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var cp types.Checkpoint
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal checkpoint %s: %w", it.Item().Key(), err)
			}
			checkpoints = append(checkpoints, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return checkpoints, nil
}

func (s *BadgerCheckpointStore) DeleteWorkloadCheckpoints(ctx context.Context, workloadId string) (int, error) {
	if s.isClosed() {
		return 0, storage.ErrStoreClosed
	}

	keys, err := s.keysWithPrefix([]byte(fmt.Sprintf(prefixWorkload, workloadId)))
	if err != nil {
		return 0, fmt.Errorf("failed to collect checkpoint keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete checkpoint: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return len(keys), nil
}

func (s *BadgerCheckpointStore) ListWorkloads(ctx context.Context) ([]string, error) {
	if s.isClosed() {
		return nil, storage.ErrStoreClosed
	}

	keys, err := s.keysWithPrefix([]byte(prefixCheckpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to list workloads: %w", err)
	}

	ids := make([]string, 0)
	for _, key := range keys {
		rest := bytes.TrimPrefix(key, []byte(prefixCheckpoint))
		idx := bytes.LastIndexByte(rest, ':')
		if idx < 0 {
			continue
		}
		if _, err := strconv.ParseUint(string(rest[idx+1:]), 10, 64); err != nil {
			continue
		}
		ids = append(ids, string(rest[:idx]))
	}
	// keys arrive sorted, so duplicates are adjacent
	return slices.Compact(ids), nil
}

func (s *BadgerCheckpointStore) keysWithPrefix(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badgerv3.Txn) error {
		opts := badgerv3.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	s.closed = true
	close(s.closeCh)
	if s.gcTicker != nil {
		s.gcTicker.Stop()
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger db: %w", err)
	}
	return nil
}

package storage

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"communitycore/core/types"
)

const stateKey = "state"

func blockKey(blockNumber uint64) []byte {
	return []byte(fmt.Sprintf("block/%020d", blockNumber))
}

// LevelDBStore is the production Store backend, using
// github.com/syndtr/goleveldb for durable key-value persistence. Blocks and
// the checkpoint record are stored as JSON-encoded records; the on-disk
// format is an implementation detail callers never observe.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (or creates) a LevelDB database at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb at %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func (s *LevelDBStore) LoadState() (StateRecord, bool, error) {
	raw, err := s.db.Get([]byte(stateKey), nil)
	if err == leveldb.ErrNotFound {
		return StateRecord{}, false, nil
	}
	if err != nil {
		return StateRecord{}, false, fmt.Errorf("storage: load state: %w", err)
	}
	var rec StateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return StateRecord{}, false, fmt.Errorf("storage: decode state: %w", err)
	}
	return rec, true, nil
}

func (s *LevelDBStore) SaveState(rec StateRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: encode state: %w", err)
	}
	if err := s.db.Put([]byte(stateKey), raw, nil); err != nil {
		return fmt.Errorf("storage: save state: %w", err)
	}
	return nil
}

func (s *LevelDBStore) LoadBlock(blockNumber uint64) (*types.Block, error) {
	raw, err := s.db.Get(blockKey(blockNumber), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load block %d: %w", blockNumber, err)
	}
	var rec types.BlockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode block %d: %w", blockNumber, err)
	}
	return types.BlockFromRecord(rec)
}

func (s *LevelDBStore) SaveBlock(block *types.Block) error {
	key := blockKey(block.BlockNumber)
	if existingRaw, err := s.db.Get(key, nil); err == nil {
		newRaw, merr := json.Marshal(block.ToRecord())
		if merr != nil {
			return fmt.Errorf("storage: encode block %d: %w", block.BlockNumber, merr)
		}
		if string(existingRaw) != string(newRaw) {
			return ErrBlockMismatch
		}
		return nil
	} else if err != leveldb.ErrNotFound {
		return fmt.Errorf("storage: check existing block %d: %w", block.BlockNumber, err)
	}

	raw, err := json.Marshal(block.ToRecord())
	if err != nil {
		return fmt.Errorf("storage: encode block %d: %w", block.BlockNumber, err)
	}
	if err := s.db.Put(key, raw, nil); err != nil {
		return fmt.Errorf("storage: save block %d: %w", block.BlockNumber, err)
	}
	return nil
}

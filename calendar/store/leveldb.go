package store

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	ldbopt "github.com/syndtr/goleveldb/leveldb/opt"
)

// levelEngine wraps goleveldb, grounded on
// storage/database/leveldb_database.go's constructor and error-handling
// shape (recover-on-corruption, cache and write-buffer options).
type levelEngine struct {
	db *leveldb.DB
}

func openLDBOptions() *ldbopt.Options {
	return &ldbopt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     8 * ldbopt.MiB,
		WriteBuffer:            4 * ldbopt.MiB,
	}
}

// OpenLevelDB opens (or creates) a CalendarStore backed by goleveldb.
func OpenLevelDB(dir string) (*Store, error) {
	logger.Info("opening leveldb calendar store", "dir", dir)
	db, err := leveldb.OpenFile(dir, openLDBOptions())
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		logger.Warn("leveldb store reported corruption, recovering", "dir", dir)
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, err
	}
	return newStore(&levelEngine{db: db})
}

func (e *levelEngine) Has(key []byte) (bool, error) { return e.db.Has(key, nil) }
func (e *levelEngine) Get(key []byte) ([]byte, error) {
	v, err := e.db.Get(key, nil)
	if err != nil {
		return nil, err
	}
	return v, nil
}
func (e *levelEngine) Close() error { return e.db.Close() }

func (e *levelEngine) NewBatch() Batch {
	return &levelBatch{db: e.db, batch: new(leveldb.Batch)}
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) { b.batch.Put(key, value) }

// Write commits the batch with a durable (sync'd) flush.
func (b *levelBatch) Write() error {
	return b.db.Write(b.batch, &ldbopt.WriteOptions{Sync: true})
}

package store

import (
	"github.com/dgraph-io/badger"

	"github.com/klaytn/ots-calendar/calendar/config"
)

// badgerEngine wraps dgraph-io/badger, grounded on
// storage/database/badger_database.go's constructor (Dir/ValueDir setup,
// directory creation) — an alternate CalendarStore engine selectable via
// Config.DBType.
type badgerEngine struct {
	db *badger.DB
}

// OpenBadgerDB opens (or creates) a CalendarStore backed by badger.
func OpenBadgerDB(dir string) (*Store, error) {
	logger.Info("opening badger calendar store", "dir", dir)
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return newStore(&badgerEngine{db: db})
}

func (e *badgerEngine) Has(key []byte) (bool, error) {
	_, err := e.Get(key)
	if err == ErrNotFound || err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *badgerEngine) Get(key []byte) ([]byte, error) {
	var out []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			out = append([]byte{}, v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	return out, err
}

func (e *badgerEngine) Close() error { return e.db.Close() }

func (e *badgerEngine) NewBatch() Batch {
	return &badgerBatch{db: e.db}
}

type badgerBatch struct {
	db      *badger.DB
	entries []badgerEntry
}

type badgerEntry struct{ key, value []byte }

func (b *badgerBatch) Put(key, value []byte) {
	b.entries = append(b.entries, badgerEntry{key: append([]byte{}, key...), value: append([]byte{}, value...)})
}

// Write commits the batch in a single transaction, which badger always
// flushes durably (via its WAL) before Commit returns.
func (b *badgerBatch) Write() error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, e := range b.entries {
			if err := txn.Set(e.key, e.value); err != nil {
				return err
			}
		}
		return nil
	})
}

// OpenStore opens a CalendarStore using the engine named by dbType
// ("leveldb" or "badger"), matching config.Config.DBType.
func OpenStore(dbType, dir string) (*Store, error) {
	switch dbType {
	case config.DBTypeBadger:
		return OpenBadgerDB(dir)
	default:
		return OpenLevelDB(dir)
	}
}

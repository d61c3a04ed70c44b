// Package store implements the CalendarStore: a persistent
// mapping from message to Timestamp node, where a node holds only its own
// attestations plus outgoing operation edges (children are separate keys).
// Grounded on storage/database/{leveldb_database,badger_database}.go for
// the pluggable-engine shape and on
// original_source/otsserver/calendar.py's LevelDbCalendar for the
// non-recursive read / recursive-union write algorithm.
package store

import (
	"bytes"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	calendarlog "github.com/klaytn/ots-calendar/log"
	"github.com/klaytn/ots-calendar/ots"
)

var logger = calendarlog.NewModuleLogger(calendarlog.CalendarStore)

// ErrNotFound is returned when a message has no node in the store.
var ErrNotFound = errors.New("store: not found")

// engine is the minimal raw KV surface both backends (leveldb, badger)
// implement, mirroring storage/database's Put/Get/Has/NewBatch shape.
type engine interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	NewBatch() Batch
	Close() error
}

// Batch is an atomic group of writes, committed with a durable flush.
type Batch interface {
	Put(key, value []byte)
	Write() error
}

// Store is the CalendarStore contract.
type Store struct {
	engine engine

	cacheMu sync.Mutex
	cache   *lru.Cache // msg (string) -> *ots.Timestamp, non-recursive node only
}

// nodeCacheSize bounds the recently-read-node LRU in front of the KV
// engine, grounded on common/cache.go's CacheType/golang-lru sizing.
const nodeCacheSize = 4096

func newStore(e engine) (*Store, error) {
	c, err := lru.New(nodeCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{engine: e, cache: c}, nil
}

// Contains reports whether message has a node in the store.
func (s *Store) Contains(message []byte) (bool, error) {
	if _, ok := s.cache.Get(string(message)); ok {
		return true, nil
	}
	return s.engine.Has(message)
}

// getLocal reads a node non-recursively: its own attestations and outgoing
// op edges, with unresolved (childless) edges. Consults the LRU first.
func (s *Store) getLocal(message []byte) (*ots.Timestamp, []ots.Op, error) {
	node, ops, _, err := s.getLocalRaw(message)
	return node, ops, err
}

// getLocalRaw additionally returns the exact bytes the node is currently
// persisted as (nil if it came from the cache or didn't exist), so callers
// can detect a no-op re-add and avoid rewriting an unchanged record.
func (s *Store) getLocalRaw(message []byte) (*ots.Timestamp, []ots.Op, []byte, error) {
	if v, ok := s.cache.Get(string(message)); ok {
		node := v.(*ots.Timestamp)
		ops := make([]ots.Op, len(node.Ops))
		for i, e := range node.Ops {
			ops[i] = e.Op
		}
		return cloneNode(node), ops, nil, nil
	}

	raw, err := s.engine.Get(message)
	if err != nil {
		return nil, nil, nil, ErrNotFound
	}
	node, ops, err := ots.DeserializeNode(message, raw)
	if err != nil {
		return nil, nil, nil, err
	}
	return node, ops, raw, nil
}

func cloneNode(n *ots.Timestamp) *ots.Timestamp {
	c := ots.New(n.Msg)
	c.Attestations = append([]ots.Attestation{}, n.Attestations...)
	return c
}

// Get reconstructs the full Timestamp tree rooted at message by recursive
// lookup on each outgoing operation's target message.
func (s *Store) Get(message []byte) (*ots.Timestamp, error) {
	node, ops, err := s.getLocal(message)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		childMsg := op.Apply(message)
		child, err := s.Get(childMsg)
		if err != nil {
			return nil, err
		}
		node.Ops = append(node.Ops, ots.OpEdge{Op: op, Child: child})
	}
	return node, nil
}

// AddMany atomically unions a sequence of sub-timestamps into the store:
// union attestations, add new op edges,
// recurse into each edge's child, and stage a non-recursive re-serialisation
// of each touched node into one batch.
func (s *Store) AddMany(timestamps []*ots.Timestamp) error {
	batch := s.engine.NewBatch()
	touched := map[string]*ots.Timestamp{}
	original := map[string][]byte{}

	var addOne func(t *ots.Timestamp) error
	addOne = func(t *ots.Timestamp) error {
		key := string(t.Msg)
		existing, ok := touched[key]
		if !ok {
			local, ops, raw, err := s.getLocalRaw(t.Msg)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					return err
				}
				local = ots.New(t.Msg)
			} else {
				for _, op := range ops {
					local.Ops = append(local.Ops, ots.OpEdge{Op: op})
				}
				// Snapshot the pre-union record so we can later detect a
				// no-op re-add and skip rewriting it: identical re-adds
				// must not rewrite. Use the on-disk bytes directly when we
				// have them (disk read); on a cache hit raw is nil, so
				// fall back to re-serialising the reconstructed node,
				// which is byte-for-byte what's on disk since AddMany
				// itself always persists SerializeNode(node) for a node
				// before caching it.
				if raw != nil {
					original[key] = raw
				} else {
					original[key] = ots.SerializeNode(local)
				}
			}
			existing = local
			touched[key] = existing
		}

		for _, a := range t.Attestations {
			existing.AddAttestation(a)
		}

		for _, e := range t.Ops {
			hasEdge := false
			for _, existingEdge := range existing.Ops {
				if existingEdge.Op.Equal(e.Op) {
					hasEdge = true
					break
				}
			}
			if !hasEdge {
				existing.Ops = append(existing.Ops, ots.OpEdge{Op: e.Op})
			}
			if err := addOne(e.Child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, t := range timestamps {
		if err := addOne(t); err != nil {
			return err
		}
	}

	changed := false
	for key, node := range touched {
		serialized := ots.SerializeNode(node)
		if prev, existed := original[key]; existed && bytes.Equal(prev, serialized) {
			continue // identical re-add: no-op, do not rewrite the record
		}
		batch.Put([]byte(key), serialized)
		changed = true
	}
	if changed {
		if err := batch.Write(); err != nil {
			return err
		}
	}

	s.cacheMu.Lock()
	for key, node := range touched {
		s.cache.Add(key, node)
	}
	s.cacheMu.Unlock()
	return nil
}

// Add is a convenience wrapper around AddMany for a single timestamp.
func (s *Store) Add(t *ots.Timestamp) error {
	return s.AddMany([]*ots.Timestamp{t})
}

// Close closes the underlying engine.
func (s *Store) Close() error {
	return s.engine.Close()
}

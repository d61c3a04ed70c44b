// Package backup implements the backup producer: it
// exposes the Calendar's history as deterministic, fixed-size, permanently
// cacheable chunks a mirror can replicate without trusting the primary.
//
// Grounded on storage/database/leveldb_database.go's directory-sharded disk
// cache layout (the 3-level kkk/kkkkkk path) and
// original_source/otsserver/backup.py's reverse-range fail-fast walk.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rcrowley/go-metrics"

	"github.com/klaytn/ots-calendar/calendar/journal"
	"github.com/klaytn/ots-calendar/calendar/store"
	calendarlog "github.com/klaytn/ots-calendar/log"
	"github.com/klaytn/ots-calendar/ots"
)

var logger = calendarlog.NewModuleLogger(calendarlog.Backup)

// chunksServed mirrors work/worker.go's package-level
// metrics.NewRegisteredCounter vars.
var chunksServed = metrics.NewRegisteredCounter("backup.chunks.served", nil)

// ErrNotFound is returned when a chunk isn't fully available yet: some
// journal entry in its range is missing, or its timestamp tree is
// incomplete in the CalendarStore.
var ErrNotFound = errors.New("backup: chunk not found")

// Paging is the fixed number of journal entries per chunk.
const Paging = 1000

// Producer serves backup chunks, caching each completed chunk to disk
// under cacheDir the first time it is fully computable.
type Producer struct {
	journal  *journal.Journal
	store    *store.Store
	cacheDir string
}

// New constructs a Producer reading from j/st and caching under cacheDir.
func New(j *journal.Journal, st *store.Store, cacheDir string) *Producer {
	return &Producer{journal: j, store: st, cacheDir: cacheDir}
}

// cachePath returns the deterministic 3-level path for chunk index k,
// matching the "backup_cache/kkk/kkkkkk" layout.
func cachePath(cacheDir string, k uint64) string {
	name := fmt.Sprintf("%06d", k)
	return filepath.Join(cacheDir, name[:3], name)
}

// GetChunk implements get_chunk(k). It serves from the disk
// cache if present; otherwise it walks journal indices [k*Paging,
// (k+1)*Paging) in reverse (so an incomplete chunk fails fast on its last,
// least-likely-to-be-settled entry before any work is wasted on the rest),
// collects every reachable Timestamp node, and serialises the result.
func (p *Producer) GetChunk(k uint64) ([]byte, error) {
	if path := cachePath(p.cacheDir, k); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			chunksServed.Inc(1)
			return data, nil
		}
	}

	start := k * Paging
	end := start + Paging

	nodes := map[string]*ots.Timestamp{}
	for idx := end; idx > start; idx-- {
		record, err := p.journal.Get(idx - 1)
		if err != nil {
			return nil, ErrNotFound
		}
		root, err := p.store.Get(record)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		collect(root, nodes)
	}

	data := serialiseChunk(nodes)
	p.writeCache(k, data)
	chunksServed.Inc(1)
	return data, nil
}

// collect walks t and every reachable descendant, recording each distinct
// message's node (attestations + outgoing ops only — no nested children),
// matching the "message -> serialise(attestations, outgoing_ops_only)" shape.
func collect(t *ots.Timestamp, into map[string]*ots.Timestamp) {
	key := string(t.Msg)
	if _, ok := into[key]; ok {
		return
	}
	into[key] = t
	t.Walk(func(child *ots.Timestamp) {
		collect(child, into)
	})
}

// serialiseChunk sorts the collected nodes by message and concatenates
// (varuint(key_len), key, varuint(value_len), value) records.
func serialiseChunk(nodes map[string]*ots.Timestamp) []byte {
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := ots.NewWriter()
	for _, k := range keys {
		value := ots.SerializeNode(nodes[k])
		w.WriteBytes([]byte(k))
		w.WriteBytes(value)
	}
	return w.Bytes()
}

func (p *Producer) writeCache(k uint64, data []byte) {
	path := cachePath(p.cacheDir, k)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger.Warn("backup cache mkdir failed", "chunk", k, "err", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logger.Warn("backup cache write failed", "chunk", k, "err", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logger.Warn("backup cache install failed", "chunk", k, "err", err)
	}
}

// ParseChunk decodes a chunk's (key, value) records back out, used by
// mirror.go to validate every fetched chunk parses before trusting it.
func ParseChunk(data []byte) (map[string][]byte, error) {
	r := ots.NewReader(data)
	out := map[string][]byte{}
	for {
		key, err := r.ReadBytes()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}
		value, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		out[string(key)] = value
	}
	return out, nil
}

// ResolveChunk turns a parsed chunk's flat (message -> attestations +
// outgoing ops) records into fully linked Timestamp trees, resolving each
// op edge's child from the same record set, so the result can be handed
// directly to Store.AddMany. Used by a mirror replaying a fetched chunk
// into its own CalendarStore.
func ResolveChunk(records map[string][]byte) ([]*ots.Timestamp, error) {
	built := map[string]*ots.Timestamp{}
	out := make([]*ots.Timestamp, 0, len(records))
	for key := range records {
		t, err := resolveNode([]byte(key), records, built)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func resolveNode(msg []byte, records map[string][]byte, built map[string]*ots.Timestamp) (*ots.Timestamp, error) {
	key := string(msg)
	if t, ok := built[key]; ok {
		return t, nil
	}

	data, ok := records[key]
	if !ok {
		return nil, fmt.Errorf("backup: chunk is missing a node for %x", msg)
	}
	t, ops, err := ots.DeserializeNode(msg, data)
	if err != nil {
		return nil, err
	}
	built[key] = t

	for _, op := range ops {
		childMsg := op.Apply(msg)
		child, err := resolveNode(childMsg, records, built)
		if err != nil {
			return nil, err
		}
		t.Ops = append(t.Ops, ots.OpEdge{Op: op, Child: child})
	}
	return t, nil
}

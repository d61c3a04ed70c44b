// Package journal implements the append-only, fixed-record commitment log:
// the durability backbone that guarantees no accepted commitment is ever
// lost. Grounded on original_source/otsserver/calendar.py's
// Journal/JournalWriter classes, re-expressed in this codebase's storage-
// constructor idiom (storage/database/leveldb_database.go).
package journal

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	calendarlog "github.com/klaytn/ots-calendar/log"
	"github.com/klaytn/ots-calendar/stamperrors"
)

// RecordSize is the fixed journal record length: a 4-byte big-endian
// seconds-since-epoch time bucket, a 32-byte Merkle root, and an 8-byte
// HMAC tag (R=44, t[4] || root[32] || mac[8]).
const RecordSize = 44

var logger = calendarlog.NewModuleLogger(calendarlog.Journal)

// ErrNotFound is returned by Get when idx is beyond the end of the journal.
var ErrNotFound = fmt.Errorf("journal: record not found")

// Journal is the read-only, random-access view of the log. Many readers
// (Stamper, Backup) may hold one concurrently; each Get copies its record
// out of a read-only memory mapping at the record's own offset.
type Journal struct {
	path string

	mu     sync.RWMutex
	file   *os.File
	mm     mmap.MMap
	length int64 // bytes currently mapped
}

// Open opens path for reading. It is safe to call Open repeatedly from
// different goroutines/processes; each gets its own independent read view.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}
	if err := j.remap(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) remap() error {
	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	var m mmap.MMap
	if fi.Size() > 0 {
		m, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return err
		}
	}
	j.mu.Lock()
	if j.mm != nil {
		j.mm.Unmap()
	}
	if j.file != nil {
		j.file.Close()
	}
	j.file = f
	j.mm = m
	j.length = fi.Size()
	j.mu.Unlock()
	return nil
}

// Get reads the idx-th record. It remaps the underlying file if the
// on-disk length has grown since the last read, so a long-lived reader
// (the Stamper) observes writer progress without restarting.
func (j *Journal) Get(idx uint64) ([]byte, error) {
	offset := int64(idx) * RecordSize

	j.mu.RLock()
	length := j.length
	j.mu.RUnlock()

	if offset+RecordSize > length {
		// The writer may have appended since we last mapped; try once more
		// with a fresh mapping before declaring not-found.
		if err := j.remap(); err != nil {
			return nil, err
		}
		j.mu.RLock()
		length = j.length
		j.mu.RUnlock()
		if offset+RecordSize > length {
			return nil, ErrNotFound
		}
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]byte, RecordSize)
	copy(out, j.mm[offset:offset+RecordSize])
	return out, nil
}

// Len returns the number of complete records currently visible.
func (j *Journal) Len() (uint64, error) {
	if err := j.remap(); err != nil {
		return 0, err
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return uint64(j.length) / RecordSize, nil
}

// Close releases the mapping and file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.mm != nil {
		j.mm.Unmap()
	}
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// Writer is the single append-only handle; the calling process must hold
// exactly one, owned by the Calendar facade (called from the Aggregator).
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// OpenWriter opens path for append, padding any trailing partial record
// with zero bytes.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	pos, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		f.Close()
		return nil, err
	}
	if excess := pos % RecordSize; excess != 0 {
		pad := RecordSize - excess
		logger.Error("journal size not a multiple of record size; padding", "excess", excess, "pad", pad)
		if _, err := f.Write(make([]byte, pad)); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
	}
	n, _ := f.Seek(0, os.SEEK_END)
	logger.Info("opened journal for appending", "entries", n/RecordSize)
	return &Writer{f: f}, nil
}

// Submit appends commitment (exactly RecordSize bytes) to the tail, and
// does not return until it is flushed and fsynced to disk.
func (w *Writer) Submit(commitment []byte) error {
	if len(commitment) != RecordSize {
		return stamperrors.New(stamperrors.CodeBadRecordLength, stamperrors.Fatal,
			fmt.Sprintf("journal commitments must be exactly %d bytes, got %d", RecordSize, len(commitment)), nil)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// O_APPEND guarantees the OS positions each write at the true current
	// end of file, even if another process extended it concurrently.
	if _, err := w.f.Write(commitment); err != nil {
		return stamperrors.Retry("ERR_JOURNAL_IO", "journal write failed", err)
	}
	if err := w.f.Sync(); err != nil {
		return stamperrors.Retry("ERR_JOURNAL_IO", "journal fsync failed", err)
	}
	return nil
}

// Close closes the append handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Package calendar implements the Calendar facade: it
// binds the Journal, the CalendarStore, and this server's identity (URI,
// HMAC key) together and is the only way the Aggregator's batched root
// ever reaches durable storage.
package calendar

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/klaytn/ots-calendar/calendar/journal"
	"github.com/klaytn/ots-calendar/calendar/store"
	calendarlog "github.com/klaytn/ots-calendar/log"
	"github.com/klaytn/ots-calendar/ots"
)

var logger = calendarlog.NewModuleLogger(calendarlog.Calendar)

// RecordSize re-exports journal.RecordSize: decided as R=44
// (t[4] BE || root[32] || mac[8]), so the journal record's bytes are exactly the
// message of the Timestamp node the commitment is attested on, with no
// separate reduction step for the Stamper or a client to reverse.
const RecordSize = journal.RecordSize

// Calendar binds the Journal, CalendarStore, and this server's identity.
type Calendar struct {
	URI string

	hmacKey []byte
	dataDir string

	Journal *journal.Writer
	Reader  *journal.Journal
	Store   *store.Store

	now func() time.Time
}

// Open opens (or initialises) a Calendar rooted at dataDir. uri and
// hmacKey are persisted under dataDir/{uri,hmac-key} on first use and
// re-read on subsequent opens, matching
// original_source/otsserver/calendar.py's Calendar.__init__ file layout.
func Open(dataDir, uri string, dbType string) (*Calendar, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	uriPath := dataDir + "/uri"
	if uri != "" {
		if err := ioutil.WriteFile(uriPath, []byte(uri), 0644); err != nil {
			return nil, err
		}
	} else {
		data, err := ioutil.ReadFile(uriPath)
		if err != nil {
			return nil, fmt.Errorf("calendar: URI not yet set; %s does not exist: %w", uriPath, err)
		}
		uri = string(data)
	}

	keyPath := dataDir + "/hmac-key"
	key, err := ioutil.ReadFile(keyPath)
	if os.IsNotExist(err) {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		if err := ioutil.WriteFile(keyPath, key, 0600); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	w, err := journal.OpenWriter(dataDir + "/journal")
	if err != nil {
		return nil, err
	}
	r, err := journal.Open(dataDir + "/journal")
	if err != nil {
		return nil, err
	}
	st, err := store.OpenStore(dbType, dataDir+"/db")
	if err != nil {
		return nil, err
	}

	return &Calendar{
		URI:     uri,
		hmacKey: key,
		dataDir: dataDir,
		Journal: w,
		Reader:  r,
		Store:   st,
		now:     time.Now,
	}, nil
}

// deriveIndexKey derives the per-time-bucket key from the calendar's HMAC
// key and idx (seconds-since-epoch, decided as a 32-bit
// wide tree, so the scheme is valid through second 2^32). Each of the 32
// bits of idx walks one level of a domain-separated SHA-256 binary tree:
// a 0x00 byte is appended for a 0 bit, 0xFF for a 1 bit.
func deriveIndexKey(hmacKey []byte, idx uint32) []byte {
	key := hmacKey
	for level := 31; level >= 0; level-- {
		bit := (idx >> uint(level)) & 1
		h := sha256.New()
		h.Write(key)
		if bit == 0 {
			h.Write([]byte{0x00})
		} else {
			h.Write([]byte{0xFF})
		}
		key = h.Sum(nil)
	}
	return key
}

// Submit implements Calendar.submit: it time-stamps the
// aggregator's root message, derives this second's HMAC key from the
// 32-level key tree, MACs the prepended message, attaches a Pending
// attestation, journals the R-byte commitment (fsync before returning),
// and returns the fully populated root Timestamp.
func (c *Calendar) Submit(root *ots.Timestamp) (*ots.Timestamp, error) {
	t := uint32(c.now().Unix())

	var tbuf [4]byte
	tbuf[0] = byte(t >> 24)
	tbuf[1] = byte(t >> 16)
	tbuf[2] = byte(t >> 8)
	tbuf[3] = byte(t)

	prepended := root.Add(ots.Prepend(tbuf[:]))

	idxKey := deriveIndexKey(c.hmacKey, t)
	h := sha256.New()
	h.Write(prepended.Msg)
	h.Write(idxKey)
	sum := h.Sum(nil)[:8]

	// committed's message is built by pure concatenation (Prepend, then
	// Append — no further hashing), so committed.Msg is literally the
	// record bytes the journal stores: the Stamper recovers this exact
	// node from the store by looking up the journal entry it reads back.
	committed := prepended.Add(ots.Append(sum))
	committed.AddAttestation(ots.PendingAttestation(c.URI))

	record := committed.Msg
	if len(record) != RecordSize {
		return nil, fmt.Errorf("calendar: commitment length %d != RecordSize %d", len(record), RecordSize)
	}

	// The CalendarStore is only populated at burial (see
	// stamper/sync.go's processBlockHeight, via store.AddMany): the
	// Stamper's ingest() and the backup producer both treat store
	// presence as "buried in Bitcoin", so writing root here before it is
	// buried would make every commitment appear already stamped the
	// instant it is journaled and the Stamper would never pick it up.
	// The Pending proof is returned directly to the caller below and
	// surfaced to polling clients via Stamper.IsPending/the journal tail
	// scan, so nothing is lost by not storing it yet.
	if err := c.Journal.Submit(record); err != nil {
		return nil, err
	}
	logger.Debug("journaled commitment", "t", t, "record", fmt.Sprintf("%x", record))
	return root, nil
}

// Close releases the Journal and Store handles.
func (c *Calendar) Close() error {
	if err := c.Journal.Close(); err != nil {
		return err
	}
	if err := c.Reader.Close(); err != nil {
		return err
	}
	return c.Store.Close()
}

package stamper

import (
	"errors"
	"io/ioutil"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klaytn/ots-calendar/calendar/journal"
	"github.com/klaytn/ots-calendar/calendar/stamper/btcrpc"
	"github.com/klaytn/ots-calendar/calendar/store"
	calendarlog "github.com/klaytn/ots-calendar/log"
	"github.com/klaytn/ots-calendar/ots"
	"github.com/klaytn/ots-calendar/stamperrors"
)

var logger = calendarlog.NewModuleLogger(calendarlog.Stamper)

// Config carries the subset of calendar/config.Config the Stamper needs,
// kept narrow so it can be constructed directly by tests without pulling
// in the whole server configuration surface.
type Config struct {
	MinConfirmations uint64
	MaxPending       int
	MinTxInterval    time.Duration
	RelayFeerate     int64
	MaxFeeSatoshis   int64
}

// Stamper is the single background task driving commitments into Bitcoin.
type Stamper struct {
	cfg Config
	rpc *btcrpc.Client

	journal *journal.Journal
	store   *store.Store

	knownGoodPath string
	nextIdx       uint64

	pending *orderedSet

	knownBlocks []knownBlock

	unconfirmed []unconfirmedTx
	waiting     map[int64]confirmedTx
	cycle       *spendable

	nextTimestampTx time.Time

	mu     sync.Mutex // guards pending/waiting for IsPending reads
	quit   chan struct{}
	wg     sync.WaitGroup
	ticker time.Duration
}

// New constructs a Stamper. knownGoodPath is the file the stamper persists
// its journal cursor to after an ingest pass that leaves no commitment
// pending or awaiting burial, matching
// original_source/otsserver/stamper.py's journal.known-good file.
func New(cfg Config, rpc *btcrpc.Client, j *journal.Journal, st *store.Store, knownGoodPath string) *Stamper {
	return &Stamper{
		cfg:             cfg,
		rpc:             rpc,
		journal:         j,
		store:           st,
		knownGoodPath:   knownGoodPath,
		pending:         newOrderedSet(),
		waiting:         make(map[int64]confirmedTx),
		nextTimestampTx: time.Now(),
		quit:            make(chan struct{}),
		ticker:          time.Second,
	}
}

// Start launches the stamper's single background task.
func (s *Stamper) Start() {
	s.loadKnownGood()
	s.wg.Add(1)
	go s.loop()
}

// Stop signals the loop to exit and waits for it to drain.
func (s *Stamper) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Stamper) loadKnownGood() {
	data, err := ioutil.ReadFile(s.knownGoodPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read known-good checkpoint, starting from 0", "err", err)
		}
		return
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		logger.Warn("malformed known-good checkpoint, starting from 0", "err", err)
		return
	}
	s.nextIdx = n
}

func (s *Stamper) saveKnownGood() {
	tmp := s.knownGoodPath + ".tmp"
	if err := ioutil.WriteFile(tmp, []byte(strconv.FormatUint(s.nextIdx, 10)), 0644); err != nil {
		logger.Error("failed to persist known-good checkpoint", "err", err)
		return
	}
	if err := os.Rename(tmp, s.knownGoodPath); err != nil {
		logger.Error("failed to install known-good checkpoint", "err", err)
	}
}

func (s *Stamper) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		default:
		}

		s.ingest()
		if err := s.syncBitcoin(); err != nil {
			s.logBitcoinError(err)
			if stamperrors.IsClass(err, stamperrors.Fatal) {
				return
			}
		}

		select {
		case <-s.quit:
			return
		case <-time.After(s.ticker):
		}
	}
}

func (s *Stamper) logBitcoinError(err error) {
	if stamperrors.IsClass(err, stamperrors.Fatal) {
		logger.Crit("fatal stamper error", "err", err)
		return
	}
	logger.Error("bitcoin maintenance pass failed, will retry", "err", err)
}

// ingest pulls journal entries into pending
// until max_pending is reached or the journal runs dry.
func (s *Stamper) ingest() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.pending.Len() < s.cfg.MaxPending {
		record, err := s.journal.Get(s.nextIdx)
		if errors.Is(err, journal.ErrNotFound) {
			break
		}
		if err != nil {
			logger.Error("journal read failed", "idx", s.nextIdx, "err", err)
			break
		}

		found, err := s.store.Contains(record)
		if err != nil {
			logger.Error("calendar store lookup failed", "err", err)
			break
		}
		if !found {
			s.pending.Add(record)
		}
		s.nextIdx++
	}
	// Only checkpoint once nothing below nextIdx is still pending or
	// awaiting burial, so a restart from the checkpoint re-ingests every
	// journal entry that is not yet in the CalendarStore.
	if s.pending.Len() == 0 && len(s.waiting) == 0 {
		s.saveKnownGood()
	}
}

// IsPending reports whether commitment is still awaiting burial, matching
// original_source/otsserver/stamper.py's is_pending.
func (s *Stamper) IsPending(commitment []byte) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending.Contains(commitment) {
		return Status{Pending: true}
	}

	// A commitment can be durably journaled but not yet folded into
	// s.pending if ingest() stopped early (max_pending reached) before
	// reaching it. Scan the journal tail itself to cover that window,
	// matching stamper.py's is_pending forward scan from journal_cursor.
	for idx := s.nextIdx; ; idx++ {
		record, err := s.journal.Get(idx)
		if err != nil {
			break
		}
		if sameBytes(record, commitment) {
			return Status{Pending: true}
		}
	}

	for _, wait := range s.waiting {
		for _, ct := range wait.commitments {
			if sameBytes(ct.Msg, commitment) {
				return Status{Confirming: true}
			}
		}
	}

	for _, u := range s.unconfirmed {
		for _, ct := range u.commitments {
			if sameBytes(ct.Msg, commitment) {
				return Status{Confirming: true, TxID: u.txid}
			}
		}
	}
	return Status{}
}

// Tip returns the message of the current unconfirmed transaction's
// Merkle root: the current tip message of the latest unconfirmed tx.
// ok is false if there is none.
func (s *Stamper) Tip() (tip []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.unconfirmed) == 0 {
		return nil, false
	}
	last := s.unconfirmed[len(s.unconfirmed)-1]
	return append([]byte{}, last.tip.Msg...), true
}

func sameBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// randTxInterval desyncs repeated calendars by randomising the interval
// on each mined cycle.
func randTxInterval(base time.Duration) time.Duration {
	return time.Duration(float64(base) * (1 + rand.Float64()))
}

// pendingToMerkleTree builds per-commitment nodes for the given raw
// commitments, hashes each down to a tree leaf (commitments carry more
// entropy than a leaf needs), and reduces the leaves to a root. It returns
// the root alongside the *pre-hash* commitment nodes (matching
// stamper.py's __pending_to_merkle_tree): each one already has a SHA256
// edge toward its leaf, so walking a commitment node also reaches root.
func pendingToMerkleTree(commitments [][]byte) (root *ots.Timestamp, commitmentTimestamps []*ots.Timestamp) {
	commitmentTimestamps = make([]*ots.Timestamp, len(commitments))
	leaves := make([]*ots.Timestamp, len(commitments))
	for i, c := range commitments {
		ct := ots.New(c)
		commitmentTimestamps[i] = ct
		leaves[i] = ct.Add(ots.SHA256())
	}
	root = ots.MakeMerkleRoot(leaves)
	return root, commitmentTimestamps
}

// Package stamper implements the Stamper: the single
// background task driving commitments from "pending in the journal" to
// "attested by a buried Bitcoin block header", grounded on
// original_source/otsserver/stamper.py's Stamper class and re-expressed in
// the codebase's single-goroutine worker idiom (work/worker.go).
package stamper

import (
	"github.com/klaytn/ots-calendar/ots"
)

// unconfirmedTx is one RBF version of the stamper's single logical
// transaction: its raw signed bytes, the tip-root it commits to, and the
// pre-hash commitment nodes (each already wired with a SHA256 edge toward
// the tree leaf MakeMerkleRoot built the tip from) it covers.
type unconfirmedTx struct {
	txid        string
	raw         []byte
	tip         *ots.Timestamp // root of the Merkle tree over the covered prefix of pending
	commitments []*ots.Timestamp
	n           int
}

// confirmedTx is an unconfirmedTx whose txid has been seen inside a mined
// block, waiting to reach min_confirmations burial depth.
type confirmedTx struct {
	tip         *ots.Timestamp
	commitments []*ots.Timestamp
}

// knownBlock is one entry of the reorg-detection window.
type knownBlock struct {
	height int64
	hash   string
}

// spendable is the wallet outpoint funding the current RBF cycle: every
// replacement transaction of that cycle spends the same outpoint and pays
// back to the same change address, only the fee and OP_RETURN commitment
// change between attempts.
type spendable struct {
	txid         string
	vout         uint32
	changeValue  int64
	changeScript []byte
}

// orderedSet is an insertion-ordered set of pending commitment byte
// strings, matching the Python OrderedSet used by stamper.py's
// pending_commitments.
type orderedSet struct {
	order []string
	index map[string]int
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]int)}
}

func (s *orderedSet) Add(item []byte) {
	k := string(item)
	if _, ok := s.index[k]; ok {
		return
	}
	s.index[k] = len(s.order)
	s.order = append(s.order, k)
}

// AddFront inserts item at the head, preserving relative order among any
// other items added at the front in the same call — used when a reorg
// rolls commitments back into the pool (front preserves the property that
// older entries get into Bitcoin earlier).
func (s *orderedSet) AddFront(items [][]byte) {
	if len(items) == 0 {
		return
	}
	var fresh []string
	for _, item := range items {
		k := string(item)
		if _, ok := s.index[k]; ok {
			continue
		}
		fresh = append(fresh, k)
	}
	s.order = append(fresh, s.order...)
	s.reindex()
}

func (s *orderedSet) reindex() {
	s.index = make(map[string]int, len(s.order))
	for i, k := range s.order {
		s.index[k] = i
	}
}

func (s *orderedSet) Contains(item []byte) bool {
	_, ok := s.index[string(item)]
	return ok
}

func (s *orderedSet) Len() int { return len(s.order) }

// Prefix returns the first n items (as raw commitment bytes).
func (s *orderedSet) Prefix(n int) [][]byte {
	if n > len(s.order) {
		n = len(s.order)
	}
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = []byte(s.order[i])
	}
	return out
}

// RemovePrefix drops the first n items.
func (s *orderedSet) RemovePrefix(n int) {
	if n > len(s.order) {
		n = len(s.order)
	}
	s.order = s.order[n:]
	s.reindex()
}

// Status is the pending/confirmation status surfaced by IsPending.
type Status struct {
	Pending    bool
	Confirming bool
	TxID       string
}

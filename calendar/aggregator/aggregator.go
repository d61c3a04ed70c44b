// Package aggregator implements the Aggregator: a single
// background task that collapses concurrent Submit calls into one Merkle
// root per commitment_interval and hands the root to a Calendar.
//
// Grounded on work/worker.go's single-goroutine-owns-a-channel shape
// (newWorker's update/wait loop, result channel, mutex-guarded accumulator)
// re-expressed around a ticker instead of a blockchain event feed.
package aggregator

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	calendarlog "github.com/klaytn/ots-calendar/log"
	"github.com/klaytn/ots-calendar/ots"
)

var logger = calendarlog.NewModuleLogger(calendarlog.Aggregator)

// intervalsCommitted mirrors work/worker.go's package-level
// metrics.NewRegisteredCounter vars.
var intervalsCommitted = metrics.NewRegisteredCounter("calendar/aggregator/intervals", nil)

// nonceSize is the width of the per-submission random nonce appended
// before hashing.
const nonceSize = 16

// submission is one queued Submit call: the Timestamp rooted at the
// caller's own message, the nonced leaf derived beneath it that actually
// enters the Merkle tree, and the channel the caller blocks on until the
// interval commits.
type submission struct {
	msg  *ots.Timestamp
	leaf *ots.Timestamp
	done chan struct{}
}

// Calendar is the subset of calendar.Calendar the Aggregator drives.
type Calendar interface {
	Submit(root *ots.Timestamp) (*ots.Timestamp, error)
}

// Aggregator runs the single background batching task.
type Aggregator struct {
	cal      Calendar
	interval time.Duration

	mu    sync.Mutex
	queue []*submission

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Aggregator bound to cal, ticking every interval.
func New(cal Calendar, interval time.Duration) *Aggregator {
	return &Aggregator{
		cal:      cal,
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Start launches the aggregator's single background task.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop signals the loop to exit and waits for it to drain.
func (a *Aggregator) Stop() {
	close(a.quit)
	a.wg.Wait()
}

// Submit wraps message into a nonced leaf (Append(nonce), SHA256) and
// blocks until the interval this submission lands in has committed,
// returning the Timestamp rooted at the caller's own message — carrying
// the Append/SHA256 edges down to the leaf and a Pending attestation
// somewhere above it — so the caller can walk from the digest it submitted
// to the attestation.
func (a *Aggregator) Submit(message []byte) (*ots.Timestamp, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	m := ots.New(message)
	leaf := m.Add(ots.Append(nonce)).Add(ots.SHA256())

	s := &submission{msg: m, leaf: leaf, done: make(chan struct{})}
	a.mu.Lock()
	a.queue = append(a.queue, s)
	a.mu.Unlock()

	<-s.done
	return m, nil
}

// loop is the aggregator's single task: wait commitment_interval, drain the
// queue in FIFO order, build a Merkle tree, submit to Calendar, and release
// every submitter in the batch.
func (a *Aggregator) loop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			return
		case <-ticker.C:
			a.commit()
		}
	}
}

func (a *Aggregator) commit() {
	a.mu.Lock()
	batch := a.queue
	a.queue = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	leaves := make([]*ots.Timestamp, len(batch))
	for i, s := range batch {
		leaves[i] = s.leaf
	}

	root := ots.MakeMerkleRoot(leaves)

	if _, err := a.cal.Submit(root); err != nil {
		logger.Error("calendar submit failed, batch will be resubmitted on next interval", "err", err, "size", len(batch))
		a.mu.Lock()
		a.queue = append(batch, a.queue...)
		a.mu.Unlock()
		return
	}

	for _, s := range batch {
		close(s.done)
	}
	intervalsCommitted.Inc(1)
	logger.Debug("committed interval", "size", len(batch))
}

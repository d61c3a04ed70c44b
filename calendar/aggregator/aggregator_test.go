package aggregator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klaytn/ots-calendar/ots"
)

type fakeCalendar struct {
	mu    sync.Mutex
	roots []*ots.Timestamp
	fail  bool
}

func (f *fakeCalendar) Submit(root *ots.Timestamp) (*ots.Timestamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		f.fail = false
		return nil, errors.New("calendar unavailable")
	}
	root.AddAttestation(ots.PendingAttestation("https://calendar.example"))
	f.roots = append(f.roots, root)
	return root, nil
}

func TestSubmitBatchesWithinOneInterval(t *testing.T) {
	cal := &fakeCalendar{}
	a := New(cal, 20*time.Millisecond)
	a.Start()
	defer a.Stop()

	n := 8
	var wg sync.WaitGroup
	results := make([]*ots.Timestamp, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts, err := a.Submit([]byte{byte(i)})
			require.NoError(t, err)
			results[i] = ts
		}(i)
	}
	wg.Wait()

	for _, ts := range results {
		require.True(t, ts.HasAttestation(ots.TagPending), "every submitter must observe the Pending attestation")
	}
}

func TestSubmitWrapsMessageInNoncedLeaf(t *testing.T) {
	cal := &fakeCalendar{}
	a := New(cal, 10*time.Millisecond)
	a.Start()
	defer a.Stop()

	msg := []byte("client digest..................")
	ts, err := a.Submit(msg)
	require.NoError(t, err)
	require.Equal(t, msg, ts.Msg, "the returned timestamp is rooted at the caller's own message")
	require.Len(t, ts.Ops, 1)
	require.Equal(t, ots.TagAppend, ts.Ops[0].Op.Tag)
	leaf := ts.Ops[0].Child.Child(ots.SHA256())
	require.NotNil(t, leaf)
	require.NotEqual(t, msg, leaf.Msg, "leaf message must differ from the raw submission after nonce+hash")
}

func TestFailedSubmitIsRetriedNextInterval(t *testing.T) {
	cal := &fakeCalendar{fail: true}
	a := New(cal, 10*time.Millisecond)
	a.Start()
	defer a.Stop()

	ts, err := a.Submit([]byte("retry me"))
	require.NoError(t, err)
	require.True(t, ts.HasAttestation(ots.TagPending))

	cal.mu.Lock()
	defer cal.mu.Unlock()
	require.Len(t, cal.roots, 1, "the batch should land on the interval after the failed one")
}

func TestEmptyIntervalIsANoop(t *testing.T) {
	cal := &fakeCalendar{}
	a := New(cal, 5*time.Millisecond)
	a.Start()
	time.Sleep(30 * time.Millisecond)
	a.Stop()

	require.Empty(t, cal.roots)
}

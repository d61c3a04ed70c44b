package stamper

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/ots-calendar/calendar/journal"
	"github.com/klaytn/ots-calendar/calendar/stamper/btcrpc"
	"github.com/klaytn/ots-calendar/calendar/store"
	"github.com/klaytn/ots-calendar/ots"
)

func TestOrderedSetAddFrontPreservesRelativeOrder(t *testing.T) {
	s := newOrderedSet()
	s.Add([]byte("c"))
	s.AddFront([][]byte{[]byte("a"), []byte("b"), []byte("c")}) // c already present, dropped
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, s.Prefix(3))
}

func TestOrderedSetRemovePrefix(t *testing.T) {
	s := newOrderedSet()
	s.Add([]byte("a"))
	s.Add([]byte("b"))
	s.Add([]byte("c"))
	s.RemovePrefix(2)
	require.Equal(t, 1, s.Len())
	require.True(t, s.Contains([]byte("c")))
	require.False(t, s.Contains([]byte("a")))
}

func TestPendingToMerkleTreeSingleCommitmentPassesThrough(t *testing.T) {
	commitment := bytes.Repeat([]byte{0x42}, 32)
	root, commitments := pendingToMerkleTree([][]byte{commitment})
	require.Len(t, commitments, 1)
	leaf := commitments[0].Child(ots.SHA256())
	require.NotNil(t, leaf)
	require.Equal(t, leaf.Msg, root.Msg)
}

func TestPendingToMerkleTreeMultipleCommitmentsWireIntoRoot(t *testing.T) {
	var raws [][]byte
	for i := 0; i < 3; i++ {
		raws = append(raws, bytes.Repeat([]byte{byte(i + 1)}, 32))
	}
	root, commitments := pendingToMerkleTree(raws)
	require.Len(t, commitments, 3)
	for _, ct := range commitments {
		require.NotEqual(t, ct.Msg, root.Msg, "a raw commitment should never equal the tree root directly")
		leaf := ct.Child(ots.SHA256())
		require.NotNil(t, leaf, "every commitment must have a SHA256 edge toward its leaf")
	}
}

// fakeBitcoind is a minimal bitcoind JSON-RPC stand-in driving the Stamper
// through one full ingest -> emit -> confirm -> bury cycle plus a reorg.
type fakeBitcoind struct {
	mu      sync.Mutex
	blocks  []fakeBlock // index == height
	mempool map[string][]byte
}

type fakeBlock struct {
	hash string
	tx   []string
}

var fakePrevTxid = strings.Repeat("11", 32)

func newFakeBitcoind() *fakeBitcoind {
	return &fakeBitcoind{
		blocks:  []fakeBlock{{hash: "genesis"}},
		mempool: make(map[string][]byte),
	}
}

type rpcIn struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (f *fakeBitcoind) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var in rpcIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var params []interface{}
	_ = json.Unmarshal(in.Params, &params)

	result, rpcErr := f.dispatch(in.Method, params)

	resp := map[string]interface{}{"id": in.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeBitcoind) dispatch(method string, params []interface{}) (interface{}, map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch method {
	case "getblockcount":
		return len(f.blocks) - 1, nil

	case "getblockhash":
		height := int(params[0].(float64))
		if height < 0 || height >= len(f.blocks) {
			return nil, map[string]interface{}{"code": -8, "message": "height out of range"}
		}
		return f.blocks[height].hash, nil

	case "getblock":
		hash := params[0].(string)
		for h, b := range f.blocks {
			if b.hash == hash {
				return map[string]interface{}{"hash": b.hash, "height": h, "tx": b.tx}, nil
			}
		}
		return nil, map[string]interface{}{"code": -5, "message": "block not found"}

	case "listunspent":
		return []btcrpc.Unspent{{
			TxID: fakePrevTxid, Vout: 0, Address: "bc1qfake",
			ScriptPubKey: "0014" + strings.Repeat("00", 20),
			Amount:       1.0, Confirmations: 10, Solvable: true,
		}}, nil

	case "getnewaddress":
		return "bc1qchange", nil

	case "getaddressinfo":
		return map[string]interface{}{"scriptPubKey": "0014" + strings.Repeat("00", 20)}, nil

	case "signrawtransactionwithwallet":
		return map[string]interface{}{"hex": params[0].(string), "complete": true}, nil

	case "sendrawtransaction":
		raw, err := hex.DecodeString(params[0].(string))
		if err != nil {
			return nil, map[string]interface{}{"code": -22, "message": "bad hex"}
		}
		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, map[string]interface{}{"code": -22, "message": "bad tx"}
		}
		txid := tx.TxHash().String()
		f.mempool[txid] = raw
		return txid, nil

	default:
		return nil, map[string]interface{}{"code": -32601, "message": "method not found: " + method}
	}
}

func (f *fakeBitcoind) mineBlock(txids ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := "block" + strconv.Itoa(len(f.blocks))
	f.blocks = append(f.blocks, fakeBlock{hash: hash, tx: txids})
	return hash
}

func (f *fakeBitcoind) rawOf(txid string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mempool[txid]
}

func newTestStamper(t *testing.T, node *fakeBitcoind, record []byte) (*Stamper, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	jPath := filepath.Join(dir, "journal")
	jw, err := journal.OpenWriter(jPath)
	require.NoError(t, err)
	require.NoError(t, jw.Submit(record))
	require.NoError(t, jw.Close())

	jr, err := journal.Open(jPath)
	require.NoError(t, err)
	t.Cleanup(func() { jr.Close() })

	st, err := store.OpenLevelDB(filepath.Join(dir, "calstore"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	rpc := btcrpc.New(host, "user", "pass", 5*time.Second)

	cfg := Config{
		MinConfirmations: 2,
		MaxPending:       100,
		MinTxInterval:    time.Millisecond,
		RelayFeerate:     1,
		MaxFeeSatoshis:   1_000_000,
	}
	s := New(cfg, rpc, jr, st, filepath.Join(dir, "journal.known-good"))
	return s, st
}

func TestStamperIngestEmitConfirmBury(t *testing.T) {
	node := newFakeBitcoind()
	commitment := bytes.Repeat([]byte{0xAB}, 44)
	s, st := newTestStamper(t, node, commitment)

	s.ingest()
	require.Equal(t, 1, s.pending.Len())

	require.NoError(t, s.emit())
	require.Len(t, s.unconfirmed, 1)
	sentTxid := s.unconfirmed[0].txid
	require.NotEmpty(t, node.rawOf(sentTxid))

	status := s.IsPending(commitment)
	require.True(t, status.Pending)

	node.mineBlock(sentTxid)
	require.NoError(t, s.syncBitcoin())
	require.Equal(t, 0, s.pending.Len())
	require.Len(t, s.unconfirmed, 0)
	require.Len(t, s.waiting, 1)

	status = s.IsPending(commitment)
	require.True(t, status.Confirming)

	found, err := st.Contains(commitment)
	require.NoError(t, err)
	require.False(t, found, "must not be buried before reaching min_confirmations")

	node.mineBlock() // one more block buries it (min_confirmations=2)
	require.NoError(t, s.syncBitcoin())
	require.Len(t, s.waiting, 0)

	found, err = st.Contains(commitment)
	require.NoError(t, err)
	require.True(t, found, "commitment must be buried into the calendar store")

	status = s.IsPending(commitment)
	require.False(t, status.Pending)
	require.False(t, status.Confirming)
}

func TestStamperReorgReturnsCommitmentToPending(t *testing.T) {
	node := newFakeBitcoind()
	commitment := bytes.Repeat([]byte{0xCD}, 44)
	s, _ := newTestStamper(t, node, commitment)

	s.ingest()
	require.NoError(t, s.emit())
	sentTxid := s.unconfirmed[0].txid

	minedHash := node.mineBlock(sentTxid)
	require.NoError(t, s.syncBitcoin())
	require.Len(t, s.waiting, 1)

	// Simulate a reorg: the block at the mined height is replaced by one
	// that does not contain our transaction.
	node.mu.Lock()
	minedHeight := -1
	for h, b := range node.blocks {
		if b.hash == minedHash {
			minedHeight = h
		}
	}
	require.NotEqual(t, -1, minedHeight)
	node.blocks[minedHeight] = fakeBlock{hash: minedHash + "-reorged"}
	node.mu.Unlock()

	require.NoError(t, s.syncBitcoin())
	require.Equal(t, 1, s.pending.Len(), "reorged commitment must return to pending")
	require.Len(t, s.waiting, 0)

	status := s.IsPending(commitment)
	require.True(t, status.Pending)
}

package stamper

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/wire"

	"github.com/klaytn/ots-calendar/calendar/stamper/btcrpc"
	"github.com/klaytn/ots-calendar/ots"
)

// reverseHex decodes a bitcoind display-order (byte-reversed) hex txid into
// its internal byte order, matching chainhash.Hash / wire.MsgTx.TxHash().
func reverseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b, nil
}

// makeBTCBlockMerkleTree reduces a list of per-txid leaves with Bitcoin's
// own rule (odd level duplicates the last element, reduction is SHA256d),
// matching original_source/otsserver/stamper.py's make_btc_block_merkle_tree.
// Every leaf is mutated in place the same way
// ots.MakeMerkleRoot mutates Aggregator leaves, except each pairwise step
// applies SHA256 twice (SHA256d) instead of once.
func makeBTCBlockMerkleTree(leaves []*ots.Timestamp) *ots.Timestamp {
	type group []*ots.Timestamp
	level := make([]group, len(leaves))
	for i, l := range leaves {
		level[i] = group{l}
	}
	sameGroup := func(a, b group) bool { return len(a) > 0 && len(b) > 0 && &a[0] == &b[0] }

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]group, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			left, right := level[i], level[i+1]
			leftMsg, rightMsg := left[0].Msg, right[0].Msg

			half := left[0].Add(ots.Append(rightMsg)).Add(ots.SHA256())
			if !sameGroup(left, right) {
				cat := right[0].Add(ots.Prepend(leftMsg))
				if cat.Child(ots.SHA256()) == nil {
					cat.Ops = append(cat.Ops, ots.OpEdge{Op: ots.SHA256(), Child: half})
				}
			}
			next = append(next, group{half.Add(ots.SHA256())})
		}
		level = next
	}
	return level[0][0]
}

// buildBlockProof reconstructs the block-inclusion proof for one
// confirmed transaction and attaches it directly onto tip (the live node
// reachable from every commitment in commitments): it locates tip's
// message inside the tx's own serialisation, derives Prepend/Append
// operations from the txid, then reduces the block's txid list up to the
// merkle root, attaching a BitcoinBlockHeader attestation there. Matches
// original_source/otsserver/stamper.py's make_timestamp_from_block_tx,
// adapted to ots.Timestamp's mutate-in-place op graph instead of Python's
// mergeable Timestamp dict.
func buildBlockProof(tip *ots.Timestamp, block *btcrpc.Block, rawTx []byte, height int64) error {
	digest := tip.Msg

	idx := bytes.Index(rawTx, digest)
	if idx < 0 {
		return errors.New("stamper: tip digest not found inside own transaction bytes")
	}
	prefix := append([]byte{}, rawTx[:idx]...)
	suffix := append([]byte{}, rawTx[idx+len(digest):]...)

	txidTimestamp := tip.
		Add(ots.Prepend(prefix)).
		Add(ots.Append(suffix)).
		Add(ots.SHA256()).
		Add(ots.SHA256())

	msgTx := wire.NewMsgTx(wire.TxVersion)
	if err := msgTx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return err
	}
	txid := msgTx.TxHash()
	if !bytes.Equal(txid[:], txidTimestamp.Msg) {
		return errors.New("stamper: reconstructed txid does not match the transaction's actual txid")
	}

	leaves := make([]*ots.Timestamp, 0, len(block.Tx))
	found := false
	for _, otherTxidHex := range block.Tx {
		otherTxid, err := reverseHex(otherTxidHex)
		if err != nil {
			return err
		}
		if bytes.Equal(otherTxid, txid[:]) && !found {
			leaves = append(leaves, txidTimestamp)
			found = true
			continue
		}
		leaves = append(leaves, ots.New(otherTxid))
	}
	if !found {
		return errors.New("stamper: our txid is not present in the block's txid list")
	}

	merkleRoot := makeBTCBlockMerkleTree(leaves)
	merkleRoot.AddAttestation(ots.BitcoinBlockHeaderAttestation(uint64(height)))

	return nil
}

package ots

import "crypto/sha256"

// tsGroup holds the Timestamp node that represents one logical message at a
// given reduction level. MakeMerkleRoot keeps exactly one node per group:
// both sides of a pair hash into the same parent node, so every operation
// later attached to that parent is reachable from every leaf below it.
type tsGroup []*Timestamp

func sameGroup(a, b tsGroup) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

// MakeMerkleRoot builds a Merkle tree over leaves using the Satoshi rule:
// an odd node at any level is duplicated rather than reversed-and-paired
// (decided in favor of Bitcoin's own rule so the
// Stamper can reuse one reduction rule for both the Aggregator's tree and
// its block-inclusion proof reconstruction).
//
// Every leaf Timestamp is mutated in place: MakeMerkleRoot attaches the
// Append/Prepend + SHA256 operations needed to walk from that leaf to the
// root, so that after this call each leaf.Walk() reaches the returned root
// node. leaves must be non-empty.
func MakeMerkleRoot(leaves []*Timestamp) *Timestamp {
	if len(leaves) == 0 {
		return nil
	}
	level := make([]tsGroup, len(leaves))
	for i, l := range leaves {
		level[i] = tsGroup{l}
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]tsGroup, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			left, right := level[i], level[i+1]
			leftMsg, rightMsg := left[0].Msg, right[0].Msg

			parent := left[0].Add(Append(rightMsg)).Add(SHA256())
			if !sameGroup(left, right) {
				cat := right[0].Add(Prepend(leftMsg))
				if cat.Child(SHA256()) == nil {
					cat.Ops = append(cat.Ops, OpEdge{Op: SHA256(), Child: parent})
				}
			}
			next = append(next, tsGroup{parent})
		}
		level = next
	}
	return level[0][0]
}

// MakeMerkleTree is MakeMerkleRoot for callers that only need the root
// message bytes, not the node itself.
func MakeMerkleTree(leaves []*Timestamp) []byte {
	root := MakeMerkleRoot(leaves)
	if root == nil {
		return nil
	}
	return root.Msg
}

func pairHash(left, right []byte) []byte {
	buf := make([]byte, 0, len(left)+len(right))
	buf = append(buf, left...)
	buf = append(buf, right...)
	h := sha256.Sum256(buf)
	return h[:]
}

// MerkleRootOfHashes reduces a flat list of leaf hashes to a root hash
// using the same Satoshi duplicate-last-leaf rule, without building a
// Timestamp tree. Used by tests asserting the Merkle round-trip property.
func MerkleRootOfHashes(hashes [][]byte) []byte {
	if len(hashes) == 0 {
		return nil
	}
	level := append([][]byte{}, hashes...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, pairHash(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

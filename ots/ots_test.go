package ots

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpApply(t *testing.T) {
	msg := []byte("hello")
	require.Equal(t, []byte("Xhello"), Prepend([]byte("X")).Apply(msg))
	require.Equal(t, []byte("helloX"), Append([]byte("X")).Apply(msg))

	h := sha256.Sum256(msg)
	require.Equal(t, h[:], SHA256().Apply(msg))
}

func TestTimestampAddIsWriteOncePerEdge(t *testing.T) {
	root := New([]byte("msg"))
	c1 := root.Add(SHA256())
	c2 := root.Add(SHA256())
	require.Same(t, c1, c2, "same op must return the same child edge")
	require.Len(t, root.Ops, 1)
}

func TestAttestationUnion(t *testing.T) {
	ts := New([]byte("msg"))
	ts.AddAttestation(PendingAttestation("https://a.example"))
	ts.AddAttestation(PendingAttestation("https://a.example"))
	ts.AddAttestation(BitcoinBlockHeaderAttestation(100))
	require.Len(t, ts.Attestations, 2)
}

func TestNodeCodecRoundTrip(t *testing.T) {
	msg := bytes.Repeat([]byte{0xAB}, 32)
	ts := New(msg)
	ts.AddAttestation(PendingAttestation("https://cal.example"))
	child := ts.Add(Append([]byte{1, 2, 3}))
	child.Add(SHA256())

	data := SerializeNode(ts)
	got, ops, err := DeserializeNode(msg, data)
	require.NoError(t, err)
	require.Len(t, got.Attestations, 1)
	require.Equal(t, "Pending{https://cal.example}", got.Attestations[0].String())
	require.Len(t, ops, 1)
	require.True(t, ops[0].Equal(Append([]byte{1, 2, 3})))
}

// TestMerkleRoundTrip checks the Merkle round-trip property: for
// every batch of submissions, each leaf's Timestamp, fully reduced through
// its own operations, yields the same root message as MakeMerkleTree.
func TestMerkleRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 9, 17, 1000} {
		leaves := make([]*Timestamp, n)
		hashes := make([][]byte, n)
		for i := range leaves {
			msg := sha256.Sum256([]byte{byte(i), byte(i >> 8)})
			leaves[i] = New(msg[:])
			hashes[i] = msg[:]
		}
		root := MakeMerkleTree(leaves)
		require.Equal(t, root, MerkleRootOfHashes(hashes), "n=%d", n)

		for i, leaf := range leaves {
			var final *Timestamp
			leaf.Walk(func(ts *Timestamp) { final = ts })
			require.Equal(t, root, final.Msg, "leaf %d did not reduce to the root", i)
		}
	}
}

func TestMerkleTreeEmpty(t *testing.T) {
	require.Nil(t, MakeMerkleTree(nil))
	require.Nil(t, MerkleRootOfHashes(nil))
}

// Package ots implements the OpenTimestamps message model: operations,
// attestations, and the timestamp tree they form, plus the wire codec and
// Merkle-tree construction the calendar core builds on. Wire tag bytes
// match the real OpenTimestamps protocol.
package ots

import (
	"bytes"
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"
)

// OpTag identifies an Operation's wire type.
type OpTag byte

const (
	TagAppend    OpTag = 0xf0
	TagPrepend   OpTag = 0xf1
	TagSHA256    OpTag = 0x08
	TagRIPEMD160 OpTag = 0x07
)

// Op is a deterministic, unary, byte-level transformation of a message.
// It is a closed tagged variant: Prepend/Append carry an argument, SHA256
// and Ripemd160 do not.
type Op struct {
	Tag OpTag
	Arg []byte // only meaningful for Prepend/Append
}

// Prepend returns the Op that prepends b to its input.
func Prepend(b []byte) Op { return Op{Tag: TagPrepend, Arg: append([]byte{}, b...)} }

// Append returns the Op that appends b to its input.
func Append(b []byte) Op { return Op{Tag: TagAppend, Arg: append([]byte{}, b...)} }

// SHA256 returns the Op that replaces its input with its SHA-256 digest.
func SHA256() Op { return Op{Tag: TagSHA256} }

// Ripemd160 returns the Op that replaces its input with its RIPEMD-160 digest.
func Ripemd160() Op { return Op{Tag: TagRIPEMD160} }

// Apply executes the operation against msg, producing the child message.
func (o Op) Apply(msg []byte) []byte {
	switch o.Tag {
	case TagPrepend:
		out := make([]byte, 0, len(o.Arg)+len(msg))
		out = append(out, o.Arg...)
		out = append(out, msg...)
		return out
	case TagAppend:
		out := make([]byte, 0, len(msg)+len(o.Arg))
		out = append(out, msg...)
		out = append(out, o.Arg...)
		return out
	case TagSHA256:
		h := sha256.Sum256(msg)
		return h[:]
	case TagRIPEMD160:
		h := ripemd160.New()
		h.Write(msg)
		return h.Sum(nil)
	default:
		panic("ots: unknown op tag")
	}
}

// Equal reports whether two ops are identical (same tag, same argument).
func (o Op) Equal(other Op) bool {
	return o.Tag == other.Tag && bytes.Equal(o.Arg, other.Arg)
}

// key returns a value suitable for use as a map key, since Op itself holds
// a slice and can't be compared with ==.
func (o Op) key() string {
	return string(o.Tag) + string(o.Arg)
}

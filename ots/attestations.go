package ots

import "fmt"

// AttestationTag identifies an Attestation's wire type.
type AttestationTag byte

const (
	TagPending           AttestationTag = 0x83
	TagBitcoinBlockHeader AttestationTag = 0x05
	TagUnknown           AttestationTag = 0x84
)

// Attestation is a claim about a message: that a calendar has it pending,
// that a Bitcoin block header commits to it, or an opaque forward-
// compatible claim this implementation doesn't understand.
type Attestation struct {
	Tag     AttestationTag
	URI     string // Pending
	Height  uint64 // BitcoinBlockHeader
	UnkTag  []byte // Unknown
	Payload []byte // Unknown
}

// PendingAttestation builds a Pending{uri} attestation.
func PendingAttestation(uri string) Attestation {
	return Attestation{Tag: TagPending, URI: uri}
}

// BitcoinBlockHeaderAttestation builds a BitcoinBlockHeader{height} attestation.
func BitcoinBlockHeaderAttestation(height uint64) Attestation {
	return Attestation{Tag: TagBitcoinBlockHeader, Height: height}
}

// Key returns a value that uniquely identifies this attestation within a
// set, used for deduplicating union-only attestation sets.
func (a Attestation) Key() string {
	switch a.Tag {
	case TagPending:
		return fmt.Sprintf("pending:%s", a.URI)
	case TagBitcoinBlockHeader:
		return fmt.Sprintf("btc:%d", a.Height)
	default:
		return fmt.Sprintf("unk:%x:%x", a.UnkTag, a.Payload)
	}
}

func (a Attestation) String() string {
	switch a.Tag {
	case TagPending:
		return fmt.Sprintf("Pending{%s}", a.URI)
	case TagBitcoinBlockHeader:
		return fmt.Sprintf("BitcoinBlockHeader{height=%d}", a.Height)
	default:
		return fmt.Sprintf("Unknown{tag=%x}", a.UnkTag)
	}
}

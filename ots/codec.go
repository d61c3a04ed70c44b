package ots

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer accumulates a serialised Timestamp node. It is the "given" wire
// codec the HTTP and storage layers both treat as an external boundary;
// this is a from-scratch implementation of that boundary.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteVaruint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteVaruint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteByte(b byte) { w.buf = append(w.buf, b) }

// WriteOp serialises a single Op: tag byte, then argument bytes for
// Prepend/Append.
func (w *Writer) WriteOp(op Op) {
	w.WriteByte(byte(op.Tag))
	switch op.Tag {
	case TagPrepend, TagAppend:
		w.WriteBytes(op.Arg)
	}
}

// WriteAttestation serialises a single Attestation.
func (w *Writer) WriteAttestation(a Attestation) {
	w.WriteByte(byte(a.Tag))
	switch a.Tag {
	case TagPending:
		w.WriteBytes([]byte(a.URI))
	case TagBitcoinBlockHeader:
		w.WriteVaruint(a.Height)
	default:
		w.WriteBytes(a.UnkTag)
		w.WriteBytes(a.Payload)
	}
}

// SerializeNode writes msg's local attestations and outgoing-op edges
// (operation only, not recursing into children) — the non-recursive
// per-key record CalendarStore persists.
func SerializeNode(t *Timestamp) []byte {
	w := NewWriter()
	w.WriteVaruint(uint64(len(t.Attestations)))
	for _, a := range t.Attestations {
		w.WriteAttestation(a)
	}
	w.WriteVaruint(uint64(len(t.Ops)))
	for _, e := range t.Ops {
		w.WriteOp(e.Op)
	}
	return w.Bytes()
}

// Reader parses a serialised Timestamp node.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) ReadVaruint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.pos += n
	return v, nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadVaruint()
	if err != nil {
		return nil, err
	}
	if uint64(r.pos)+n > uint64(len(r.buf)) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return append([]byte{}, out...), nil
}

func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadOp() (Op, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Op{}, err
	}
	op := Op{Tag: OpTag(tag)}
	switch op.Tag {
	case TagPrepend, TagAppend:
		arg, err := r.ReadBytes()
		if err != nil {
			return Op{}, err
		}
		op.Arg = arg
	case TagSHA256, TagRIPEMD160:
	default:
		return Op{}, fmt.Errorf("ots: unknown op tag %#x", tag)
	}
	return op, nil
}

func (r *Reader) ReadAttestation() (Attestation, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return Attestation{}, err
	}
	a := Attestation{Tag: AttestationTag(tag)}
	switch a.Tag {
	case TagPending:
		uri, err := r.ReadBytes()
		if err != nil {
			return Attestation{}, err
		}
		a.URI = string(uri)
	case TagBitcoinBlockHeader:
		h, err := r.ReadVaruint()
		if err != nil {
			return Attestation{}, err
		}
		a.Height = h
	default:
		a.Tag = TagUnknown
		unkTag, err := r.ReadBytes()
		if err != nil {
			return Attestation{}, err
		}
		payload, err := r.ReadBytes()
		if err != nil {
			return Attestation{}, err
		}
		a.UnkTag = unkTag
		a.Payload = payload
	}
	return a, nil
}

// SerializeTree writes t and every descendant it can reach, recursively:
// the same per-node shape as SerializeNode, but each op is immediately
// followed by its child's full serialisation instead of being left
// unresolved. This is the wire format handed to HTTP clients: a
// serialised Timestamp rooted at the client's digest, distinct from
// CalendarStore's flat, non-recursive per-key record.
func SerializeTree(t *Timestamp) []byte {
	w := NewWriter()
	writeTree(w, t)
	return w.Bytes()
}

func writeTree(w *Writer, t *Timestamp) {
	w.WriteVaruint(uint64(len(t.Attestations)))
	for _, a := range t.Attestations {
		w.WriteAttestation(a)
	}
	w.WriteVaruint(uint64(len(t.Ops)))
	for _, e := range t.Ops {
		w.WriteOp(e.Op)
		writeTree(w, e.Child)
	}
}

// DeserializeTree parses the output of SerializeTree back into a full
// Timestamp tree rooted at msg.
func DeserializeTree(msg, data []byte) (*Timestamp, error) {
	r := NewReader(data)
	t, err := readTree(r, msg)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func readTree(r *Reader, msg []byte) (*Timestamp, error) {
	t := New(msg)

	n, err := r.ReadVaruint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		a, err := r.ReadAttestation()
		if err != nil {
			return nil, err
		}
		t.AddAttestation(a)
	}

	m, err := r.ReadVaruint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < m; i++ {
		op, err := r.ReadOp()
		if err != nil {
			return nil, err
		}
		childMsg := op.Apply(msg)
		child, err := readTree(r, childMsg)
		if err != nil {
			return nil, err
		}
		t.Ops = append(t.Ops, OpEdge{Op: op, Child: child})
	}
	return t, nil
}

// DeserializeNode parses a non-recursive node record into attestations and
// bare (unresolved) op edges; the caller (CalendarStore) resolves each
// edge's child by looking up the derived message.
func DeserializeNode(msg, data []byte) (*Timestamp, []Op, error) {
	r := NewReader(data)
	t := New(msg)

	n, err := r.ReadVaruint()
	if err != nil {
		return nil, nil, err
	}
	for i := uint64(0); i < n; i++ {
		a, err := r.ReadAttestation()
		if err != nil {
			return nil, nil, err
		}
		t.AddAttestation(a)
	}

	m, err := r.ReadVaruint()
	if err != nil {
		return nil, nil, err
	}
	ops := make([]Op, 0, m)
	for i := uint64(0); i < m; i++ {
		op, err := r.ReadOp()
		if err != nil {
			return nil, nil, err
		}
		ops = append(ops, op)
	}
	return t, ops, nil
}

package ots

// Timestamp is a node in the DAG toward Bitcoin: a message, the set of
// attestations made on it, and the outgoing operations that transform it
// into further messages (each mapping to a child Timestamp).
//
// The in-memory graph has no parent pointers and no cycles (REDESIGN FLAG:
// "cyclic parent/child references inside the timestamp graph"). Merkle
// construction lets the two sides of a pair share one parent node, so a
// node built there can have more than one parent; a tree read back by
// CalendarStore.Get resolves each child by lookup and shares no nodes.
type Timestamp struct {
	Msg          []byte
	Attestations []Attestation
	Ops          []OpEdge
}

// OpEdge is one outgoing edge: applying Op to the parent's message yields
// Child.Msg.
type OpEdge struct {
	Op    Op
	Child *Timestamp
}

// New returns an empty Timestamp rooted at msg.
func New(msg []byte) *Timestamp {
	return &Timestamp{Msg: append([]byte{}, msg...)}
}

// AddAttestation unions a into the attestation set, deduplicating by key.
func (t *Timestamp) AddAttestation(a Attestation) {
	for _, existing := range t.Attestations {
		if existing.Key() == a.Key() {
			return
		}
	}
	t.Attestations = append(t.Attestations, a)
}

// Add applies op to t's message (if the edge doesn't already exist) and
// returns the child Timestamp, creating and attaching one if necessary.
// This is write-once-per-edge: an op is never replaced once attached.
func (t *Timestamp) Add(op Op) *Timestamp {
	for _, e := range t.Ops {
		if e.Op.Equal(op) {
			return e.Child
		}
	}
	child := New(op.Apply(t.Msg))
	t.Ops = append(t.Ops, OpEdge{Op: op, Child: child})
	return child
}

// Child returns the existing child reached via op, or nil.
func (t *Timestamp) Child(op Op) *Timestamp {
	for _, e := range t.Ops {
		if e.Op.Equal(op) {
			return e.Child
		}
	}
	return nil
}

// Walk calls visit on t and on every Timestamp node reachable from it,
// depth-first, used by the backup producer to flatten a tree into records.
func (t *Timestamp) Walk(visit func(*Timestamp)) {
	visit(t)
	for _, e := range t.Ops {
		e.Child.Walk(visit)
	}
}

// HasAttestation reports whether t, or any node reachable from it, carries
// an attestation with the given tag.
func (t *Timestamp) HasAttestation(tag AttestationTag) bool {
	for _, a := range t.Attestations {
		if a.Tag == tag {
			return true
		}
	}
	for _, e := range t.Ops {
		if e.Child != nil && e.Child.HasAttestation(tag) {
			return true
		}
	}
	return false
}

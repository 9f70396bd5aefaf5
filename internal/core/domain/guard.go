package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

// Assignment moves the asset spent at InputIndex of the send tx to the output
// at OutputIndex. A nil DestinationScript burns the asset and reserves no slot.
type Assignment struct {
	InputIndex        uint32
	OutputIndex       uint32
	LocalId           *big.Int
	DestinationScript []byte
}

func (a Assignment) IsBurn() bool {
	return len(a.DestinationScript) == 0
}

// GuardCommitment is the set of moves a guard covenant attests to.
// Binding is nil until the guard tx that carries it has been built for real.
type GuardCommitment struct {
	CollectionId string
	Assignments  []Assignment
	Binding      *Outpoint
}

func NewGuardCommitment(collectionId string, assignments []Assignment) GuardCommitment {
	return GuardCommitment{
		CollectionId: collectionId,
		Assignments:  cloneAssignments(assignments),
	}
}

// WithBinding returns a copy of the commitment bound to the given outpoint.
// The receiver is left untouched.
func (g GuardCommitment) WithBinding(outpoint Outpoint) GuardCommitment {
	bound := outpoint
	return GuardCommitment{
		CollectionId: g.CollectionId,
		Assignments:  cloneAssignments(g.Assignments),
		Binding:      &bound,
	}
}

func (g GuardCommitment) IsBound() bool {
	return g.Binding != nil
}

func (g GuardCommitment) AssignmentFor(inputIndex uint32) (Assignment, bool) {
	for _, a := range g.Assignments {
		if a.InputIndex == inputIndex {
			return a, true
		}
	}
	return Assignment{}, false
}

// Encode serializes the ordered assignments. The encoding does not depend on
// the binding so that probe and real guard txs carry the same payload.
func (g GuardCommitment) Encode() []byte {
	buf := new(bytes.Buffer)
	writeVarBytes(buf, []byte(g.CollectionId))
	buf.WriteByte(byte(len(g.Assignments)))
	for _, a := range g.Assignments {
		buf.WriteByte(byte(a.InputIndex))
		buf.WriteByte(byte(a.OutputIndex))
		var localId []byte
		if a.LocalId != nil {
			localId = a.LocalId.Bytes()
		}
		writeVarBytes(buf, localId)
		writeVarBytes(buf, a.DestinationScript)
	}
	return buf.Bytes()
}

func (g GuardCommitment) Digest() []byte {
	h := sha256.Sum256(g.Encode())
	return h[:]
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	var l [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(l[:], uint64(len(b)))
	buf.Write(l[:n])
	buf.Write(b)
}

func cloneAssignments(assignments []Assignment) []Assignment {
	if assignments == nil {
		return nil
	}
	out := make([]Assignment, 0, len(assignments))
	for _, a := range assignments {
		cp := a
		if a.LocalId != nil {
			cp.LocalId = new(big.Int).Set(a.LocalId)
		}
		if a.DestinationScript != nil {
			cp.DestinationScript = append([]byte(nil), a.DestinationScript...)
		}
		out = append(out, cp)
	}
	return out
}

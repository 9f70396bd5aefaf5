package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// TransferDescriptor is one line of the batch source file.
type TransferDescriptor struct {
	Line            int
	SourceAddr      string
	OwnerKey        string
	LocalId         *big.Int
	DestinationAddr string
}

func (d TransferDescriptor) String() string {
	return fmt.Sprintf("line %d: %s -> %s", d.Line, d.LocalId, d.DestinationAddr)
}

// AddressMatch tells which address encoding of an owner key matched the
// declared source address.
type AddressMatch int

const (
	Unmatched AddressMatch = iota
	MatchedTaproot
	MatchedWitnessPubKeyHash
)

func (m AddressMatch) String() string {
	switch m {
	case MatchedTaproot:
		return "p2tr"
	case MatchedWitnessPubKeyHash:
		return "p2wpkh"
	default:
		return "unmatched"
	}
}

type TransferState int

const (
	TransferPending TransferState = iota
	TransferTraced
	TransferGuardEstimated
	TransferSendEstimated
	TransferGuardBuilt
	TransferGuardSigned
	TransferSendBuilt
	TransferSendSignedOwner
	TransferSendSignedFeePayer
	TransferFinalized
	TransferGuardBroadcast
	TransferSendBroadcast
	TransferFailed
)

var transferStateNames = map[TransferState]string{
	TransferPending:            "pending",
	TransferTraced:             "traced",
	TransferGuardEstimated:     "guard_estimated",
	TransferSendEstimated:      "send_estimated",
	TransferGuardBuilt:         "guard_built",
	TransferGuardSigned:        "guard_signed",
	TransferSendBuilt:          "send_built",
	TransferSendSignedOwner:    "send_signed_owner",
	TransferSendSignedFeePayer: "send_signed_fee_payer",
	TransferFinalized:          "finalized",
	TransferGuardBroadcast:     "guard_broadcast",
	TransferSendBroadcast:      "send_broadcast",
	TransferFailed:             "failed",
}

func (s TransferState) String() string {
	if name, ok := transferStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

func (s TransferState) IsFinal() bool {
	return s == TransferSendBroadcast || s == TransferFailed
}

// Transfer is the journal record of a single NFT move.
type Transfer struct {
	Id            string
	BatchId       string
	LocalId       string
	Source        string
	Destination   string
	Bullet        Outpoint
	State         TransferState
	GuardTxid     string
	SendTxid      string
	EstGuardVSize int64
	EstSendVSize  int64
	FailureReason string
	FailedAt      TransferState
	UpdatedAt     int64
}

func NewTransfer(batchId string, descriptor TransferDescriptor, bullet Outpoint) Transfer {
	return Transfer{
		Id:          uuid.New().String(),
		BatchId:     batchId,
		LocalId:     descriptor.LocalId.String(),
		Source:      descriptor.SourceAddr,
		Destination: descriptor.DestinationAddr,
		Bullet:      bullet,
		State:       TransferPending,
		UpdatedAt:   time.Now().Unix(),
	}
}

// Advance moves the transfer to the given state. States are never skipped.
func (t *Transfer) Advance(state TransferState) error {
	if t.State.IsFinal() {
		return fmt.Errorf("transfer %s already in final state %s", t.Id, t.State)
	}
	if state != t.State+1 {
		return fmt.Errorf("invalid transition for transfer %s: %s -> %s", t.Id, t.State, state)
	}
	t.State = state
	t.UpdatedAt = time.Now().Unix()
	return nil
}

func (t *Transfer) Fail(reason error) {
	if t.State.IsFinal() {
		return
	}
	t.FailedAt = t.State
	t.State = TransferFailed
	t.FailureReason = reason.Error()
	t.UpdatedAt = time.Now().Unix()
}

// IsGuardStranded reports whether the guard tx reached the network while the
// send tx did not, leaving the guard postage locked in the covenant.
func (t Transfer) IsGuardStranded() bool {
	return t.State == TransferFailed && t.FailedAt == TransferGuardBroadcast
}

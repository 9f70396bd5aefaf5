package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	// GuardPostage is the value locked in a guard covenant output.
	GuardPostage = 332
	// AssetPostage is the value carried by every NFT output.
	AssetPostage = 330
	// DustLimit is the minimum value of a standard output.
	DustLimit = 330
)

type Collection struct {
	Id         string
	MinterAddr string
	Name       string
	Symbol     string
}

// AssetOutput is an NFT carrying output with its token state.
type AssetOutput struct {
	Utxo
	CollectionId string
	LocalId      *big.Int
	OwnerAddr    string
}

func (a AssetOutput) String() string {
	return fmt.Sprintf("%s#%s@%s", a.CollectionId, a.LocalId, a.Outpoint)
}

// TraceProof links an asset output to the tx that created it and to the one
// that funded that tx's asset input.
type TraceProof struct {
	PrevTxHex     string
	PrevPrevTxHex string
	PrevTxInput   uint32
}

// Digest is the fixed size commitment to the proof pushed in the unlock witness.
func (t TraceProof) Digest() []byte {
	prevTx, _ := hex.DecodeString(t.PrevTxHex)
	prevPrevTx, _ := hex.DecodeString(t.PrevPrevTxHex)

	h := sha256.New()
	h.Write(prevTx)
	h.Write(prevPrevTx)
	// nolint
	binary.Write(h, binary.LittleEndian, t.PrevTxInput)
	return h.Sum(nil)
}

type TracedAsset struct {
	Asset AssetOutput
	Trace TraceProof
}

package txbuilder

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// MaxInputs is the protocol ceiling of inputs in a send tx.
	MaxInputs = 6

	dummyFundingValue = 100_000_000
)

var stateMarker = []byte("cat721")

type txBuilder struct {
	covenant ports.CovenantEngine
	network  *chaincfg.Params
	probeKey *btcec.PrivateKey
}

func NewTxBuilder(covenant ports.CovenantEngine, network *chaincfg.Params) ports.TxBuilder {
	seed := sha256.Sum256([]byte("cat721-send probe key"))
	probeKey, _ := btcec.PrivKeyFromBytes(seed[:])
	return &txBuilder{covenant, network, probeKey}
}

func (b *txBuilder) FeeForVSize(feeRate uint64, vsize int64) uint64 {
	fee := chainfee.SatPerVByte(feeRate).FeePerKVByte().FeeForVSize(lntypes.VByte(vsize))
	return uint64(fee)
}

func (b *txBuilder) FinalizeAndExtract(ptx *psbt.Packet) (string, string, int64, error) {
	for i, in := range ptx.Inputs {
		if txutils.IsCovenantInput(ptx, i) {
			if err := b.covenant.Finalize(ptx, i); err != nil {
				return "", "", 0, err
			}
			continue
		}
		if len(in.FinalScriptWitness) > 0 {
			continue
		}

		if err := psbt.Finalize(ptx, i); err != nil {
			return "", "", 0, fmt.Errorf("failed to finalize input %d: %w", i, err)
		}
	}

	signed, err := psbt.Extract(ptx)
	if err != nil {
		return "", "", 0, err
	}

	var serialized bytes.Buffer
	if err := signed.Serialize(&serialized); err != nil {
		return "", "", 0, err
	}

	return signed.TxHash().String(), hex.EncodeToString(serialized.Bytes()), txutils.VSize(signed), nil
}

type txInput struct {
	outpoint *wire.OutPoint
	prevout  *wire.TxOut
}

func newTxInput(utxo domain.Utxo, script []byte) (txInput, error) {
	hash, err := chainhash.NewHashFromStr(utxo.Txid)
	if err != nil {
		return txInput{}, fmt.Errorf("invalid txid %s: %w", utxo.Txid, err)
	}
	if script == nil {
		script = utxo.Script
	}
	return txInput{
		outpoint: wire.NewOutPoint(hash, utxo.VOut),
		prevout:  &wire.TxOut{Value: int64(utxo.Amount), PkScript: script},
	}, nil
}

// newPacket creates a version 2 psbt spending the given inputs, with their
// witness utxos set.
func newPacket(inputs []txInput, outputs []*wire.TxOut) (*psbt.Packet, error) {
	outpoints := make([]*wire.OutPoint, 0, len(inputs))
	sequences := make([]uint32, 0, len(inputs))
	for _, in := range inputs {
		outpoints = append(outpoints, in.outpoint)
		sequences = append(sequences, wire.MaxTxInSequenceNum)
	}

	ptx, err := psbt.New(outpoints, outputs, 2, 0, sequences)
	if err != nil {
		return nil, err
	}

	updater, err := psbt.NewUpdater(ptx)
	if err != nil {
		return nil, err
	}
	for i, in := range inputs {
		if err := updater.AddInWitnessUtxo(in.prevout, i); err != nil {
			return nil, err
		}
	}
	return ptx, nil
}

func stateOutput(digest []byte) (*wire.TxOut, error) {
	payload := append(append([]byte{}, stateMarker...), digest...)
	script, err := txscript.NullDataScript(payload)
	if err != nil {
		return nil, err
	}
	return &wire.TxOut{Value: 0, PkScript: script}, nil
}

func dummyUtxo(script []byte, amount uint64) domain.Utxo {
	hash := chainhash.HashH([]byte("cat721-send dummy utxo"))
	return domain.Utxo{
		Outpoint: domain.Outpoint{Txid: hash.String(), VOut: 0},
		Amount:   amount,
		Script:   script,
	}
}

func sumOutputs(outputs []*wire.TxOut) uint64 {
	var tot uint64
	for _, out := range outputs {
		tot += uint64(out.Value)
	}
	return tot
}

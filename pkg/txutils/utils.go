package txutils

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var unspendablePoint = []byte{
	0x02, 0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54, 0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a,
	0x5e, 0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5, 0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
}
var unspendableKey, _ = btcec.ParsePubKey(unspendablePoint)

// UnspendableKey is the NUMS internal key of script-only taproot outputs.
func UnspendableKey() *btcec.PublicKey {
	return unspendableKey
}

func ReadTxWitness(witnessSerialized []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(witnessSerialized)

	// first we extract the number of witness elements
	witCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	// read each witness item
	witness := make(wire.TxWitness, witCount)
	for i := range witCount {
		witness[i], err = wire.ReadVarBytes(r, 0, txscript.MaxScriptSize, "witness")
		if err != nil {
			return nil, err
		}
	}

	return witness, nil
}

// GetPrevOutputFetcher computes a prevout fetcher from WitnessUtxo fields
func GetPrevOutputFetcher(tx *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	prevouts := make(map[wire.OutPoint]*wire.TxOut)

	for i, input := range tx.Inputs {
		if input.WitnessUtxo == nil {
			return nil, fmt.Errorf("missing witness utxo on input #%d", i)
		}

		outpoint := tx.UnsignedTx.TxIn[i].PreviousOutPoint
		prevouts[outpoint] = input.WitnessUtxo
	}

	return txscript.NewMultiPrevOutFetcher(prevouts), nil
}

func PsbtFromHex(s string) (*psbt.Packet, error) {
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid psbt hex: %w", err)
	}
	return psbt.NewFromRawBytes(bytes.NewReader(buf), false)
}

func PsbtToHex(ptx *psbt.Packet) (string, error) {
	var buf bytes.Buffer
	if err := ptx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func TxToHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func TxFromHex(s string) (*wire.MsgTx, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(hex.NewDecoder(bytes.NewReader([]byte(s)))); err != nil {
		return nil, err
	}
	return &tx, nil
}

// VSize returns the virtual size of the tx, ie. its weight divided by 4 rounded up.
func VSize(tx *wire.MsgTx) int64 {
	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))
	return (weight + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor
}

// Combine copies the signatures found in the signed packets into ptx. All
// packets must share the same unsigned tx.
func Combine(ptx *psbt.Packet, signed ...*psbt.Packet) error {
	txid := ptx.UnsignedTx.TxHash()
	for _, other := range signed {
		if other.UnsignedTx.TxHash() != txid {
			return fmt.Errorf(
				"cannot combine psbts of different txs: %s != %s", txid, other.UnsignedTx.TxHash(),
			)
		}
		for i, in := range other.Inputs {
			if len(in.TaprootKeySpendSig) > 0 {
				ptx.Inputs[i].TaprootKeySpendSig = in.TaprootKeySpendSig
			}
			if len(in.FinalScriptWitness) > 0 {
				ptx.Inputs[i].FinalScriptWitness = in.FinalScriptWitness
			}
			ptx.Inputs[i].TaprootScriptSpendSig = mergeTapscriptSigs(
				ptx.Inputs[i].TaprootScriptSpendSig, in.TaprootScriptSpendSig,
			)
			ptx.Inputs[i].PartialSigs = mergePartialSigs(ptx.Inputs[i].PartialSigs, in.PartialSigs)
		}
	}
	return nil
}

func mergeTapscriptSigs(
	a, b []*psbt.TaprootScriptSpendSig,
) []*psbt.TaprootScriptSpendSig {
	out := append([]*psbt.TaprootScriptSpendSig{}, a...)
	for _, sig := range b {
		found := false
		for _, existing := range out {
			if bytes.Equal(existing.XOnlyPubKey, sig.XOnlyPubKey) &&
				bytes.Equal(existing.LeafHash, sig.LeafHash) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, sig)
		}
	}
	return out
}

func mergePartialSigs(a, b []*psbt.PartialSig) []*psbt.PartialSig {
	out := append([]*psbt.PartialSig{}, a...)
	for _, sig := range b {
		found := false
		for _, existing := range out {
			if bytes.Equal(existing.PubKey, sig.PubKey) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, sig)
		}
	}
	return out
}

package tapscript

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	"github.com/arkade-os/cat721-send/pkg/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const sigSlot = 2

type engine struct {
	network *chaincfg.Params
}

// NewEngine returns the tapscript covenant engine. Nft outputs and guards are
// script-only taproot outputs with a single leaf and the NUMS internal key.
func NewEngine(network *chaincfg.Params) ports.CovenantEngine {
	return &engine{network}
}

func (e *engine) AssetScript(
	collectionId string, localId *big.Int, ownerAddr string,
) ([]byte, error) {
	leaf, err := e.assetLeaf(collectionId, localId, ownerAddr)
	if err != nil {
		return nil, err
	}
	return leaf.pkScript, nil
}

func (e *engine) CreateGuardCommitment(
	collectionId string, inputs []domain.AssetOutput, destinations []string,
) (domain.GuardCommitment, error) {
	if len(inputs) != len(destinations) {
		return domain.GuardCommitment{}, fmt.Errorf(
			"got %d destinations for %d inputs", len(destinations), len(inputs),
		)
	}

	assignments := make([]domain.Assignment, 0, len(inputs))
	// output 0 is reserved to the state output
	outputIndex := uint32(1)
	for i, input := range inputs {
		assignment := domain.Assignment{
			InputIndex: uint32(i),
			LocalId:    input.LocalId,
		}
		if destinations[i] != "" {
			script, err := e.AssetScript(collectionId, input.LocalId, destinations[i])
			if err != nil {
				return domain.GuardCommitment{}, err
			}
			assignment.OutputIndex = outputIndex
			assignment.DestinationScript = script
			outputIndex++
		}
		assignments = append(assignments, assignment)
	}

	return domain.NewGuardCommitment(collectionId, assignments), nil
}

func (e *engine) GuardScript(guard domain.GuardCommitment) ([]byte, error) {
	leaf, err := guardLeaf(guard)
	if err != nil {
		return nil, err
	}
	return leaf.pkScript, nil
}

func (e *engine) GuardInfo(
	guard domain.GuardCommitment, inputIndex int, guardTxHex string,
) (ports.GuardInfo, error) {
	if !guard.IsBound() {
		return ports.GuardInfo{}, fmt.Errorf("guard is not bound to any outpoint")
	}
	return ports.GuardInfo{
		InputIndex: inputIndex,
		Outpoint:   *guard.Binding,
		Digest:     guard.Digest(),
		GuardTxHex: guardTxHex,
	}, nil
}

func (e *engine) UnlockAsset(ptx *psbt.Packet, req ports.AssetUnlockRequest) error {
	if err := checkContext(ptx, req.Context); err != nil {
		return err
	}
	if err := checkInputIndex(ptx, req.InputIndex); err != nil {
		return err
	}
	if err := checkGuardInput(ptx, req.Guard.InputIndex, req.Guard.Outpoint); err != nil {
		return err
	}
	if err := checkGuardTx(req.Guard.GuardTxHex, req.Guard.Outpoint, nil); err != nil {
		return err
	}

	leaf, err := e.assetLeaf(req.Asset.CollectionId, req.Asset.LocalId, req.Asset.OwnerAddr)
	if err != nil {
		return err
	}
	prevout := ptx.Inputs[req.InputIndex].WitnessUtxo
	if prevout == nil || !bytes.Equal(prevout.PkScript, leaf.pkScript) {
		return fmt.Errorf(
			"input %d does not lock nft %s of collection %s",
			req.InputIndex, req.Asset.LocalId, req.Asset.CollectionId,
		)
	}

	prefix, xonly, err := ownerKey(req.OwnerPubKey, req.IsP2TR)
	if err != nil {
		return err
	}
	expectedOwner, err := ownerId(req.Asset.OwnerAddr, e.network)
	if err != nil {
		return err
	}
	if !bytes.Equal(btcutil.Hash160(append(append([]byte{}, prefix...), xonly...)), expectedOwner) {
		return fmt.Errorf("public key %s does not own nft %s", req.OwnerPubKey, req.Asset.LocalId)
	}

	guardRef, err := serializeOutpoint(req.Guard.Outpoint)
	if err != nil {
		return err
	}

	witness := wire.TxWitness{req.Trace.Digest(), guardRef, {}, prefix, xonly}
	return setUnlock(ptx, req.InputIndex, leaf, witness, true)
}

func (e *engine) UnlockGuard(ptx *psbt.Packet, req ports.GuardUnlockRequest) error {
	if err := checkContext(ptx, req.Context); err != nil {
		return err
	}
	if err := checkInputIndex(ptx, req.InputIndex); err != nil {
		return err
	}
	if !req.Guard.IsBound() {
		return fmt.Errorf("guard is not bound to any outpoint")
	}
	if err := checkGuardInput(ptx, req.InputIndex, *req.Guard.Binding); err != nil {
		return err
	}

	leaf, err := guardLeaf(req.Guard)
	if err != nil {
		return err
	}
	if err := checkGuardTx(req.GuardTxHex, *req.Guard.Binding, leaf.pkScript); err != nil {
		return err
	}

	if len(req.Guard.Assignments) != req.InputIndex {
		return errors.GUARD_MISMATCH.New(
			"guard commits to %d nft inputs, tx spends %d",
			len(req.Guard.Assignments), req.InputIndex,
		).WithMetadata(errors.GuardMismatchMetadata{
			InputIndex: req.InputIndex,
			Expected:   fmt.Sprintf("%d", len(req.Guard.Assignments)),
			Got:        fmt.Sprintf("%d", req.InputIndex),
		})
	}
	for i := 0; i < req.InputIndex; i++ {
		a, ok := req.Guard.AssignmentFor(uint32(i))
		if !ok {
			return errors.GUARD_MISMATCH.New(
				"guard has no assignment for nft input %d", i,
			).WithMetadata(errors.GuardMismatchMetadata{InputIndex: i})
		}
		if a.IsBurn() {
			continue
		}
		if int(a.OutputIndex) >= len(ptx.UnsignedTx.TxOut) ||
			!bytes.Equal(ptx.UnsignedTx.TxOut[a.OutputIndex].PkScript, a.DestinationScript) {
			return errors.GUARD_MISMATCH.New(
				"output %d does not match the guard assignment of nft %s",
				a.OutputIndex, a.LocalId,
			).WithMetadata(errors.GuardMismatchMetadata{
				InputIndex: int(a.InputIndex),
				Expected:   hex.EncodeToString(a.DestinationScript),
			})
		}
	}

	witness := wire.TxWitness{req.Guard.Encode()}
	return setUnlock(ptx, req.InputIndex, leaf, witness, false)
}

func (e *engine) Finalize(ptx *psbt.Packet, inputIndex int) error {
	template, err := txutils.GetCovenantPsbtField(ptx, inputIndex, txutils.WitnessTemplateField)
	if err != nil {
		return err
	}
	if template == nil {
		return fmt.Errorf("input %d is not a covenant input", inputIndex)
	}
	in := ptx.Inputs[inputIndex]
	if len(in.TaprootLeafScript) != 1 {
		return fmt.Errorf("input %d: expected exactly one leaf script", inputIndex)
	}
	tapLeaf := in.TaprootLeafScript[0]

	witness := make(wire.TxWitness, 0, len(*template)+2)
	witness = append(witness, (*template)...)

	slot, err := txutils.GetCovenantPsbtField(ptx, inputIndex, txutils.SigSlotField)
	if err != nil {
		return err
	}
	if slot != nil {
		leafHash := txscript.NewBaseTapLeaf(tapLeaf.Script).TapHash()
		var sig []byte
		for _, s := range in.TaprootScriptSpendSig {
			if bytes.Equal(s.LeafHash, leafHash[:]) {
				sig = append([]byte{}, s.Signature...)
				if s.SigHash != txscript.SigHashDefault {
					sig = append(sig, byte(s.SigHash))
				}
				break
			}
		}
		if len(sig) == 0 {
			return fmt.Errorf("missing signature for covenant input %d", inputIndex)
		}
		if int(*slot) >= len(witness) {
			return fmt.Errorf("invalid signature slot %d for input %d", *slot, inputIndex)
		}
		witness[*slot] = sig
	}

	witness = append(witness, tapLeaf.Script, tapLeaf.ControlBlock)

	var witnessBuf bytes.Buffer
	if err := psbt.WriteTxWitness(&witnessBuf, witness); err != nil {
		return err
	}
	ptx.Inputs[inputIndex].FinalScriptWitness = witnessBuf.Bytes()
	return nil
}

func (e *engine) assetLeaf(
	collectionId string, localId *big.Int, ownerAddr string,
) (*taprootLeaf, error) {
	if localId == nil {
		return nil, fmt.Errorf("missing nft local id")
	}
	owner, err := ownerId(ownerAddr, e.network)
	if err != nil {
		return nil, err
	}
	script, err := assetLeafScript(assetTag(collectionId, localId), owner)
	if err != nil {
		return nil, err
	}
	return newTaprootLeaf(script)
}

func guardLeaf(guard domain.GuardCommitment) (*taprootLeaf, error) {
	script, err := guardLeafScript(guard.Digest())
	if err != nil {
		return nil, err
	}
	return newTaprootLeaf(script)
}

func setUnlock(
	ptx *psbt.Packet, inputIndex int, leaf *taprootLeaf, witness wire.TxWitness, withSig bool,
) error {
	ptx.Inputs[inputIndex].TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
		ControlBlock: leaf.controlBlock,
		Script:       leaf.script,
		LeafVersion:  txscript.BaseLeafVersion,
	}}
	if err := txutils.SetCovenantPsbtField(
		ptx, inputIndex, txutils.WitnessTemplateField, witness,
	); err != nil {
		return err
	}
	if !withSig {
		return nil
	}
	return txutils.SetCovenantPsbtField(ptx, inputIndex, txutils.SigSlotField, uint32(sigSlot))
}

// ownerKey returns the key prefix and x-only key pushed in the witness.
func ownerKey(pubkeyHex string, isP2TR bool) ([]byte, []byte, error) {
	buf, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid owner public key: %w", err)
	}
	pubkey, err := btcec.ParsePubKey(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid owner public key: %w", err)
	}

	if isP2TR {
		outputKey := txscript.ComputeTaprootKeyNoScript(pubkey)
		return []byte{}, schnorr.SerializePubKey(outputKey), nil
	}
	compressed := pubkey.SerializeCompressed()
	return compressed[:1], compressed[1:], nil
}

func serializeOutpoint(outpoint domain.Outpoint) ([]byte, error) {
	hash, err := chainhash.NewHashFromStr(outpoint.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %s: %w", outpoint.Txid, err)
	}
	buf := make([]byte, 0, guardRefSize)
	buf = append(buf, hash[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, outpoint.VOut)
	return buf, nil
}

func checkContext(ptx *psbt.Packet, ctx ports.SigningContext) error {
	if ctx.Tx == nil || ctx.SigHashes == nil {
		return fmt.Errorf("missing signing context")
	}
	if ctx.Tx.TxHash() != ptx.UnsignedTx.TxHash() || ctx.InputCount != len(ptx.UnsignedTx.TxIn) {
		return fmt.Errorf("signing context does not match tx %s", ptx.UnsignedTx.TxHash())
	}
	return nil
}

func checkInputIndex(ptx *psbt.Packet, inputIndex int) error {
	if inputIndex < 0 || inputIndex >= len(ptx.Inputs) {
		return fmt.Errorf("input index out of bounds %d, len(inputs)=%d", inputIndex, len(ptx.Inputs))
	}
	return nil
}

func checkGuardInput(ptx *psbt.Packet, inputIndex int, guard domain.Outpoint) error {
	if err := checkInputIndex(ptx, inputIndex); err != nil {
		return err
	}
	got := ptx.UnsignedTx.TxIn[inputIndex].PreviousOutPoint
	if got.Hash.String() != guard.Txid || got.Index != guard.VOut {
		return errors.GUARD_MISMATCH.New(
			"input %d spends %s, guard is bound to %s", inputIndex, got, guard,
		).WithMetadata(errors.GuardMismatchMetadata{
			InputIndex: inputIndex,
			Expected:   guard.String(),
			Got:        got.String(),
		})
	}
	return nil
}

// checkGuardTx makes sure the serialized guard tx is the one the guard is bound
// to and, if given, that it carries the expected guard script.
func checkGuardTx(guardTxHex string, guard domain.Outpoint, guardScript []byte) error {
	guardTx, err := txutils.TxFromHex(guardTxHex)
	if err != nil {
		return fmt.Errorf("invalid guard tx: %w", err)
	}
	if txid := guardTx.TxHash().String(); txid != guard.Txid {
		return errors.GUARD_MISMATCH.New(
			"guard tx %s differs from bound guard %s", txid, guard,
		).WithMetadata(errors.GuardMismatchMetadata{
			Expected: guard.Txid,
			Got:      txid,
		})
	}
	if int(guard.VOut) >= len(guardTx.TxOut) {
		return errors.GUARD_MISMATCH.New("guard tx has no output %d", guard.VOut).
			WithMetadata(errors.GuardMismatchMetadata{Expected: guard.String()})
	}
	if guardScript != nil && !bytes.Equal(guardTx.TxOut[guard.VOut].PkScript, guardScript) {
		return errors.GUARD_MISMATCH.New("guard output %s does not commit to the assignments", guard).
			WithMetadata(errors.GuardMismatchMetadata{
				Expected: hex.EncodeToString(guardScript),
				Got:      hex.EncodeToString(guardTx.TxOut[guard.VOut].PkScript),
			})
	}
	return nil
}

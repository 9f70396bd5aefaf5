package txutils

import (
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
)

// SignInputs signs the given inputs of the psbt with the private key.
// The spend path is picked per input:
//   - taproot with a leaf script: tapscript signature, made with the BIP86
//     tweaked key unless untweaked is set
//   - taproot without leaf script: key-path signature
//   - anything else: segwit v0 ECDSA signature
func SignInputs(
	ptx *psbt.Packet, inputIndexes []int, key *btcec.PrivateKey, untweaked bool,
) error {
	prevoutFetcher, err := GetPrevOutputFetcher(ptx)
	if err != nil {
		return err
	}
	txSigHashes := txscript.NewTxSigHashes(ptx.UnsignedTx, prevoutFetcher)

	for inputIndex := range ptx.Inputs {
		if !slices.Contains(inputIndexes, inputIndex) {
			continue
		}
		input := &ptx.Inputs[inputIndex]
		prevout := input.WitnessUtxo

		if !txscript.IsPayToTaproot(prevout.PkScript) {
			if input.SighashType == txscript.SigHashDefault {
				input.SighashType = txscript.SigHashAll
			}

			signature, err := txscript.RawTxInWitnessSignature(
				ptx.UnsignedTx, txSigHashes, inputIndex,
				prevout.Value, prevout.PkScript, input.SighashType, key,
			)
			if err != nil {
				return fmt.Errorf("failed to sign input %d: %w", inputIndex, err)
			}

			input.PartialSigs = append(input.PartialSigs, &psbt.PartialSig{
				PubKey:    key.PubKey().SerializeCompressed(),
				Signature: signature,
			})
			continue
		}

		if len(input.TaprootLeafScript) > 0 {
			signingKey := key
			if !untweaked {
				signingKey = txscript.TweakTaprootPrivKey(*key, nil)
			}
			tapLeaf := txscript.NewBaseTapLeaf(input.TaprootLeafScript[0].Script)

			signature, err := txscript.RawTxInTapscriptSignature(
				ptx.UnsignedTx, txSigHashes, inputIndex,
				prevout.Value, prevout.PkScript,
				tapLeaf, input.SighashType, signingKey,
			)
			if err != nil {
				return fmt.Errorf("failed to sign input %d: %w", inputIndex, err)
			}

			leafHash := tapLeaf.TapHash()
			input.TaprootScriptSpendSig = append(input.TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
				Signature:   signature,
				XOnlyPubKey: schnorr.SerializePubKey(signingKey.PubKey()),
				LeafHash:    leafHash[:],
				SigHash:     input.SighashType,
			})
			continue
		}

		signature, err := txscript.RawTxInTaprootSignature(
			ptx.UnsignedTx, txSigHashes, inputIndex,
			prevout.Value, prevout.PkScript,
			input.TaprootMerkleRoot, input.SighashType, key,
		)
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %w", inputIndex, err)
		}
		input.TaprootKeySpendSig = signature
	}

	return nil
}

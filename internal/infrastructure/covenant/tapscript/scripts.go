package tapscript

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/arkade-os/cat721-send/pkg/txutils"
)

const (
	guardRefSize    = 36
	traceDigestSize = 32
)

// taprootLeaf is a script-only taproot output with a single leaf.
type taprootLeaf struct {
	script       []byte
	controlBlock []byte
	pkScript     []byte
}

func newTaprootLeaf(leafScript []byte) (*taprootLeaf, error) {
	leaf := txscript.NewBaseTapLeaf(leafScript)
	tree := txscript.AssembleTaprootScriptTree(leaf)
	rootHash := tree.RootNode.TapHash()

	outputKey := txscript.ComputeTaprootOutputKey(txutils.UnspendableKey(), rootHash[:])
	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(outputKey)).
		Script()
	if err != nil {
		return nil, err
	}

	controlBlock := tree.LeafMerkleProofs[0].ToControlBlock(txutils.UnspendableKey())
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return nil, err
	}

	return &taprootLeaf{
		script:       leafScript,
		controlBlock: controlBlockBytes,
		pkScript:     pkScript,
	}, nil
}

func (l *taprootLeaf) leafHash() []byte {
	h := txscript.NewBaseTapLeaf(l.script).TapHash()
	return h[:]
}

// assetTag identifies an nft of a collection inside its locking script.
func assetTag(collectionId string, localId *big.Int) []byte {
	h := sha256.New()
	h.Write([]byte(collectionId))
	h.Write(localId.Bytes())
	return h.Sum(nil)
}

// ownerId is what the asset leaf compares against hash160(prefix || xonly).
// For taproot owners the prefix is empty and xonly is the output key, for
// p2wpkh owners it is the pubkey hash.
func ownerId(ownerAddr string, network *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(ownerAddr, network)
	if err != nil {
		return nil, fmt.Errorf("invalid owner address %s: %w", ownerAddr, err)
	}

	switch a := addr.(type) {
	case *btcutil.AddressTaproot:
		return btcutil.Hash160(a.ScriptAddress()), nil
	case *btcutil.AddressWitnessPubKeyHash:
		return a.ScriptAddress(), nil
	default:
		return nil, fmt.Errorf("unsupported owner address type %T", addr)
	}
}

// assetLeafScript locks an nft to its owner. Witness, bottom to top:
// trace digest, guard ref, signature, key prefix, x-only key.
func assetLeafScript(tag, owner []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(tag).
		AddOp(txscript.OP_DROP).
		AddOp(txscript.OP_2DUP).
		AddOp(txscript.OP_CAT).
		AddOp(txscript.OP_HASH160).
		AddData(owner).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_NIP).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddOp(txscript.OP_SIZE).
		AddInt64(guardRefSize).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_DROP).
		AddOp(txscript.OP_SIZE).
		AddInt64(traceDigestSize).
		AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_NIP).
		Script()
}

// guardLeafScript is unlocked by revealing the serialized assignments.
func guardLeafScript(digest []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_SHA256).
		AddData(digest).
		AddOp(txscript.OP_EQUAL).
		Script()
}

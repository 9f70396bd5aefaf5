package txbuilder_test

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/internal/infrastructure/covenant/tapscript"
	txbuilder "github.com/arkade-os/cat721-send/internal/infrastructure/tx-builder/cat721"
	"github.com/arkade-os/cat721-send/pkg/errors"
	"github.com/arkade-os/cat721-send/pkg/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

const (
	collectionId = "c0ffee_0"
	feeRate      = 3
)

var network = &chaincfg.RegressionNetParams

type wallet struct {
	key    *btcec.PrivateKey
	addr   string
	script []byte
}

func newTaprootWallet(t *testing.T) wallet {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(txscript.ComputeTaprootKeyNoScript(key.PubKey())), network,
	)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return wallet{key, addr.EncodeAddress(), script}
}

func (w wallet) pubkey() string {
	return hex.EncodeToString(w.key.PubKey().SerializeCompressed())
}

type fixture struct {
	builder ports.TxBuilder
	engine  ports.CovenantEngine
	owner   wallet
	payer   wallet
	dest    wallet
}

func newFixture(t *testing.T) fixture {
	engine := tapscript.NewEngine(network)
	return fixture{
		builder: txbuilder.NewTxBuilder(engine, network),
		engine:  engine,
		owner:   newTaprootWallet(t),
		payer:   newTaprootWallet(t),
		dest:    newTaprootWallet(t),
	}
}

func (f fixture) assets(t *testing.T, count int) []domain.TracedAsset {
	assets := make([]domain.TracedAsset, 0, count)
	for i := range count {
		localId := big.NewInt(int64(i + 1))
		script, err := f.engine.AssetScript(collectionId, localId, f.owner.addr)
		require.NoError(t, err)
		assets = append(assets, domain.TracedAsset{
			Asset: domain.AssetOutput{
				Utxo: domain.Utxo{
					Outpoint: domain.Outpoint{Txid: randomTxid(i), VOut: 1},
					Amount:   domain.AssetPostage,
					Script:   script,
				},
				CollectionId: collectionId,
				LocalId:      localId,
				OwnerAddr:    f.owner.addr,
			},
			Trace: domain.TraceProof{PrevTxHex: "02000000", PrevTxInput: 1},
		})
	}
	return assets
}

func (f fixture) guard(t *testing.T, assets []domain.TracedAsset) domain.GuardCommitment {
	inputs := make([]domain.AssetOutput, 0, len(assets))
	destinations := make([]string, 0, len(assets))
	for _, a := range assets {
		inputs = append(inputs, a.Asset)
		destinations = append(destinations, f.dest.addr)
	}
	guard, err := f.engine.CreateGuardCommitment(collectionId, inputs, destinations)
	require.NoError(t, err)
	return guard
}

func (f fixture) bullet(amount uint64) domain.Utxo {
	return domain.Utxo{
		Outpoint: domain.Outpoint{Txid: randomTxid(99), VOut: 0},
		Amount:   amount,
		Script:   f.payer.script,
	}
}

func randomTxid(i int) string {
	return chainhash.HashH([]byte{byte(i), 0xca, 0x7}).String()
}

func TestEstimateMatchesRealSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assets := f.assets(t, 2)
	guard := f.guard(t, assets)

	guardVSize, probeGuardTx, err := f.builder.EstimateGuardTxVSize(ctx, guard, f.payer.script)
	require.NoError(t, err)
	require.True(t, probeGuardTx.Guard.IsBound())
	require.False(t, guard.IsBound())

	sendReq := ports.SendTxRequest{
		Assets:       assets,
		GuardTx:      probeGuardTx,
		OwnerAddr:    f.owner.addr,
		OwnerPubKey:  f.owner.pubkey(),
		ChangeScript: f.payer.script,
	}
	sendVSize, err := f.builder.EstimateSendTxVSize(ctx, sendReq)
	require.NoError(t, err)

	guardTx, err := f.builder.BuildGuardTx(ctx, ports.GuardTxRequest{
		Guard:          guard,
		Funding:        f.bullet(10_000),
		ChangeScript:   f.payer.script,
		FeeRate:        feeRate,
		EstimatedVSize: guardVSize,
	})
	require.NoError(t, err)
	require.Equal(t, guardTx.Packet.UnsignedTx.TxHash().String(), guardTx.Guard.Binding.Txid)
	require.Equal(t, uint32(1), guardTx.Guard.Binding.VOut)

	guardFee := f.builder.FeeForVSize(feeRate, guardVSize)
	require.Equal(t, 10_000-domain.GuardPostage-guardFee, guardTx.Change.Amount)

	require.NoError(t, txutils.SignInputs(guardTx.Packet, []int{0}, f.payer.key, false))
	guardTxid, _, vsize, err := f.builder.FinalizeAndExtract(guardTx.Packet)
	require.NoError(t, err)
	require.Equal(t, guardVSize, vsize)
	require.Equal(t, guardTx.Guard.Binding.Txid, guardTxid)

	sendReq.GuardTx = guardTx
	sendReq.FeeRate = feeRate
	sendReq.EstimatedVSize = sendVSize
	sendPtx, err := f.builder.BuildSendTx(ctx, sendReq)
	require.NoError(t, err)

	tx := sendPtx.UnsignedTx
	require.Len(t, tx.TxIn, len(assets)+2)
	require.Equal(t, guardTxid, tx.TxIn[2].PreviousOutPoint.Hash.String())
	require.Equal(t, guardTxid, tx.TxIn[3].PreviousOutPoint.Hash.String())
	require.True(t, txscript.IsNullData(tx.TxOut[0].PkScript))
	for i := range assets {
		require.Equal(t, int64(domain.AssetPostage), tx.TxOut[i+1].Value)
	}

	require.NoError(t, txutils.SignInputs(sendPtx, []int{0, 1}, f.owner.key, false))
	require.NoError(t, txutils.SignInputs(sendPtx, []int{3}, f.payer.key, false))

	fetcher, err := txutils.GetPrevOutputFetcher(sendPtx)
	require.NoError(t, err)
	_, _, vsize, err = f.builder.FinalizeAndExtract(sendPtx)
	require.NoError(t, err)
	require.Equal(t, sendVSize, vsize)

	signed := sendPtx.UnsignedTx.Copy()
	for i, in := range sendPtx.Inputs {
		witness, err := txutils.ReadTxWitness(in.FinalScriptWitness)
		require.NoError(t, err)
		signed.TxIn[i].Witness = witness
	}

	// guard and fee inputs are plain tapscript, verify them with the script engine
	sigHashes := txscript.NewTxSigHashes(signed, fetcher)
	for _, i := range []int{2, 3} {
		prevout := sendPtx.Inputs[i].WitnessUtxo
		vm, err := txscript.NewEngine(
			prevout.PkScript, signed, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevout.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

func TestBuildGuardTx(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	guard := f.guard(t, f.assets(t, 1))

	guardVSize, _, err := f.builder.EstimateGuardTxVSize(ctx, guard, f.payer.script)
	require.NoError(t, err)
	fee := f.builder.FeeForVSize(feeRate, guardVSize)

	t.Run("valid", func(t *testing.T) {
		guardTx, err := f.builder.BuildGuardTx(ctx, ports.GuardTxRequest{
			Guard:          guard,
			Funding:        f.bullet(domain.GuardPostage + fee + domain.DustLimit),
			ChangeScript:   f.payer.script,
			FeeRate:        feeRate,
			EstimatedVSize: guardVSize,
		})
		require.NoError(t, err)

		outs := guardTx.Packet.UnsignedTx.TxOut
		require.Len(t, outs, 3)
		require.Equal(t, int64(0), outs[0].Value)
		require.Equal(t, int64(domain.GuardPostage), outs[1].Value)
		require.Equal(t, int64(domain.DustLimit), outs[2].Value)

		guardScript, err := f.engine.GuardScript(guard)
		require.NoError(t, err)
		require.Equal(t, guardScript, outs[1].PkScript)
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name    string
			funding uint64
		}{
			{"below postage and fee", domain.GuardPostage + fee - 1},
			{"change below dust", domain.GuardPostage + fee + domain.DustLimit - 1},
		}
		for _, tt := range fixtures {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.builder.BuildGuardTx(ctx, ports.GuardTxRequest{
					Guard:          guard,
					Funding:        f.bullet(tt.funding),
					ChangeScript:   f.payer.script,
					FeeRate:        feeRate,
					EstimatedVSize: guardVSize,
				})
				require.Error(t, err)
				require.True(t, errors.INSUFFICIENT_FUNDS.Is(err))
			})
		}
	})
}

func TestBuildSendTx(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	newRequest := func(t *testing.T, count int, funding uint64) ports.SendTxRequest {
		assets := f.assets(t, count)
		guard := f.guard(t, assets)
		guardVSize, _, err := f.builder.EstimateGuardTxVSize(ctx, guard, f.payer.script)
		require.NoError(t, err)
		guardTx, err := f.builder.BuildGuardTx(ctx, ports.GuardTxRequest{
			Guard:          guard,
			Funding:        f.bullet(funding),
			ChangeScript:   f.payer.script,
			FeeRate:        feeRate,
			EstimatedVSize: guardVSize,
		})
		require.NoError(t, err)
		return ports.SendTxRequest{
			Assets:       assets,
			GuardTx:      guardTx,
			OwnerAddr:    f.owner.addr,
			OwnerPubKey:  f.owner.pubkey(),
			ChangeScript: f.payer.script,
			FeeRate:      feeRate,
		}
	}

	t.Run("too many inputs", func(t *testing.T) {
		req := newRequest(t, txbuilder.MaxInputs-1, 50_000)
		_, err := f.builder.EstimateSendTxVSize(ctx, req)
		require.Error(t, err)
		require.True(t, errors.TOO_MANY_INPUTS.Is(err))
	})

	t.Run("max inputs", func(t *testing.T) {
		req := newRequest(t, txbuilder.MaxInputs-2, 50_000)
		_, err := f.builder.EstimateSendTxVSize(ctx, req)
		require.NoError(t, err)
	})

	t.Run("guard mismatch", func(t *testing.T) {
		req := newRequest(t, 1, 50_000)
		// a guard bound to an outpoint other than the guard tx output
		wrong := *req.GuardTx
		wrong.Guard = wrong.Guard.WithBinding(domain.Outpoint{Txid: randomTxid(42), VOut: 1})
		req.GuardTx = &wrong

		_, err := f.builder.BuildSendTx(ctx, req)
		require.Error(t, err)
		require.True(t, errors.GUARD_MISMATCH.Is(err))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		req := newRequest(t, 1, 2_000)
		req.EstimatedVSize = 100_000
		_, err := f.builder.BuildSendTx(ctx, req)
		require.Error(t, err)
		require.True(t, errors.INSUFFICIENT_FUNDS.Is(err))
	})

	t.Run("no change below dust", func(t *testing.T) {
		req := newRequest(t, 1, 50_000)
		sendVSize, err := f.builder.EstimateSendTxVSize(ctx, req)
		require.NoError(t, err)
		sendFee := f.builder.FeeForVSize(feeRate, sendVSize)

		// the guard postage is released to the change too
		req.GuardTx.Change.Amount = sendFee + domain.DustLimit - 1 - domain.GuardPostage
		req.EstimatedVSize = sendVSize
		ptx, err := f.builder.BuildSendTx(ctx, req)
		require.NoError(t, err)
		require.Len(t, ptx.UnsignedTx.TxOut, 2)
	})
}

func TestBuildSplitTx(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	funding := []domain.Utxo{f.bullet(30_000), f.bullet(20_000)}
	funding[1].VOut = 1

	t.Run("valid", func(t *testing.T) {
		ptx, err := f.builder.BuildSplitTx(ctx, ports.SplitTxRequest{
			Funding:      funding,
			BulletValue:  8_700,
			Count:        3,
			ChangeScript: f.payer.script,
			Change:       20_000,
			WithChange:   true,
		})
		require.NoError(t, err)

		outs := ptx.UnsignedTx.TxOut
		require.Len(t, outs, 4)
		for _, out := range outs[:3] {
			require.Equal(t, int64(8_700), out.Value)
			require.Equal(t, f.payer.script, out.PkScript)
		}
		require.Equal(t, int64(20_000), outs[3].Value)
		require.Len(t, ptx.UnsignedTx.TxIn, 2)
	})

	t.Run("estimate", func(t *testing.T) {
		vsize, err := f.builder.EstimateSplitTxVSize(ctx, ports.SplitTxRequest{
			Funding:      funding,
			BulletValue:  8_700,
			Count:        3,
			ChangeScript: f.payer.script,
		}, nil)
		require.NoError(t, err)
		require.Greater(t, vsize, int64(0))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := f.builder.BuildSplitTx(ctx, ports.SplitTxRequest{
			Funding:      funding,
			BulletValue:  20_000,
			Count:        3,
			ChangeScript: f.payer.script,
		})
		require.Error(t, err)
		require.True(t, errors.INSUFFICIENT_FUNDS.Is(err))
	})
}

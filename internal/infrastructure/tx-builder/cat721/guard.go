package txbuilder

import (
	"context"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

const (
	guardOutputIndex  = 1
	guardChangeIndex  = 2
	guardStage        = "guard"
	guardChangeReason = "guard change below dust"
)

func (b *txBuilder) EstimateGuardTxVSize(
	_ context.Context, guard domain.GuardCommitment, changeScript []byte,
) (int64, *ports.GuardTx, error) {
	build := func(funding domain.Utxo) (*psbt.Packet, error) {
		return b.buildGuardTx(guard, funding, changeScript, 0)
	}

	vsize, ptx, err := b.estimateVSize(build, dummyUtxo(changeScript, dummyFundingValue), nil)
	if err != nil {
		return 0, nil, err
	}

	return vsize, newGuardTx(ptx, guard, changeScript), nil
}

func (b *txBuilder) BuildGuardTx(
	_ context.Context, req ports.GuardTxRequest,
) (*ports.GuardTx, error) {
	fee := b.FeeForVSize(req.FeeRate, req.EstimatedVSize)
	ptx, err := b.buildGuardTx(req.Guard, req.Funding, req.ChangeScript, fee)
	if err != nil {
		return nil, err
	}
	return newGuardTx(ptx, req.Guard, req.ChangeScript), nil
}

// buildGuardTx spends the funding input into the state output, the guard
// output and the change.
func (b *txBuilder) buildGuardTx(
	guard domain.GuardCommitment, funding domain.Utxo, changeScript []byte, fee uint64,
) (*psbt.Packet, error) {
	if funding.Amount < domain.GuardPostage+fee {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"funding input %s of %d sats cannot cover guard postage and fee (%d sats)",
			funding.Outpoint, funding.Amount, domain.GuardPostage+fee,
		).WithMetadata(errors.FundsMetadata{
			Stage:     guardStage,
			Available: funding.Amount,
			Required:  domain.GuardPostage + fee,
		})
	}
	change := funding.Amount - domain.GuardPostage - fee
	if change < domain.DustLimit {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"%s: %d sats left for the send tx", guardChangeReason, change,
		).WithMetadata(errors.FundsMetadata{
			Stage:     guardStage,
			Available: funding.Amount,
			Required:  domain.GuardPostage + fee + domain.DustLimit,
		})
	}

	guardScript, err := b.covenant.GuardScript(guard)
	if err != nil {
		return nil, err
	}
	state, err := stateOutput(guard.Digest())
	if err != nil {
		return nil, err
	}
	input, err := newTxInput(funding, nil)
	if err != nil {
		return nil, err
	}

	outputs := []*wire.TxOut{
		state,
		{Value: domain.GuardPostage, PkScript: guardScript},
		{Value: int64(change), PkScript: changeScript},
	}
	return newPacket([]txInput{input}, outputs)
}

// newGuardTx binds a copy of the guard to the guard output of the given tx.
func newGuardTx(ptx *psbt.Packet, guard domain.GuardCommitment, changeScript []byte) *ports.GuardTx {
	txid := ptx.UnsignedTx.TxHash().String()
	change := ptx.UnsignedTx.TxOut[guardChangeIndex]
	return &ports.GuardTx{
		Packet: ptx,
		Guard:  guard.WithBinding(domain.Outpoint{Txid: txid, VOut: guardOutputIndex}),
		Change: domain.Utxo{
			Outpoint: domain.Outpoint{Txid: txid, VOut: guardChangeIndex},
			Amount:   uint64(change.Value),
			Script:   changeScript,
		},
	}
}

package txbuilder

import (
	"context"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	"github.com/arkade-os/cat721-send/pkg/txutils"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

// buildFn must be pure: called twice with the same logical inputs it returns
// txs with the same script structure.
type buildFn func(funding domain.Utxo) (*psbt.Packet, error)

type signFn func(ptx *psbt.Packet) error

// estimateVSize builds a throwaway tx against the synthetic funding input,
// signs and finalizes it and returns its vsize. A nil signFn signs every
// input with the deterministic probe key.
func (b *txBuilder) estimateVSize(
	build buildFn, dummy domain.Utxo, sign signFn,
) (int64, *psbt.Packet, error) {
	ptx, err := build(dummy)
	if err != nil {
		if errors.INSUFFICIENT_FUNDS.Is(err) {
			return 0, nil, errors.INSUFFICIENT_PROBE_FUNDS.Wrap(err).
				WithMetadata(errors.FundsMetadata{Stage: "probe", Available: dummy.Amount})
		}
		return 0, nil, err
	}

	if sign == nil {
		sign = b.signWithProbeKey
	}
	if err := sign(ptx); err != nil {
		return 0, nil, fmt.Errorf("failed to sign probe tx: %w", err)
	}

	_, _, vsize, err := b.FinalizeAndExtract(ptx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to finalize probe tx: %w", err)
	}
	return vsize, ptx, nil
}

func (b *txBuilder) signWithProbeKey(ptx *psbt.Packet) error {
	toSign := make([]int, 0, len(ptx.Inputs))
	for i := range ptx.Inputs {
		if txutils.IsCovenantInput(ptx, i) {
			slot, err := txutils.GetCovenantPsbtField(ptx, i, txutils.SigSlotField)
			if err != nil {
				return err
			}
			if slot == nil {
				continue
			}
		}
		toSign = append(toSign, i)
	}
	return txutils.SignInputs(ptx, toSign, b.probeKey, true)
}

// signWithSigner delegates the probe signature of the given inputs to a real signer.
func signWithSigner(ctx context.Context, signer ports.Signer, inputs []int) signFn {
	return func(ptx *psbt.Packet) error {
		address, err := signer.GetAddress(ctx)
		if err != nil {
			return err
		}
		encoded, err := txutils.PsbtToHex(ptx)
		if err != nil {
			return err
		}

		toSign := make([]ports.ToSignInput, 0, len(inputs))
		for _, i := range inputs {
			toSign = append(toSign, ports.ToSignInput{Index: i, Address: address})
		}
		signed, err := signer.SignPsbt(ctx, encoded, ports.SignOptions{ToSignInputs: toSign})
		if err != nil {
			return err
		}

		signedPtx, err := txutils.PsbtFromHex(signed)
		if err != nil {
			return err
		}
		return txutils.Combine(ptx, signedPtx)
	}
}

package application

import (
	"context"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/txutils"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// signPacket has the signer sign ptx and merges the signatures back into it.
func signPacket(
	ctx context.Context, signer ports.Signer, ptx *psbt.Packet, opts ports.SignOptions,
) error {
	encoded, err := txutils.PsbtToHex(ptx)
	if err != nil {
		return err
	}
	signed, err := signer.SignPsbt(ctx, encoded, opts)
	if err != nil {
		return err
	}
	signedPtx, err := txutils.PsbtFromHex(signed)
	if err != nil {
		return err
	}
	return txutils.Combine(ptx, signedPtx)
}

func addressScript(address string, network *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, network)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", address, err)
	}
	if !addr.IsForNet(network) {
		return nil, fmt.Errorf("address %s is not for network %s", address, network.Name)
	}
	return txscript.PayToAddrScript(addr)
}

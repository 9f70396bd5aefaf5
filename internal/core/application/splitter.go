package application

import (
	"context"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// splitter fans the fee payer's coins out into equal fee bullets, one per
// transfer.
type splitter struct {
	builder ports.TxBuilder
	chain   ports.ChainProvider
	signer  ports.Signer
}

type splitResult struct {
	Txid    string
	Bullets []domain.FeeBullet
	Fee     uint64
	Change  uint64
}

// Split spends all the given utxos into count bullets of bulletValue sats.
// The fee is computed on a probe signed by the real fee signer; the change is
// added only if it is not dust, otherwise it is left to the miners.
func (s *splitter) Split(
	ctx context.Context, utxos []domain.Utxo, changeScript []byte,
	bulletValue uint64, count int, feeRate uint64,
) (*splitResult, error) {
	total := domain.SumAmounts(utxos)
	if bullets := bulletValue * uint64(count); total < bullets {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"fee balance %d cannot cover %d bullets of %d sats", total, count, bulletValue,
		).WithMetadata(errors.FundsMetadata{Stage: "split", Available: total, Required: bullets})
	}

	req := ports.SplitTxRequest{
		Funding:      utxos,
		BulletValue:  bulletValue,
		Count:        count,
		ChangeScript: changeScript,
	}

	vsize, err := s.builder.EstimateSplitTxVSize(ctx, req, s.signer)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate split tx size: %w", err)
	}
	fee := s.builder.FeeForVSize(feeRate, vsize)

	required := bulletValue*uint64(count) + fee
	if total < required {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"fee balance %d cannot cover %d bullets of %d sats plus %d sats of fees",
			total, count, bulletValue, fee,
		).WithMetadata(errors.FundsMetadata{Stage: "split", Available: total, Required: required})
	}

	change := total - required
	if change >= domain.DustLimit {
		req.Change = change
		req.WithChange = true
	} else {
		log.Debugf("split change of %d sats is dust, absorbed in fees", change)
		fee += change
		change = 0
	}

	ptx, err := s.builder.BuildSplitTx(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build split tx: %w", err)
	}
	if err := signPacket(ctx, s.signer, ptx, ports.SignOptions{}); err != nil {
		return nil, fmt.Errorf("failed to sign split tx: %w", err)
	}

	txid, txhex, _, err := s.builder.FinalizeAndExtract(ptx)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize split tx: %w", err)
	}
	if _, err := s.chain.Broadcast(ctx, txhex); err != nil {
		return nil, fmt.Errorf("failed to broadcast split tx: %w", err)
	}

	bullets := make([]domain.FeeBullet, 0, count)
	for i := range count {
		bullets = append(bullets, domain.FeeBullet{
			Utxo: domain.Utxo{
				Outpoint: domain.Outpoint{Txid: txid, VOut: uint32(i)},
				Amount:   bulletValue,
				Script:   changeScript,
			},
			Index: i,
		})
	}

	return &splitResult{
		Txid:    txid,
		Bullets: bullets,
		Fee:     fee,
		Change:  change,
	}, nil
}

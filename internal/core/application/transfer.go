package application

import (
	"context"
	"fmt"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// transferService moves a single NFT with a guard tx followed by the send tx
// spending it, both funded by one fee bullet.
type transferService struct {
	builder   ports.TxBuilder
	covenant  ports.CovenantEngine
	chain     ports.ChainProvider
	feeSigner ports.Signer
	transfers domain.TransferRepository
	alerts    ports.Alerts
}

type transferRequest struct {
	BatchId      string
	CollectionId string
	Resolved     ResolvedTransfer
	Bullet       domain.FeeBullet
	FeeRate      uint64
	FeeAddress   string
	FeeScript    []byte
}

// Transfer runs the transfer to completion and returns the send txid. Every
// state change is written to the journal. A guard tx that reached the network
// is never rolled back if the send tx fails.
func (t *transferService) Transfer(ctx context.Context, req transferRequest) (string, error) {
	descriptor := req.Resolved.Descriptor
	record := domain.NewTransfer(req.BatchId, descriptor, req.Bullet.Outpoint)
	logger := log.WithField("local_id", record.LocalId).WithField("transfer_id", record.Id)

	t.save(ctx, record)

	txid, err := t.transfer(ctx, req, &record)
	if err != nil {
		record.Fail(err)
		t.save(ctx, record)
		if record.IsGuardStranded() {
			logger.WithField("guard_txid", record.GuardTxid).
				Warn("guard tx broadcast but send tx failed, guard postage is stranded")
			publishAlert(t.alerts, ports.GuardStranded, ports.GuardStrandedAlert{
				BatchId:   req.BatchId,
				LocalId:   record.LocalId,
				GuardTxid: record.GuardTxid,
				Amount:    domain.GuardPostage,
				Reason:    err.Error(),
			})
		}
		return "", err
	}

	logger.WithField("txid", txid).Info("nft transferred")
	return txid, nil
}

func (t *transferService) transfer(
	ctx context.Context, req transferRequest, record *domain.Transfer,
) (string, error) {
	resolved := req.Resolved
	descriptor := resolved.Descriptor

	ownerAddr, err := resolved.Signer.GetAddress(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get owner address: %w", err)
	}
	ownerPubKey, err := resolved.Signer.GetPublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get owner public key: %w", err)
	}

	traced, err := backtrace(ctx, t.chain, resolved.Asset)
	if err != nil {
		return "", fmt.Errorf("failed to backtrace nft: %w", err)
	}
	if err := t.advance(ctx, record, domain.TransferTraced); err != nil {
		return "", err
	}

	guard, err := t.covenant.CreateGuardCommitment(
		req.CollectionId,
		[]domain.AssetOutput{traced.Asset},
		[]string{descriptor.DestinationAddr},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transfer guard: %w", err)
	}

	estGuardVSize, probeGuardTx, err := t.builder.EstimateGuardTxVSize(ctx, guard, req.FeeScript)
	if err != nil {
		return "", fmt.Errorf("failed to estimate guard tx size: %w", err)
	}
	record.EstGuardVSize = estGuardVSize
	if err := t.advance(ctx, record, domain.TransferGuardEstimated); err != nil {
		return "", err
	}

	sendReq := ports.SendTxRequest{
		Assets:       []domain.TracedAsset{*traced},
		GuardTx:      probeGuardTx,
		OwnerAddr:    ownerAddr,
		OwnerPubKey:  ownerPubKey,
		ChangeScript: req.FeeScript,
	}
	estSendVSize, err := t.builder.EstimateSendTxVSize(ctx, sendReq)
	if err != nil {
		return "", fmt.Errorf("failed to estimate send tx size: %w", err)
	}
	record.EstSendVSize = estSendVSize
	if err := t.advance(ctx, record, domain.TransferSendEstimated); err != nil {
		return "", err
	}

	// one more asset postage is kept aside for an nft change output
	required := t.builder.FeeForVSize(req.FeeRate, estGuardVSize+estSendVSize) +
		domain.AssetPostage
	if req.Bullet.Amount < required {
		return "", errors.INSUFFICIENT_FUNDS.New(
			"fee bullet %s of %d sats cannot cover %d sats",
			req.Bullet.Outpoint, req.Bullet.Amount, required,
		).WithMetadata(errors.FundsMetadata{
			Stage: "transfer", Available: req.Bullet.Amount, Required: required,
		})
	}

	guardTx, err := t.builder.BuildGuardTx(ctx, ports.GuardTxRequest{
		Guard:          guard,
		Funding:        req.Bullet.Utxo,
		ChangeScript:   req.FeeScript,
		FeeRate:        req.FeeRate,
		EstimatedVSize: estGuardVSize,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build guard tx: %w", err)
	}
	record.GuardTxid = guardTx.Guard.Binding.Txid
	if err := t.advance(ctx, record, domain.TransferGuardBuilt); err != nil {
		return "", err
	}

	if err := signPacket(ctx, t.feeSigner, guardTx.Packet, ports.SignOptions{
		ToSignInputs: []ports.ToSignInput{{Index: 0, Address: req.FeeAddress}},
	}); err != nil {
		return "", fmt.Errorf("failed to sign guard tx: %w", err)
	}
	_, guardTxHex, _, err := t.builder.FinalizeAndExtract(guardTx.Packet)
	if err != nil {
		return "", fmt.Errorf("failed to finalize guard tx: %w", err)
	}
	if err := t.advance(ctx, record, domain.TransferGuardSigned); err != nil {
		return "", err
	}

	sendReq.GuardTx = guardTx
	sendReq.FeeRate = req.FeeRate
	sendReq.EstimatedVSize = estSendVSize
	sendPtx, err := t.builder.BuildSendTx(ctx, sendReq)
	if err != nil {
		return "", fmt.Errorf("failed to build send tx: %w", err)
	}
	if err := t.advance(ctx, record, domain.TransferSendBuilt); err != nil {
		return "", err
	}

	assetInputs := len(sendReq.Assets)
	ownerInputs := make([]ports.ToSignInput, 0, assetInputs)
	for i := range assetInputs {
		ownerInputs = append(ownerInputs, ports.ToSignInput{
			Index:              i,
			PublicKey:          ownerPubKey,
			DisableTweakSigner: resolved.Match != domain.MatchedTaproot,
		})
	}
	if err := signPacket(ctx, resolved.Signer, sendPtx, ports.SignOptions{
		ToSignInputs: ownerInputs,
	}); err != nil {
		return "", fmt.Errorf("failed to sign send tx with owner key: %w", err)
	}
	if err := t.advance(ctx, record, domain.TransferSendSignedOwner); err != nil {
		return "", err
	}

	// inputs: assets, guard, funding
	fundingIndex := assetInputs + 1
	if err := signPacket(ctx, t.feeSigner, sendPtx, ports.SignOptions{
		ToSignInputs: []ports.ToSignInput{{Index: fundingIndex, Address: req.FeeAddress}},
	}); err != nil {
		return "", fmt.Errorf("failed to sign send tx with fee key: %w", err)
	}
	if err := t.advance(ctx, record, domain.TransferSendSignedFeePayer); err != nil {
		return "", err
	}

	sendTxid, sendTxHex, _, err := t.builder.FinalizeAndExtract(sendPtx)
	if err != nil {
		return "", fmt.Errorf("failed to finalize send tx: %w", err)
	}
	record.SendTxid = sendTxid
	if err := t.advance(ctx, record, domain.TransferFinalized); err != nil {
		return "", err
	}

	if _, err := t.chain.Broadcast(ctx, guardTxHex); err != nil {
		return "", fmt.Errorf("failed to broadcast guard tx: %w", err)
	}
	if err := t.advance(ctx, record, domain.TransferGuardBroadcast); err != nil {
		return "", err
	}

	if _, err := t.chain.Broadcast(ctx, sendTxHex); err != nil {
		return "", fmt.Errorf("failed to broadcast send tx: %w", err)
	}
	if err := t.advance(ctx, record, domain.TransferSendBroadcast); err != nil {
		return "", err
	}

	return sendTxid, nil
}

func (t *transferService) advance(
	ctx context.Context, record *domain.Transfer, state domain.TransferState,
) error {
	if err := record.Advance(state); err != nil {
		return err
	}
	log.WithField("local_id", record.LocalId).Debugf("transfer %s", state)
	t.save(ctx, *record)
	return nil
}

// save journals the record. The journal is for diagnostics only, a failed
// write never interrupts the transfer.
func (t *transferService) save(ctx context.Context, record domain.Transfer) {
	if t.transfers == nil {
		return
	}
	if err := t.transfers.AddOrUpdateTransfer(ctx, record); err != nil {
		log.WithError(err).WithField("transfer_id", record.Id).Warn("failed to journal transfer")
	}
}

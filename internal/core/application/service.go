package application

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type service struct {
	// services
	tracker     ports.Tracker
	utxos       ports.UtxoProvider
	chain       ports.ChainProvider
	watcher     ports.ConfirmationWatcher
	builder     ports.TxBuilder
	feeSigner   ports.Signer
	newSigner   ports.SignerFactory
	repoManager ports.RepoManager
	alerts      ports.Alerts
	splitter    *splitter
	transfers   *transferService

	// config
	cfg Config

	reportMtx *sync.Mutex
}

func NewService(
	cfg Config,
	tracker ports.Tracker,
	utxos ports.UtxoProvider,
	chain ports.ChainProvider,
	watcher ports.ConfirmationWatcher,
	builder ports.TxBuilder,
	covenant ports.CovenantEngine,
	feeSigner ports.Signer,
	newSigner ports.SignerFactory,
	repoManager ports.RepoManager,
	alerts ports.Alerts,
) (Service, error) {
	if cfg.CollectionId == "" {
		return nil, fmt.Errorf("missing collection id")
	}
	if cfg.FeeRate == 0 {
		return nil, fmt.Errorf("fee rate must be positive")
	}
	if cfg.Network == nil {
		return nil, fmt.Errorf("missing network")
	}
	if cfg.Reporter == nil {
		cfg.Reporter = io.Discard
	}

	var transferRepo domain.TransferRepository
	if repoManager != nil {
		transferRepo = repoManager.Transfers()
	}

	return &service{
		tracker:     tracker,
		utxos:       utxos,
		chain:       chain,
		watcher:     watcher,
		builder:     builder,
		feeSigner:   feeSigner,
		newSigner:   newSigner,
		repoManager: repoManager,
		alerts:      alerts,
		splitter: &splitter{
			builder: builder,
			chain:   chain,
			signer:  feeSigner,
		},
		transfers: &transferService{
			builder:   builder,
			covenant:  covenant,
			chain:     chain,
			feeSigner: feeSigner,
			transfers: transferRepo,
			alerts:    alerts,
		},
		cfg:       cfg,
		reportMtx: &sync.Mutex{},
	}, nil
}

func (s *service) Run(ctx context.Context) (*BatchReport, error) {
	collectionId := s.cfg.CollectionId

	collection, err := s.tracker.GetCollectionInfo(ctx, collectionId)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}
	if collection == nil {
		errors.COLLECTION_NOT_FOUND.New("collection %s not found", collectionId).
			WithMetadata(errors.CollectionMetadata{CollectionId: collectionId}).
			Log().Warn("batch aborted")
		s.report("exit: collection %s not found", collectionId)
		return nil, nil
	}
	s.report("collection: %s", collectionId)
	s.report("  name: %s", collection.Name)
	s.report("  symbol: %s", collection.Symbol)
	s.report("  minterAddr: %s", collection.MinterAddr)

	s.reportStrandedGuards(ctx)

	feeAddress, err := s.feeSigner.GetAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get fee address: %w", err)
	}
	feeScript, err := addressScript(feeAddress, s.cfg.Network)
	if err != nil {
		return nil, err
	}
	s.report("fee address: %s", feeAddress)

	feeUtxos, err := s.utxos.GetUtxos(ctx, feeAddress, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get fee utxos: %w", err)
	}
	feeBalance := domain.SumAmounts(feeUtxos)
	s.report("fee utxos: %d", len(feeUtxos))
	s.report("fee balance: %d", feeBalance)
	if feeBalance == 0 {
		s.report("exit: insufficient fee balance")
		return nil, nil
	}

	descriptors, invalidLines, err := loadSourceFile(s.cfg.SourceFile)
	if err != nil {
		return nil, err
	}
	s.report("source lines: %d", len(descriptors)+len(invalidLines))

	batch := domain.NewBatch(collectionId, feeAddress, s.cfg.FeeRate)
	report := &BatchReport{
		BatchId:   batch.Id,
		Results:   make([]TransferResult, 0, len(descriptors)),
		StartedAt: time.Now(),
	}
	logger := log.WithField("batch_id", batch.Id)

	for _, lineErr := range invalidLines {
		lineErr.Log().Warn("source line dropped")
		s.report("  line %s: [failed] %s", lineErr.Metadata()["line"], lineErr)
	}

	resolved, unresolved := s.resolveDescriptors(ctx, collectionId, descriptors)
	report.Results = append(report.Results, unresolved...)
	for _, res := range unresolved {
		s.report("%s", res)
	}
	s.report("nft utxos loaded: %d", len(resolved))
	if len(resolved) == 0 {
		s.report("exit: no nft utxos loaded")
		return report, nil
	}

	bulletValue := s.cfg.bulletValue()
	count := len(resolved)
	batch.BulletValue = bulletValue
	batch.BulletCount = count
	s.saveBatch(ctx, batch)

	fundingUtxos, err := s.utxos.GetUtxos(ctx, feeAddress, bulletValue*uint64(count))
	if err != nil {
		s.abortBatch(ctx, batch)
		return report, fmt.Errorf("failed to get fee utxos: %w", err)
	}

	split, err := s.splitter.Split(
		ctx, fundingUtxos, feeScript, bulletValue, count, s.cfg.FeeRate,
	)
	if err != nil {
		s.abortBatch(ctx, batch)
		return report, fmt.Errorf("failed to split fees: %w", err)
	}
	report.SplitTxid = split.Txid
	batch.SplitTxid = split.Txid
	batch.SetStatus(domain.BatchSplitBroadcast)
	s.saveBatch(ctx, batch)
	s.report("split fees: %s", split.Txid)
	logger.WithField("txid", split.Txid).Infof(
		"split %d bullets of %d sats, fee %d sats, change %d sats",
		count, bulletValue, split.Fee, split.Change,
	)

	s.report("  waiting for confirmation...")
	if err := s.watcher.WaitForConfirmation(ctx, split.Txid); err != nil {
		s.abortBatch(ctx, batch)
		return report, fmt.Errorf("failed to wait for split tx confirmation: %w", err)
	}

	// once funded, launched transfers run to completion or failure
	transferCtx := context.WithoutCancel(ctx)
	batch.SetStatus(domain.BatchFunded)
	s.saveBatch(transferCtx, batch)

	s.report("fees are confirmed and now transfer:")
	results := s.runTransfers(
		transferCtx, batch, resolved, split.Bullets, feeAddress, feeScript,
	)
	report.Results = append(report.Results, results...)
	report.EndedAt = time.Now()

	batch.Succeeded = len(report.Succeeded())
	batch.Failed = len(report.Failed())
	batch.SetStatus(domain.BatchCompleted)
	s.saveBatch(transferCtx, batch)
	logger.Infof(
		"batch completed: %d transferred, %d failed", batch.Succeeded, batch.Failed,
	)

	s.sendBatchAlert(collectionId, report)
	return report, nil
}

// runTransfers runs one transfer per resolved descriptor concurrently, the
// i-th one funded by the i-th bullet. A failed transfer does not affect the
// others.
func (s *service) runTransfers(
	ctx context.Context, batch domain.Batch, resolved []ResolvedTransfer,
	bullets []domain.FeeBullet, feeAddress string, feeScript []byte,
) []TransferResult {
	results := make([]TransferResult, len(resolved))

	wg := &sync.WaitGroup{}
	wg.Add(len(resolved))
	for i, r := range resolved {
		go func(i int, r ResolvedTransfer) {
			defer wg.Done()

			txid, err := s.transfers.Transfer(ctx, transferRequest{
				BatchId:      batch.Id,
				CollectionId: batch.CollectionId,
				Resolved:     r,
				Bullet:       bullets[i],
				FeeRate:      s.cfg.FeeRate,
				FeeAddress:   feeAddress,
				FeeScript:    feeScript,
			})
			result := TransferResult{
				Line:    r.Descriptor.Line,
				LocalId: r.Descriptor.LocalId.String(),
				Txid:    txid,
				Err:     err,
			}
			if err != nil {
				log.WithError(err).WithField("local_id", result.LocalId).
					Warn("failed to transfer nft")
			}
			results[i] = result
			s.report("%s", result)
		}(i, r)
	}
	wg.Wait()

	return results
}

// reportStrandedGuards lists the guards earlier batches broadcast without the
// matching send tx. Their postage stays locked in the guard covenant.
func (s *service) reportStrandedGuards(ctx context.Context) {
	if s.repoManager == nil {
		return
	}

	batches, err := s.repoManager.Batches().GetBatches(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to read batch journal")
		return
	}

	stranded := make([]domain.Transfer, 0)
	for _, batch := range batches {
		transfers, err := s.repoManager.Transfers().GetTransfersByBatch(ctx, batch.Id)
		if err != nil {
			log.WithError(err).WithField("batch_id", batch.Id).
				Warn("failed to read transfer journal")
			continue
		}
		for _, t := range transfers {
			if t.IsGuardStranded() {
				stranded = append(stranded, t)
			}
		}
	}
	if len(stranded) == 0 {
		return
	}

	s.report("stranded guards: %d", len(stranded))
	for _, t := range stranded {
		s.report("  %s: guard %s (batch %s)", t.LocalId, t.GuardTxid, t.BatchId)
		publishAlert(s.alerts, ports.GuardStranded, ports.GuardStrandedAlert{
			BatchId:   t.BatchId,
			LocalId:   t.LocalId,
			GuardTxid: t.GuardTxid,
			Amount:    domain.GuardPostage,
			Reason:    t.FailureReason,
		})
	}
}

func (s *service) abortBatch(ctx context.Context, batch domain.Batch) {
	batch.SetStatus(domain.BatchAborted)
	s.saveBatch(context.WithoutCancel(ctx), batch)
}

func (s *service) saveBatch(ctx context.Context, batch domain.Batch) {
	if s.repoManager == nil {
		return
	}
	if err := s.repoManager.Batches().AddOrUpdateBatch(ctx, batch); err != nil {
		log.WithError(err).WithField("batch_id", batch.Id).Warn("failed to journal batch")
	}
}

func (s *service) report(format string, args ...any) {
	s.reportMtx.Lock()
	defer s.reportMtx.Unlock()

	// nolint:all
	fmt.Fprintf(s.cfg.Reporter, format+"\n", args...)
}

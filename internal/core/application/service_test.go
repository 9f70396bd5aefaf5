package application

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/internal/infrastructure/covenant/tapscript"
	"github.com/arkade-os/cat721-send/internal/infrastructure/signer"
	txbuilder "github.com/arkade-os/cat721-send/internal/infrastructure/tx-builder/cat721"
	"github.com/arkade-os/cat721-send/pkg/errors"
	"github.com/arkade-os/cat721-send/pkg/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testCollectionId = "c0ffee_0"
	testFeeRate      = 1
)

var testNetwork = &chaincfg.RegressionNetParams

type mockTracker struct {
	mock.Mock
}

func (m *mockTracker) GetCollectionInfo(
	ctx context.Context, collectionId string,
) (*domain.Collection, error) {
	args := m.Called(ctx, collectionId)
	var res *domain.Collection
	if a := args.Get(0); a != nil {
		res = a.(*domain.Collection)
	}
	return res, args.Error(1)
}

func (m *mockTracker) GetNftUtxo(
	ctx context.Context, collectionId string, localId *big.Int,
) (*domain.AssetOutput, error) {
	args := m.Called(ctx, collectionId, localId.String())
	var res *domain.AssetOutput
	if a := args.Get(0); a != nil {
		res = a.(*domain.AssetOutput)
	}
	return res, args.Error(1)
}

type mockUtxoProvider struct {
	mock.Mock
}

func (m *mockUtxoProvider) GetUtxos(
	ctx context.Context, address string, minTotal uint64,
) ([]domain.Utxo, error) {
	args := m.Called(ctx, address, minTotal)
	var res []domain.Utxo
	if a := args.Get(0); a != nil {
		res = a.([]domain.Utxo)
	}
	return res, args.Error(1)
}

type mockWatcher struct {
	mock.Mock
}

func (m *mockWatcher) WaitForConfirmation(ctx context.Context, txid string) error {
	args := m.Called(ctx, txid)
	return args.Error(0)
}

type mockAlerts struct {
	mock.Mock
}

func (m *mockAlerts) Publish(ctx context.Context, topic ports.Topic, message any) error {
	args := m.Called(ctx, topic, message)
	return args.Error(0)
}

// fakeChain serves the txs it knows and records every broadcast. A broadcast
// tx spending one of the rejected outpoints fails like a double spend.
type fakeChain struct {
	mu         sync.Mutex
	txs        map[string]string
	broadcasts []*wire.MsgTx
	rejected   map[wire.OutPoint]bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:      make(map[string]string),
		rejected: make(map[wire.OutPoint]bool),
	}
}

func (c *fakeChain) addTx(t *testing.T, tx *wire.MsgTx) {
	txhex, err := txutils.TxToHex(tx)
	require.NoError(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[tx.TxHash().String()] = txhex
}

func (c *fakeChain) reject(outpoint domain.Outpoint) {
	hash, _ := chainhash.NewHashFromStr(outpoint.Txid)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected[*wire.NewOutPoint(hash, outpoint.VOut)] = true
}

func (c *fakeChain) Broadcast(ctx context.Context, txhex string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tx, err := txutils.TxFromHex(txhex)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, in := range tx.TxIn {
		if c.rejected[in.PreviousOutPoint] {
			return "", errors.NETWORK_ERROR.New("bad-txns-inputs-missingorspent").
				WithMetadata(errors.NetworkMetadata{Endpoint: "/tx", Status: 400})
		}
	}
	c.broadcasts = append(c.broadcasts, tx)
	c.txs[tx.TxHash().String()] = txhex
	return tx.TxHash().String(), nil
}

func (c *fakeChain) GetConfirmations(_ context.Context, _ string) (int64, error) {
	return 1, nil
}

func (c *fakeChain) GetTxHex(_ context.Context, txid string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txhex, ok := c.txs[txid]
	if !ok {
		return "", errors.NETWORK_ERROR.New("tx %s not found", txid).
			WithMetadata(errors.NetworkMetadata{Endpoint: "/tx/" + txid + "/hex", Status: 404})
	}
	return txhex, nil
}

func (c *fakeChain) broadcasted() []*wire.MsgTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*wire.MsgTx{}, c.broadcasts...)
}

type testKey struct {
	wif    string
	signer ports.Signer
	addr   string
	pubkey string
}

func newTestKey(t *testing.T, encoding domain.AddressMatch) testKey {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(key, testNetwork, true)
	require.NoError(t, err)

	s, err := signer.NewFactory(testNetwork)(wif.String(), encoding)
	require.NoError(t, err)
	addr, err := s.GetAddress(context.Background())
	require.NoError(t, err)
	pubkey, err := s.GetPublicKey(context.Background())
	require.NoError(t, err)

	return testKey{wif.String(), s, addr, pubkey}
}

type fixture struct {
	engine   ports.CovenantEngine
	builder  ports.TxBuilder
	tracker  *mockTracker
	utxos    *mockUtxoProvider
	chain    *fakeChain
	watcher  *mockWatcher
	alerts   *mockAlerts
	repo     *memRepoManager
	feeKey   testKey
	dest     testKey
	feeUtxos []domain.Utxo
	sources  []string
	output   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	engine := tapscript.NewEngine(testNetwork)
	f := &fixture{
		engine:  engine,
		builder: txbuilder.NewTxBuilder(engine, testNetwork),
		tracker: &mockTracker{},
		utxos:   &mockUtxoProvider{},
		chain:   newFakeChain(),
		watcher: &mockWatcher{},
		alerts:  &mockAlerts{},
		repo:    newMemRepoManager(),
		feeKey:  newTestKey(t, domain.MatchedTaproot),
		dest:    newTestKey(t, domain.MatchedTaproot),
		output:  &bytes.Buffer{},
	}

	f.tracker.On("GetCollectionInfo", mock.Anything, testCollectionId).Return(&domain.Collection{
		Id:         testCollectionId,
		MinterAddr: f.dest.addr,
		Name:       "cats",
		Symbol:     "CAT",
	}, nil)
	f.alerts.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return f
}

func (f *fixture) fundFeeWallet(t *testing.T, amounts ...uint64) {
	script, err := addressScript(f.feeKey.addr, testNetwork)
	require.NoError(t, err)
	for i, amount := range amounts {
		f.feeUtxos = append(f.feeUtxos, domain.Utxo{
			Outpoint:      domain.Outpoint{Txid: txidOf(fmt.Sprintf("fee-%d", i)), VOut: 0},
			Amount:        amount,
			Script:        script,
			Confirmations: 1,
		})
	}
	f.utxos.On("GetUtxos", mock.Anything, f.feeKey.addr, mock.Anything).Return(f.feeUtxos, nil)
}

// addNft puts on chain the mint of an nft owned by owner and registers its
// output with the tracker. It returns the source line moving it to dest.
func (f *fixture) addNft(t *testing.T, owner testKey, localId int64) domain.AssetOutput {
	id := big.NewInt(localId)
	script, err := f.engine.AssetScript(testCollectionId, id, owner.addr)
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(2)
	fundingTx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{byte(localId)}, 0), nil, nil,
	))
	fundingTx.AddTxOut(wire.NewTxOut(10_000, []byte{0x51}))
	f.chain.addTx(t, fundingTx)

	fundingHash := fundingTx.TxHash()
	mintTx := wire.NewMsgTx(2)
	mintTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&fundingHash, 0), nil, nil))
	mintTx.AddTxOut(wire.NewTxOut(0, []byte{0x6a}))
	mintTx.AddTxOut(wire.NewTxOut(domain.AssetPostage, script))
	f.chain.addTx(t, mintTx)

	asset := domain.AssetOutput{
		Utxo: domain.Utxo{
			Outpoint: domain.Outpoint{Txid: mintTx.TxHash().String(), VOut: 1},
			Amount:   domain.AssetPostage,
			Script:   script,
		},
		CollectionId: testCollectionId,
		LocalId:      id,
		OwnerAddr:    owner.addr,
	}
	f.tracker.On("GetNftUtxo", mock.Anything, testCollectionId, id.String()).
		Return(&asset, nil)
	f.sources = append(f.sources, strings.Join(
		[]string{owner.addr, owner.wif, id.String(), f.dest.addr}, ",",
	))
	return asset
}

func (f *fixture) addMissingNft(t *testing.T, owner testKey, localId int64) {
	id := big.NewInt(localId)
	f.tracker.On("GetNftUtxo", mock.Anything, testCollectionId, id.String()).
		Return(nil, nil)
	f.sources = append(f.sources, strings.Join(
		[]string{owner.addr, owner.wif, id.String(), f.dest.addr}, ",",
	))
}

func (f *fixture) service(t *testing.T, watcher ports.ConfirmationWatcher) Service {
	sourceFile := filepath.Join(t.TempDir(), "sources.csv")
	content := strings.Join(f.sources, "\n") + "\n\n"
	require.NoError(t, os.WriteFile(sourceFile, []byte(content), 0600))

	if watcher == nil {
		watcher = f.watcher
	}
	svc, err := NewService(
		Config{
			CollectionId: testCollectionId,
			SourceFile:   sourceFile,
			FeeRate:      testFeeRate,
			Network:      testNetwork,
			Reporter:     f.output,
		},
		f.tracker, f.utxos, f.chain, watcher, f.builder, f.engine,
		f.feeKey.signer, signer.NewFactory(testNetwork), f.repo, f.alerts,
	)
	require.NoError(t, err)
	return svc
}

func (f *fixture) batch(t *testing.T, id string) domain.Batch {
	batches, err := f.repo.Batches().GetBatches(context.Background())
	require.NoError(t, err)
	for _, b := range batches {
		if b.Id == id {
			return b
		}
	}
	t.Fatalf("batch %s not journaled", id)
	return domain.Batch{}
}

// cancelingWatcher confirms right away after cancelling the batch context.
type cancelingWatcher struct {
	cancel context.CancelFunc
}

func (w cancelingWatcher) WaitForConfirmation(context.Context, string) error {
	w.cancel()
	return nil
}

// blockingWatcher holds the batch until released.
type blockingWatcher struct {
	called  chan string
	release chan struct{}
}

func (w *blockingWatcher) WaitForConfirmation(ctx context.Context, txid string) error {
	w.called <- txid
	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("transfers every nft once the split tx is confirmed", func(t *testing.T) {
		f := newFixture(t)
		f.fundFeeWallet(t, 6_000, 7_000)
		assets := []domain.AssetOutput{
			f.addNft(t, newTestKey(t, domain.MatchedTaproot), 1),
			f.addNft(t, newTestKey(t, domain.MatchedWitnessPubKeyHash), 2),
			f.addNft(t, newTestKey(t, domain.MatchedTaproot), 3),
		}

		watcher := &blockingWatcher{called: make(chan string, 1), release: make(chan struct{})}
		svc := f.service(t, watcher)

		type runResult struct {
			report *BatchReport
			err    error
		}
		done := make(chan runResult, 1)
		go func() {
			report, err := svc.Run(ctx)
			done <- runResult{report, err}
		}()

		var splitTxid string
		select {
		case splitTxid = <-watcher.called:
		case <-time.After(10 * time.Second):
			t.Fatal("batch never waited for the split tx confirmation")
		}

		// nothing but the split tx goes out before the confirmation
		time.Sleep(100 * time.Millisecond)
		broadcasted := f.chain.broadcasted()
		require.Len(t, broadcasted, 1)
		splitTx := broadcasted[0]
		require.Equal(t, splitTxid, splitTx.TxHash().String())
		require.GreaterOrEqual(t, len(splitTx.TxOut), len(assets))
		require.LessOrEqual(t, len(splitTx.TxOut), len(assets)+1)
		for i := range assets {
			require.Equal(t, int64(DefaultBulletVBytes*testFeeRate), splitTx.TxOut[i].Value)
		}

		close(watcher.release)
		var res runResult
		select {
		case res = <-done:
		case <-time.After(30 * time.Second):
			t.Fatal("batch did not complete")
		}
		require.NoError(t, res.err)
		require.NotNil(t, res.report)
		require.Equal(t, splitTxid, res.report.SplitTxid)
		require.Len(t, res.report.Succeeded(), len(assets))
		require.Empty(t, res.report.Failed())

		// split + guard and send tx per nft
		broadcasted = f.chain.broadcasted()
		require.Len(t, broadcasted, 1+2*len(assets))

		// every bullet funds exactly one guard tx
		spentBullets := make(map[uint32]int)
		for _, tx := range broadcasted[1:] {
			for _, in := range tx.TxIn {
				if in.PreviousOutPoint.Hash.String() == splitTxid {
					spentBullets[in.PreviousOutPoint.Index]++
				}
			}
		}
		require.Len(t, spentBullets, len(assets))
		for _, count := range spentBullets {
			require.Equal(t, 1, count)
		}

		// every nft input is spent by a send tx
		for _, asset := range assets {
			require.True(t, isSpent(broadcasted, asset.Outpoint), "nft %s not spent", asset.LocalId)
		}

		batch := f.batch(t, res.report.BatchId)
		require.Equal(t, domain.BatchCompleted, batch.Status)
		require.Equal(t, len(assets), batch.BulletCount)
		require.Equal(t, 3, batch.Succeeded)

		transfers, err := f.repo.Transfers().GetTransfersByBatch(ctx, res.report.BatchId)
		require.NoError(t, err)
		require.Len(t, transfers, len(assets))
		for _, tr := range transfers {
			require.Equal(t, domain.TransferSendBroadcast, tr.State)
			require.NotEmpty(t, tr.GuardTxid)
			require.NotEmpty(t, tr.SendTxid)
			require.Positive(t, tr.EstGuardVSize)
			require.Positive(t, tr.EstSendVSize)
		}

		output := f.output.String()
		require.Contains(t, output, "collection: "+testCollectionId)
		require.Contains(t, output, "nft utxos loaded: 3")
		require.Contains(t, output, "split fees: "+splitTxid)
		require.Contains(t, output, "  waiting for confirmation...")
		require.Contains(t, output, "fees are confirmed and now transfer:")
		for _, res := range res.report.Succeeded() {
			require.Contains(t, output, fmt.Sprintf("  %s: %s", res.LocalId, res.Txid))
		}

		f.alerts.AssertCalled(t, "Publish", mock.Anything, ports.BatchCompleted, mock.Anything)
	})

	t.Run("missing nft does not affect the others", func(t *testing.T) {
		f := newFixture(t)
		f.fundFeeWallet(t, 10_000)
		f.addNft(t, newTestKey(t, domain.MatchedTaproot), 1)
		f.addMissingNft(t, newTestKey(t, domain.MatchedTaproot), 2)
		f.addNft(t, newTestKey(t, domain.MatchedTaproot), 3)
		f.watcher.On("WaitForConfirmation", mock.Anything, mock.Anything).Return(nil)

		report, err := f.service(t, nil).Run(ctx)
		require.NoError(t, err)
		require.NotNil(t, report)

		succeeded := report.Succeeded()
		require.Len(t, succeeded, 2)
		failed := report.Failed()
		require.Len(t, failed, 1)
		require.Equal(t, "2", failed[0].LocalId)
		require.True(t, errors.ASSET_NOT_FOUND.Is(failed[0].Err))

		// bullets are made for resolved descriptors only
		splitTx := f.chain.broadcasted()[0]
		bullets := 0
		for _, out := range splitTx.TxOut {
			if out.Value == DefaultBulletVBytes*testFeeRate {
				bullets++
			}
		}
		require.Equal(t, 2, bullets)
		require.Contains(t, f.output.String(), "  2: [failed]")
	})

	t.Run("re-run against spent nfts fails", func(t *testing.T) {
		f := newFixture(t)
		f.fundFeeWallet(t, 10_000)
		spent := f.addNft(t, newTestKey(t, domain.MatchedTaproot), 1)
		f.addNft(t, newTestKey(t, domain.MatchedTaproot), 2)
		f.chain.reject(spent.Outpoint)
		f.watcher.On("WaitForConfirmation", mock.Anything, mock.Anything).Return(nil)

		report, err := f.service(t, nil).Run(ctx)
		require.NoError(t, err)
		require.Len(t, report.Succeeded(), 1)
		failed := report.Failed()
		require.Len(t, failed, 1)
		require.Equal(t, "1", failed[0].LocalId)
		require.True(t, errors.NETWORK_ERROR.Is(failed[0].Err))

		// the guard tx went out, its postage is stranded
		transfers, err := f.repo.Transfers().GetTransfersByBatch(ctx, report.BatchId)
		require.NoError(t, err)
		var stranded *domain.Transfer
		for i := range transfers {
			if transfers[i].LocalId == "1" {
				stranded = &transfers[i]
			}
		}
		require.NotNil(t, stranded)
		require.True(t, stranded.IsGuardStranded())
		f.alerts.AssertCalled(t, "Publish", mock.Anything, ports.GuardStranded, mock.Anything)
	})

	t.Run("launched transfers outlive the caller context", func(t *testing.T) {
		f := newFixture(t)
		f.fundFeeWallet(t, 10_000)
		f.addNft(t, newTestKey(t, domain.MatchedTaproot), 1)
		f.addNft(t, newTestKey(t, domain.MatchedWitnessPubKeyHash), 2)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		report, err := f.service(t, cancelingWatcher{cancel}).Run(runCtx)
		require.NoError(t, err)
		require.Error(t, runCtx.Err())

		require.Len(t, report.Succeeded(), 2)
		require.Empty(t, report.Failed())
		require.Len(t, f.chain.broadcasted(), 5)
		require.Equal(t, domain.BatchCompleted, f.batch(t, report.BatchId).Status)
	})

	t.Run("reports stranded guards of earlier batches", func(t *testing.T) {
		f := newFixture(t)
		f.fundFeeWallet(t)
		owner := newTestKey(t, domain.MatchedTaproot)
		f.addNft(t, owner, 1)

		earlier := domain.NewBatch(testCollectionId, f.feeKey.addr, testFeeRate)
		require.NoError(t, f.repo.Batches().AddOrUpdateBatch(ctx, earlier))

		descriptor := domain.TransferDescriptor{
			Line:            1,
			SourceAddr:      owner.addr,
			LocalId:         big.NewInt(9),
			DestinationAddr: f.dest.addr,
		}
		stranded := domain.NewTransfer(
			earlier.Id, descriptor, domain.Outpoint{Txid: txidOf("old-split"), VOut: 0},
		)
		for state := domain.TransferTraced; state <= domain.TransferGuardBroadcast; state++ {
			require.NoError(t, stranded.Advance(state))
		}
		stranded.GuardTxid = txidOf("old-guard")
		stranded.Fail(fmt.Errorf("bad-txns-inputs-missingorspent"))
		require.NoError(t, f.repo.Transfers().AddOrUpdateTransfer(ctx, stranded))

		// failed before any broadcast, nothing is locked
		descriptor.LocalId = big.NewInt(10)
		failed := domain.NewTransfer(
			earlier.Id, descriptor, domain.Outpoint{Txid: txidOf("old-split"), VOut: 1},
		)
		require.NoError(t, failed.Advance(domain.TransferTraced))
		failed.Fail(fmt.Errorf("nft spent"))
		require.NoError(t, f.repo.Transfers().AddOrUpdateTransfer(ctx, failed))

		report, err := f.service(t, nil).Run(ctx)
		require.NoError(t, err)
		require.Nil(t, report)

		output := f.output.String()
		require.Contains(t, output, "stranded guards: 1")
		require.Contains(t, output, fmt.Sprintf(
			"  9: guard %s (batch %s)", stranded.GuardTxid, earlier.Id,
		))
		require.NotContains(t, output, "  10: guard")

		f.alerts.AssertNumberOfCalls(t, "Publish", 1)
		f.alerts.AssertCalled(
			t, "Publish", mock.Anything, ports.GuardStranded,
			mock.MatchedBy(func(alert ports.GuardStrandedAlert) bool {
				return alert.GuardTxid == stranded.GuardTxid && alert.LocalId == "9" &&
					alert.BatchId == earlier.Id && alert.Amount == domain.GuardPostage
			}),
		)
	})

	t.Run("stops early", func(t *testing.T) {
		t.Run("collection not found", func(t *testing.T) {
			f := newFixture(t)
			f.tracker = &mockTracker{}
			f.tracker.On("GetCollectionInfo", mock.Anything, testCollectionId).Return(nil, nil)

			report, err := f.service(t, nil).Run(ctx)
			require.NoError(t, err)
			require.Nil(t, report)
			require.Contains(t, f.output.String(), "exit: collection "+testCollectionId+" not found")
			require.Empty(t, f.chain.broadcasted())
		})

		t.Run("empty fee wallet", func(t *testing.T) {
			f := newFixture(t)
			f.fundFeeWallet(t)
			f.addNft(t, newTestKey(t, domain.MatchedTaproot), 1)

			report, err := f.service(t, nil).Run(ctx)
			require.NoError(t, err)
			require.Nil(t, report)
			require.Contains(t, f.output.String(), "exit: insufficient fee balance")
			require.Empty(t, f.chain.broadcasted())
		})

		t.Run("no nft loaded", func(t *testing.T) {
			f := newFixture(t)
			f.fundFeeWallet(t, 10_000)
			f.addMissingNft(t, newTestKey(t, domain.MatchedTaproot), 1)

			report, err := f.service(t, nil).Run(ctx)
			require.NoError(t, err)
			require.NotNil(t, report)
			require.Len(t, report.Failed(), 1)
			require.Contains(t, f.output.String(), "exit: no nft utxos loaded")
			require.Empty(t, f.chain.broadcasted())
		})
	})

	t.Run("aborts when the split cannot be funded", func(t *testing.T) {
		f := newFixture(t)
		f.fundFeeWallet(t, 3_000)
		f.addNft(t, newTestKey(t, domain.MatchedTaproot), 1)
		f.addNft(t, newTestKey(t, domain.MatchedTaproot), 2)

		report, err := f.service(t, nil).Run(ctx)
		require.Error(t, err)
		require.True(t, errors.INSUFFICIENT_FUNDS.Is(err))
		require.NotNil(t, report)
		require.Empty(t, f.chain.broadcasted())
		f.watcher.AssertNotCalled(t, "WaitForConfirmation", mock.Anything, mock.Anything)

		require.Equal(t, domain.BatchAborted, f.batch(t, report.BatchId).Status)
	})
}

func isSpent(txs []*wire.MsgTx, outpoint domain.Outpoint) bool {
	for _, tx := range txs {
		for _, in := range tx.TxIn {
			if in.PreviousOutPoint.Hash.String() == outpoint.Txid &&
				in.PreviousOutPoint.Index == outpoint.VOut {
				return true
			}
		}
	}
	return false
}

func txidOf(seed string) string {
	return chainhash.HashH([]byte(seed)).String()
}

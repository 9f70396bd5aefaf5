package application

import (
	"context"
	"testing"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/infrastructure/covenant/tapscript"
	txbuilder "github.com/arkade-os/cat721-send/internal/infrastructure/tx-builder/cat721"
	"github.com/arkade-os/cat721-send/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	ctx := context.Background()
	builder := txbuilder.NewTxBuilder(tapscript.NewEngine(testNetwork), testNetwork)

	for _, encoding := range []domain.AddressMatch{
		domain.MatchedTaproot, domain.MatchedWitnessPubKeyHash,
	} {
		t.Run(encoding.String(), func(t *testing.T) {
			feeKey := newTestKey(t, encoding)
			script, err := addressScript(feeKey.addr, testNetwork)
			require.NoError(t, err)

			fund := func(amounts ...uint64) []domain.Utxo {
				utxos := make([]domain.Utxo, 0, len(amounts))
				for i, amount := range amounts {
					utxos = append(utxos, domain.Utxo{
						Outpoint: domain.Outpoint{Txid: txidOf(feeKey.addr + string(rune(i))), VOut: 1},
						Amount:   amount,
						Script:   script,
					})
				}
				return utxos
			}

			t.Run("valid", func(t *testing.T) {
				tests := []struct {
					name       string
					funding    []uint64
					count      int
					feeRate    uint64
					withChange bool
				}{
					{"with change", []uint64{20_000, 15_000}, 3, 2, true},
					{"single bullet", []uint64{50_000}, 1, 5, true},
					{"dust change absorbed", []uint64{9_000}, 3, 1, false},
				}
				for _, tt := range tests {
					t.Run(tt.name, func(t *testing.T) {
						chain := newFakeChain()
						s := &splitter{builder: builder, chain: chain, signer: feeKey.signer}
						utxos := fund(tt.funding...)
						bulletValue := DefaultBulletVBytes * tt.feeRate
						if !tt.withChange {
							// leave room for the fee only
							bulletValue = 2_900
						}

						res, err := s.Split(ctx, utxos, script, bulletValue, tt.count, tt.feeRate)
						require.NoError(t, err)
						require.Len(t, res.Bullets, tt.count)

						broadcasted := chain.broadcasted()
						require.Len(t, broadcasted, 1)
						tx := broadcasted[0]
						require.Equal(t, res.Txid, tx.TxHash().String())
						require.Len(t, tx.TxIn, len(utxos))

						for i, bullet := range res.Bullets {
							require.Equal(t, i, bullet.Index)
							require.Equal(t, res.Txid, bullet.Txid)
							require.Equal(t, uint32(i), bullet.VOut)
							require.Equal(t, bulletValue, bullet.Amount)
							require.Equal(t, int64(bulletValue), tx.TxOut[i].Value)
						}

						if tt.withChange {
							require.Len(t, tx.TxOut, tt.count+1)
							require.GreaterOrEqual(t, res.Change, uint64(domain.DustLimit))
							require.Equal(t, int64(res.Change), tx.TxOut[tt.count].Value)
						} else {
							require.Len(t, tx.TxOut, tt.count)
							require.Zero(t, res.Change)
						}

						// conservation: bullets + fee + change == total
						total := domain.SumAmounts(utxos)
						require.Equal(t, total, bulletValue*uint64(tt.count)+res.Fee+res.Change)

						var totalOut uint64
						for _, out := range tx.TxOut {
							totalOut += uint64(out.Value)
						}
						require.Equal(t, res.Fee, total-totalOut)
					})
				}
			})

			t.Run("invalid", func(t *testing.T) {
				tests := []struct {
					name    string
					funding []uint64
					count   int
				}{
					{"no utxos", nil, 1},
					{"bullets exceed balance", []uint64{5_000}, 2},
					{"fee exceeds what is left", []uint64{5_800}, 2},
				}
				for _, tt := range tests {
					t.Run(tt.name, func(t *testing.T) {
						chain := newFakeChain()
						s := &splitter{builder: builder, chain: chain, signer: feeKey.signer}

						res, err := s.Split(ctx, fund(tt.funding...), script, 2_900, tt.count, 1)
						require.Error(t, err)
						require.True(t, errors.INSUFFICIENT_FUNDS.Is(err))
						require.Nil(t, res)
						require.Empty(t, chain.broadcasted())
					})
				}
			})
		})
	}
}

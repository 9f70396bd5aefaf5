package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type Outpoint struct {
	Txid string
	VOut uint32
}

func (k *Outpoint) FromString(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return fmt.Errorf("invalid outpoint string: %s", s)
	}
	k.Txid = parts[0]
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid vout string: %s", parts[1])
	}
	k.VOut = uint32(vout)
	return nil
}

func (k Outpoint) String() string {
	return fmt.Sprintf("%s:%d", k.Txid, k.VOut)
}

// Utxo is a spendable output as observed on chain. It is consumed exactly once.
type Utxo struct {
	Outpoint
	Amount        uint64
	Script        []byte
	Confirmations int64
}

func SumAmounts(utxos []Utxo) uint64 {
	var tot uint64
	for _, u := range utxos {
		tot += u.Amount
	}
	return tot
}

// FeeBullet is the output of the fee split tx reserved to fund a single transfer.
type FeeBullet struct {
	Utxo
	Index int
}

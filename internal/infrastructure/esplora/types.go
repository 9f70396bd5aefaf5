package esplora

type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

type utxo struct {
	Txid   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Value  uint64   `json:"value"`
	Status txStatus `json:"status"`
}

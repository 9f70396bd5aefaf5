package tracker

import "encoding/json"

type response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type collectionResponse struct {
	MinterAddr string `json:"minterAddr"`
	Metadata   struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"metadata"`
}

type nftUtxoResponse struct {
	Utxo *struct {
		Utxo struct {
			TxId        string `json:"txId"`
			OutputIndex uint32 `json:"outputIndex"`
			Satoshis    uint64 `json:"satoshis"`
			Script      string `json:"script"`
		} `json:"utxo"`
		TxoStateHashes []string `json:"txoStateHashes"`
		State          nftState `json:"state"`
	} `json:"utxo"`
}

// nftState carries the owner either as address (older trackers) or as
// ownerAddr. The local id is a decimal string or a json number.
type nftState struct {
	Address   string      `json:"address"`
	OwnerAddr string      `json:"ownerAddr"`
	LocalId   json.Number `json:"localId"`
}

func (s nftState) owner() string {
	if s.OwnerAddr != "" {
		return s.OwnerAddr
	}
	return s.Address
}

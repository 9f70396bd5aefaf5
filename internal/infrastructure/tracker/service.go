package tracker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const defaultTimeout = 30 * time.Second

type tracker struct {
	url        string
	httpClient *http.Client
}

// New creates a client of the CAT protocol tracker API at the given base URL.
func New(url string) ports.Tracker {
	return &tracker{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (t *tracker) GetCollectionInfo(
	ctx context.Context, collectionId string,
) (*domain.Collection, error) {
	endpoint := fmt.Sprintf("/api/collections/%s", collectionId)
	data, err := t.makeRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var resp collectionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		log.WithError(err).Warnf("tracker: invalid collection %s", collectionId)
		return nil, nil
	}

	return &domain.Collection{
		Id:         collectionId,
		MinterAddr: resp.MinterAddr,
		Name:       resp.Metadata.Name,
		Symbol:     resp.Metadata.Symbol,
	}, nil
}

func (t *tracker) GetNftUtxo(
	ctx context.Context, collectionId string, localId *big.Int,
) (*domain.AssetOutput, error) {
	endpoint := fmt.Sprintf("/api/collections/%s/localId/%s/utxo", collectionId, localId)
	data, err := t.makeRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var resp nftUtxoResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.Utxo == nil {
		log.WithError(err).Warnf("tracker: invalid utxo of nft %s", localId)
		return nil, nil
	}

	id, ok := new(big.Int).SetString(resp.Utxo.State.LocalId.String(), 10)
	if !ok {
		log.Warnf("tracker: invalid local id %q", resp.Utxo.State.LocalId)
		return nil, nil
	}
	script, err := hex.DecodeString(resp.Utxo.Utxo.Script)
	if err != nil {
		log.WithError(err).Warnf("tracker: invalid script of nft %s", localId)
		return nil, nil
	}

	return &domain.AssetOutput{
		Utxo: domain.Utxo{
			Outpoint: domain.Outpoint{
				Txid: resp.Utxo.Utxo.TxId,
				VOut: resp.Utxo.Utxo.OutputIndex,
			},
			Amount: resp.Utxo.Utxo.Satoshis,
			Script: script,
		},
		CollectionId: collectionId,
		LocalId:      id,
		OwnerAddr:    resp.Utxo.State.owner(),
	}, nil
}

// makeRequest returns the data field of a successful tracker response, nil
// for a lookup miss and a NETWORK_ERROR if the tracker can't be reached.
func (t *tracker) makeRequest(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errors.NETWORK_ERROR.Wrap(err).
			WithMetadata(errors.NetworkMetadata{Endpoint: endpoint})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NETWORK_ERROR.Wrap(err).
			WithMetadata(errors.NetworkMetadata{Endpoint: endpoint, Status: resp.StatusCode})
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, errors.NETWORK_ERROR.New("HTTP %d: %s", resp.StatusCode, string(body)).
			WithMetadata(errors.NetworkMetadata{Endpoint: endpoint, Status: resp.StatusCode})
	}
	if resp.StatusCode != http.StatusOK {
		log.Debugf("tracker: %s returned HTTP %d", endpoint, resp.StatusCode)
		return nil, nil
	}

	var envelope response
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.WithError(err).Warnf("tracker: invalid response from %s", endpoint)
		return nil, nil
	}
	if envelope.Code != 0 || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		log.Debugf("tracker: %s returned code %d: %s", endpoint, envelope.Code, envelope.Msg)
		return nil, nil
	}
	return envelope.Data, nil
}

package esplora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/pkg/errors"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"
)

const (
	tipHeightEndpoint = "/blocks/tip/height"
	defaultTimeout    = 30 * time.Second
)

// Service is both the utxo and the chain provider backed by an esplora API.
type Service struct {
	url        string
	network    *chaincfg.Params
	httpClient *http.Client
}

func New(url string, network *chaincfg.Params) (*Service, error) {
	if len(url) == 0 {
		return nil, fmt.Errorf("esplora URL is required")
	}
	return &Service{
		url:        strings.TrimSuffix(url, "/"),
		network:    network,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// GetUtxos returns the utxos of the address, largest first. The list is
// empty if their total is below minTotal.
func (s *Service) GetUtxos(
	ctx context.Context, address string, minTotal uint64,
) ([]domain.Utxo, error) {
	addr, err := btcutil.DecodeAddress(address, s.network)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/address/%s/utxo", address)
	body, err := s.makeRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp []utxo
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal utxos: %w", err)
	}

	tip := int64(0)
	utxos := make([]domain.Utxo, 0, len(resp))
	for _, u := range resp {
		var confirmations int64
		if u.Status.Confirmed {
			if tip == 0 {
				if tip, err = s.getTipHeight(ctx); err != nil {
					return nil, err
				}
			}
			confirmations = tip - u.Status.BlockHeight + 1
		}
		utxos = append(utxos, domain.Utxo{
			Outpoint:      domain.Outpoint{Txid: u.Txid, VOut: u.Vout},
			Amount:        u.Value,
			Script:        script,
			Confirmations: confirmations,
		})
	}
	sort.SliceStable(utxos, func(i, j int) bool {
		return utxos[i].Amount > utxos[j].Amount
	})

	if domain.SumAmounts(utxos) < minTotal {
		log.Debugf("esplora: %s owns less than %d sats", address, minTotal)
		return []domain.Utxo{}, nil
	}
	return utxos, nil
}

func (s *Service) Broadcast(ctx context.Context, txhex string) (string, error) {
	body, err := s.makeRequest(ctx, http.MethodPost, "/tx", strings.NewReader(txhex))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (s *Service) GetConfirmations(ctx context.Context, txid string) (int64, error) {
	body, err := s.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/tx/%s/status", txid), nil)
	if err != nil {
		return 0, err
	}

	var status txStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return 0, fmt.Errorf("failed to unmarshal tx status: %w", err)
	}
	if !status.Confirmed {
		return 0, nil
	}

	tip, err := s.getTipHeight(ctx)
	if err != nil {
		return 0, err
	}
	return tip - status.BlockHeight + 1, nil
}

func (s *Service) GetTxHex(ctx context.Context, txid string) (string, error) {
	body, err := s.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/tx/%s/hex", txid), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (s *Service) GetTipHeight(ctx context.Context) (int64, error) {
	return s.getTipHeight(ctx)
}

func (s *Service) getTipHeight(ctx context.Context) (int64, error) {
	body, err := s.makeRequest(ctx, http.MethodGet, tipHeightEndpoint, nil)
	if err != nil {
		return 0, err
	}
	tip, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tip height: %w", err)
	}
	return tip, nil
}

func (s *Service) makeRequest(
	ctx context.Context, method, endpoint string, body io.Reader,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.url+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.NETWORK_ERROR.Wrap(err).
			WithMetadata(errors.NetworkMetadata{Endpoint: endpoint})
	}
	// nolint:all
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NETWORK_ERROR.Wrap(err).
			WithMetadata(errors.NetworkMetadata{Endpoint: endpoint, Status: resp.StatusCode})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NETWORK_ERROR.New(
			"HTTP %d: %s", resp.StatusCode, string(bytes.TrimSpace(buf)),
		).WithMetadata(errors.NetworkMetadata{Endpoint: endpoint, Status: resp.StatusCode})
	}
	return buf, nil
}

package blockscheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const defaultTickerInterval = 10 * time.Second

// TipChain is a chain provider that also exposes the current tip height.
type TipChain interface {
	ports.ChainProvider
	GetTipHeight(ctx context.Context) (int64, error)
}

type Option func(*service)

func WithTickerInterval(interval time.Duration) Option {
	return func(s *service) {
		s.tickerInterval = interval
	}
}

type service struct {
	chain          TipChain
	tickerInterval time.Duration
}

// NewConfirmationWatcher returns a watcher that polls the chain tip and
// queries the tx status only when a new block shows up.
func NewConfirmationWatcher(chain TipChain, opts ...Option) (ports.ConfirmationWatcher, error) {
	if chain == nil {
		return nil, fmt.Errorf("missing chain provider")
	}

	svc := &service{chain: chain, tickerInterval: defaultTickerInterval}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.tickerInterval <= 0 {
		return nil, fmt.Errorf("ticker interval must be positive")
	}

	return svc, nil
}

func (s *service) WaitForConfirmation(ctx context.Context, txid string) error {
	ticker := time.NewTicker(s.tickerInterval)
	defer ticker.Stop()

	lastTip := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		tip, err := s.chain.GetTipHeight(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to fetch tip height")
			continue
		}
		if tip <= lastTip {
			continue
		}
		lastTip = tip

		log.Debugf("new block %d, checking confirmation of %s", tip, txid)
		confirmations, err := s.chain.GetConfirmations(ctx, txid)
		if err != nil {
			return fmt.Errorf("failed to get confirmations of %s: %w", txid, err)
		}
		if confirmations > 0 {
			log.Infof("tx %s confirmed at block %d", txid, tip)
			return nil
		}
	}
}

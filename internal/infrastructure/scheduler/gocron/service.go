package timescheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

const DefaultInterval = 15 * time.Second

type service struct {
	chain    ports.ChainProvider
	interval time.Duration
}

// NewConfirmationWatcher polls the chain every interval until the watched tx
// gets its first confirmation. There is no timeout.
func NewConfirmationWatcher(
	chain ports.ChainProvider, interval time.Duration,
) ports.ConfirmationWatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &service{chain, interval}
}

func (s *service) WaitForConfirmation(ctx context.Context, txid string) error {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	done := make(chan error, 1)
	var once sync.Once
	finish := func(err error) {
		once.Do(func() { done <- err })
	}

	if _, err := scheduler.Every(s.interval).WaitForSchedule().Do(func() {
		log.Debugf("polling confirmations of %s", txid)
		confirmations, err := s.chain.GetConfirmations(ctx, txid)
		if err != nil {
			finish(fmt.Errorf("failed to get confirmations of %s: %w", txid, err))
			return
		}
		if confirmations >= 1 {
			finish(nil)
		}
	}); err != nil {
		return err
	}

	scheduler.StartAsync()
	defer scheduler.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

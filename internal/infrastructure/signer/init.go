package signer

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
)

var initOnce sync.Once
var initErr error

// Init registers the network params so that WIFs and addresses of custom
// networks can be decoded. It must be called once before any key is parsed.
func Init(network *chaincfg.Params) error {
	initOnce.Do(func() {
		if err := chaincfg.Register(network); err != nil &&
			!errors.Is(err, chaincfg.ErrDuplicateNet) {
			initErr = err
		}
	})
	return initErr
}

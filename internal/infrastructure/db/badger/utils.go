package badgerdb

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/timshannon/badgerhold/v4"
	log "github.com/sirupsen/logrus"
)

const maxRetries = 5

// createDB opens a badgerhold store in dbDir, or in memory if dbDir is empty.
func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(30 * time.Minute)

		go func() {
			for {
				<-ticker.C
				if err := db.Badger().RunValueLogGC(0.5); err != nil &&
					!errors.Is(err, badger.ErrNoRewrite) {
					log.Error(err)
				}
			}
		}()
	}

	return db, nil
}

// upsert retries on transaction conflicts, concurrent transfers update the
// same store.
func upsert(store *badgerhold.Store, key, value interface{}) error {
	err := store.Upsert(key, value)
	for attempts := 1; errors.Is(err, badger.ErrConflict) && attempts <= maxRetries; attempts++ {
		time.Sleep(100 * time.Millisecond)
		err = store.Upsert(key, value)
	}
	return err
}

func parseConfig(config []interface{}) (string, badger.Logger, error) {
	if len(config) != 2 {
		return "", nil, errors.New("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return "", nil, errors.New("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return "", nil, errors.New("invalid logger")
		}
	}
	return baseDir, logger, nil
}

package application

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/domain"
	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// DefaultBulletVBytes is the vbyte budget of a single transfer (guard tx
	// plus send tx) the fee bullets are sized for.
	DefaultBulletVBytes = 2900
)

type Service interface {
	// Run executes one batch end to end. When a batch level prerequisite is
	// not met the run stops early with a message and no error.
	Run(ctx context.Context) (*BatchReport, error)
}

type Config struct {
	CollectionId string
	SourceFile   string
	FeeRate      uint64
	BulletVBytes uint64
	Network      *chaincfg.Params
	// Reporter receives the human readable progress of the batch.
	Reporter io.Writer
}

func (c Config) bulletValue() uint64 {
	vbytes := c.BulletVBytes
	if vbytes == 0 {
		vbytes = DefaultBulletVBytes
	}
	return vbytes * c.FeeRate
}

// ResolvedTransfer is a descriptor whose owner key has been matched against
// the declared source address and whose asset output has been found.
type ResolvedTransfer struct {
	Descriptor domain.TransferDescriptor
	Asset      domain.AssetOutput
	Signer     ports.Signer
	Match      domain.AddressMatch
}

type TransferResult struct {
	Line    int
	LocalId string
	Txid    string
	Err     error
}

func (r TransferResult) Succeeded() bool {
	return r.Err == nil
}

func (r TransferResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("  %s: [failed] %s", r.LocalId, r.Err)
	}
	return fmt.Sprintf("  %s: %s", r.LocalId, r.Txid)
}

type BatchReport struct {
	BatchId   string
	SplitTxid string
	Results   []TransferResult
	StartedAt time.Time
	EndedAt   time.Time
}

func (r *BatchReport) Succeeded() []TransferResult {
	return r.filter(true)
}

func (r *BatchReport) Failed() []TransferResult {
	return r.filter(false)
}

func (r *BatchReport) filter(succeeded bool) []TransferResult {
	results := make([]TransferResult, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Succeeded() == succeeded {
			results = append(results, res)
		}
	}
	return results
}

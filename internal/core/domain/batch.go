package domain

import (
	"time"

	"github.com/google/uuid"
)

type BatchStatus int

const (
	BatchCreated BatchStatus = iota
	BatchSplitBroadcast
	BatchFunded
	BatchCompleted
	BatchAborted
)

func (s BatchStatus) String() string {
	switch s {
	case BatchCreated:
		return "created"
	case BatchSplitBroadcast:
		return "split_broadcast"
	case BatchFunded:
		return "funded"
	case BatchCompleted:
		return "completed"
	case BatchAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type Batch struct {
	Id           string
	CollectionId string
	FeeAddress   string
	FeeRate      uint64
	BulletValue  uint64
	BulletCount  int
	SplitTxid    string
	Status       BatchStatus
	Succeeded    int
	Failed       int
	CreatedAt    int64
	UpdatedAt    int64
}

func NewBatch(collectionId, feeAddress string, feeRate uint64) Batch {
	now := time.Now().Unix()
	return Batch{
		Id:           uuid.New().String(),
		CollectionId: collectionId,
		FeeAddress:   feeAddress,
		FeeRate:      feeRate,
		Status:       BatchCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (b *Batch) SetStatus(status BatchStatus) {
	b.Status = status
	b.UpdatedAt = time.Now().Unix()
}

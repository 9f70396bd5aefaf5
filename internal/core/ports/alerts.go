package ports

import "context"

const (
	BatchCompleted Topic = "Batch Completed"
	GuardStranded  Topic = "Guard Stranded"
)

type Topic string

type Alerts interface {
	Publish(ctx context.Context, topic Topic, message interface{}) error
}

type BatchCompletedAlert struct {
	Id           string
	CollectionId string
	SplitTxid    string
	BulletValue  uint64
	Succeeded    []string
	Failed       map[string]string
	Duration     string
}

type GuardStrandedAlert struct {
	BatchId   string
	LocalId   string
	GuardTxid string
	Amount    uint64
	Reason    string
}

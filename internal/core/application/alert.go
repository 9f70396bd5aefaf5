package application

import (
	"context"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

func publishAlert(alerts ports.Alerts, topic ports.Topic, message any) {
	if alerts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := alerts.Publish(ctx, topic, message); err != nil {
		log.WithError(err).WithField("topic", topic).Warn("failed to publish alert")
	}
}

func (s *service) sendBatchAlert(collectionId string, report *BatchReport) {
	alert := ports.BatchCompletedAlert{
		Id:           report.BatchId,
		CollectionId: collectionId,
		SplitTxid:    report.SplitTxid,
		BulletValue:  s.cfg.bulletValue(),
		Succeeded:    make([]string, 0),
		Failed:       make(map[string]string),
		Duration:     report.EndedAt.Sub(report.StartedAt).Round(time.Second).String(),
	}
	for _, res := range report.Succeeded() {
		alert.Succeeded = append(alert.Succeeded, res.LocalId)
	}
	for _, res := range report.Failed() {
		alert.Failed[res.LocalId] = res.Err.Error()
	}
	publishAlert(s.alerts, ports.BatchCompleted, alert)
}

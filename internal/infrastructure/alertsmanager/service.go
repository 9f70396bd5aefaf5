package alertsmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/arkade-os/cat721-send/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	serviceName = "cat721-send"

	severityInfo    = "info"
	severityWarning = "warning"

	maxAttempts  = 5
	initialDelay = 100 * time.Millisecond
)

// Alert is the payload item accepted by the AlertManager v2 alerts endpoint.
type Alert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
}

type service struct {
	endpoint   string
	explorer   string
	httpClient *http.Client
}

func NewService(alertManagerURL, esploraURL string) ports.Alerts {
	return &service{
		endpoint:   alertManagerURL,
		explorer:   strings.TrimSuffix(esploraURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *service) Publish(ctx context.Context, topic ports.Topic, message any) error {
	alert, err := s.buildAlert(topic, message)
	if err != nil {
		return err
	}

	body, err := json.Marshal([]Alert{*alert})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	if err := s.post(ctx, body); err != nil {
		return fmt.Errorf("failed to publish %s alert: %w", topic, err)
	}
	return nil
}

func (s *service) buildAlert(topic ports.Topic, message any) (*Alert, error) {
	alert := &Alert{
		Labels: map[string]string{
			"alertname": string(topic),
			"service":   serviceName,
			"severity":  severityInfo,
		},
		Annotations: map[string]string{},
		StartsAt:    time.Now(),
	}

	var title, description string
	switch topic {
	case ports.BatchCompleted:
		m, ok := message.(ports.BatchCompletedAlert)
		if !ok {
			return nil, fmt.Errorf("invalid message type for %s: %T", topic, message)
		}
		title = "🎯 Batch Completed"
		description = s.describeBatch(m)
		alert.Labels["batch_id"] = m.Id
		alert.Labels["collection_id"] = m.CollectionId
		alert.Labels["txid"] = m.SplitTxid
	case ports.GuardStranded:
		m, ok := message.(ports.GuardStrandedAlert)
		if !ok {
			return nil, fmt.Errorf("invalid message type for %s: %T", topic, message)
		}
		title = "⚠️ Guard Stranded"
		description = s.describeStrandedGuard(m)
		alert.Labels["severity"] = severityWarning
		alert.Labels["batch_id"] = m.BatchId
		alert.Labels["txid"] = m.GuardTxid
	default:
		title = fmt.Sprintf("🔔 %s", topic)
		description = fmt.Sprintf("%+v", message)
	}

	alert.Annotations["firing_title"] = title
	alert.Annotations["description"] = description
	return alert, nil
}

// post delivers the payload, retrying with exponential backoff on transport
// errors and 5xx responses. 4xx responses are returned right away.
func (s *service) post(ctx context.Context, body []byte) error {
	delay := initialDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := s.do(ctx, body)
		switch {
		case err == nil && status/100 == 2:
			return nil
		case err == nil && status < 500:
			return fmt.Errorf("alertmanager replied with status %d", status)
		case err == nil:
			lastErr = fmt.Errorf("alertmanager replied with status %d", status)
		default:
			lastErr = err
		}

		if attempt == maxAttempts {
			break
		}
		log.WithError(lastErr).Debugf("alert delivery attempt %d failed, retrying", attempt)

		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

func (s *service) do(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *service) txLink(txid string) string {
	return fmt.Sprintf("%s/tx/%s", s.explorer, txid)
}

func (s *service) describeBatch(data ports.BatchCompletedAlert) string {
	var b strings.Builder
	fmt.Fprintln(&b, s.txLink(data.SplitTxid))
	fmt.Fprintf(&b, "\n*ID:* `%s`\n", data.Id)
	fmt.Fprintf(&b, "*Collection:* `%s`\n", data.CollectionId)
	fmt.Fprintln(&b, "\n*Breakdown:*")
	fmt.Fprintf(&b, "• Duration: %s\n", data.Duration)
	fmt.Fprintf(&b, "• Bullet value: %s\n", formatSats(data.BulletValue))
	fmt.Fprintf(&b, "• Transferred NFTs: %d\n", len(data.Succeeded))
	fmt.Fprintf(&b, "• Failed NFTs: %d", len(data.Failed))

	if len(data.Failed) == 0 {
		return b.String()
	}

	localIds := make([]string, 0, len(data.Failed))
	for localId := range data.Failed {
		localIds = append(localIds, localId)
	}
	sort.Strings(localIds)

	fmt.Fprint(&b, "\n\n*Failures:*")
	for _, localId := range localIds {
		fmt.Fprintf(&b, "\n• %s: %s", localId, data.Failed[localId])
	}
	return b.String()
}

func (s *service) describeStrandedGuard(data ports.GuardStrandedAlert) string {
	var b strings.Builder
	fmt.Fprintln(&b, s.txLink(data.GuardTxid))
	fmt.Fprintf(&b, "\n*Batch:* `%s`\n", data.BatchId)
	fmt.Fprintf(&b, "• NFT: %s\n", data.LocalId)
	fmt.Fprintf(&b, "• Locked in guard: %s\n", formatSats(data.Amount))
	fmt.Fprintf(&b, "• Reason: %s", data.Reason)
	return b.String()
}

// formatSats renders an amount as "N sats (X.XXXXXXXX FB)".
func formatSats(sats uint64) string {
	const satsPerCoin = 100_000_000
	frac := strings.TrimRight(fmt.Sprintf("%08d", sats%satsPerCoin), "0")
	if frac == "" {
		return fmt.Sprintf("%d sats (%d FB)", sats, sats/satsPerCoin)
	}
	return fmt.Sprintf("%d sats (%d.%s FB)", sats, sats/satsPerCoin, frac)
}

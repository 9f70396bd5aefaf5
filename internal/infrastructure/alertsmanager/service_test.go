package alertsmanager_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/arkade-os/cat721-send/internal/core/ports"
	"github.com/arkade-os/cat721-send/internal/infrastructure/alertsmanager"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	var received []alertsmanager.Alert
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// first attempt fails to exercise the retry
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	svc := alertsmanager.NewService(srv.URL, "https://mempool.space")
	ctx := context.Background()

	t.Run("guard stranded", func(t *testing.T) {
		err := svc.Publish(ctx, ports.GuardStranded, ports.GuardStrandedAlert{
			BatchId:   "batch",
			LocalId:   "7",
			GuardTxid: "aa",
			Amount:    332,
			Reason:    "broadcast failed",
		})
		require.NoError(t, err)
		require.Len(t, received, 1)
		require.Equal(t, string(ports.GuardStranded), received[0].Labels["alertname"])
		require.Equal(t, "aa", received[0].Labels["txid"])
		require.Contains(t, received[0].Annotations["description"], "broadcast failed")
		require.Contains(t, received[0].Annotations["description"], "332 sats (0.00000332 FB)")
		require.Equal(t, "warning", received[0].Labels["severity"])
	})

	t.Run("batch completed", func(t *testing.T) {
		err := svc.Publish(ctx, ports.BatchCompleted, ports.BatchCompletedAlert{
			Id:        "batch",
			SplitTxid: "bb",
			Succeeded: []string{"1", "2"},
			Failed:    map[string]string{"3": "nft utxo not loaded"},
		})
		require.NoError(t, err)
		require.Equal(t, "bb", received[0].Labels["txid"])
		require.Contains(t, received[0].Annotations["description"], "• 3: nft utxo not loaded")
	})

	t.Run("invalid message", func(t *testing.T) {
		err := svc.Publish(ctx, ports.BatchCompleted, "not an alert")
		require.Error(t, err)
	})
}

func TestPublishRejected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	svc := alertsmanager.NewService(srv.URL, "https://mempool.space/")
	err := svc.Publish(context.Background(), ports.GuardStranded, ports.GuardStrandedAlert{
		BatchId:   "batch",
		GuardTxid: "aa",
	})
	require.Error(t, err)
	// client errors are not retried
	require.Equal(t, int32(1), calls.Load())
}

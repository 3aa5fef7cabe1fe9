package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// startRelay spins up a disposable Redis container. Skipped when Docker is
// not available.
func startRelay(t *testing.T) *RedisRelay {
	t.Helper()
	ctx := context.Background()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	relay, err := NewRedisRelay(url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { relay.Close() })
	return relay
}

func TestRelayPublishAndTail(t *testing.T) {
	relay := startRelay(t)
	ctx := context.Background()

	relay.Publish(Event{Type: EventStageChanged, RunID: "run-a", Seq: 1, Payload: map[string]interface{}{"stage": "generating"}})
	relay.Publish(Event{Type: EventRunFinalized, RunID: "run-a", Seq: 2})
	relay.Publish(Event{Type: EventStageChanged, RunID: "run-b", Seq: 1})

	// Publishing is asynchronous; wait for both run-a events to land.
	require.Eventually(t, func() bool {
		events, err := relay.Tail(ctx, "run-a", 10)
		return err == nil && len(events) == 2
	}, 5*time.Second, 50*time.Millisecond)

	events, err := relay.Tail(ctx, "run-a", 10)
	require.NoError(t, err)
	require.Len(t, events, 2, "run streams must be isolated per run")

	require.Equal(t, EventStageChanged, events[0].Type)
	require.Equal(t, uint64(1), events[0].Seq)
	require.Equal(t, EventRunFinalized, events[1].Type)
	require.Equal(t, uint64(2), events[1].Seq)
}

func TestRelayPreservesPublishOrder(t *testing.T) {
	relay := startRelay(t)
	ctx := context.Background()

	const n = 20
	for i := 1; i <= n; i++ {
		relay.Publish(Event{Type: EventAgentFragment, RunID: "run-order", Seq: uint64(i)})
	}

	require.Eventually(t, func() bool {
		events, err := relay.Tail(ctx, "run-order", n)
		return err == nil && len(events) == n
	}, 5*time.Second, 50*time.Millisecond)

	events, err := relay.Tail(ctx, "run-order", n)
	require.NoError(t, err)
	for i, ev := range events {
		require.Equal(t, uint64(i+1), ev.Seq, "stream entries must follow publish order")
	}
}

func TestRelayTailEmptyRun(t *testing.T) {
	relay := startRelay(t)

	events, err := relay.Tail(context.Background(), "never-published", 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestRelayRejectsBadURL(t *testing.T) {
	_, err := NewRedisRelay("not-a-url", zap.NewNop())
	require.Error(t, err)
}
